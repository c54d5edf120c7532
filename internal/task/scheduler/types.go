package scheduler

import (
	"context"
	"time"
)

// DefaultSchedule runs the pass daily at midnight.
const DefaultSchedule = "0 0 * * *"

type Config struct {
	Enabled    bool
	Schedule   string // cron, "@every 1m", "10m" or "HH:MM" interval
	Timezone   string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
	RunOnStart bool
}

// Job is the triggered work. The context is cancelled on Stop.
type Job func(ctx context.Context) error

type Snapshot struct {
	Enabled  bool      `json:"enabled"`
	Schedule string    `json:"schedule"`
	Timezone string    `json:"timezone"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
	Running  bool      `json:"running"`
	Runs     uint64    `json:"runs"`
	Skipped  uint64    `json:"skipped"`
	Failures uint64    `json:"failures"`
	LastErr  string    `json:"last_error,omitempty"`
}
