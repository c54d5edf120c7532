package app

import (
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/task/scheduler"
)

// Status is the body of the ops server's /status endpoint.
type Status struct {
	StartedAt     time.Time          `json:"started_at"`
	Uptime        string             `json:"uptime"`
	Database      string             `json:"database"`
	SchemaVersion int                `json:"schema_version"`
	PassRunning   bool               `json:"pass_running"`
	Schedule      scheduler.Snapshot `json:"schedule"`
	LastPass      *PassStatus        `json:"last_pass,omitempty"`
	EventsDropped uint64             `json:"events_dropped"`
	Goroutines    []supervisor.Stats `json:"goroutines,omitempty"`
}

// PassStatus is a PassReport with its errors rendered as strings.
type PassStatus struct {
	reminder.PassReport
	Errors []string `json:"errors,omitempty"`
}

func NewPassStatus(r reminder.PassReport) *PassStatus {
	return &PassStatus{PassReport: r, Errors: r.ErrorStrings()}
}

func (a *App) Status() Status {
	st := Status{
		StartedAt:     a.startedAt,
		Database:      a.store.Driver(),
		SchemaVersion: a.store.SchemaVersion(),
		PassRunning:   a.engine.Running(),
		Schedule:      a.sched.Snapshot(),
		EventsDropped: a.bus.Dropped(),
	}
	if !a.startedAt.IsZero() {
		st.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	if r, ok := a.engine.LastReport(); ok {
		st.LastPass = NewPassStatus(r)
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}
