package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("10s", "1m") checked by Validate.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Database      DatabaseConfig      `json:"database"`
	Reminder      ReminderConfig      `json:"reminder"`
	Collage       CollageConfig       `json:"collage"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`

	// ThumbnailURL is shown as the link preview of text-only reminders.
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	ResolveCacheTTL string `json:"resolve_cache_ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DatabaseConfig selects the store. Driver is "sqlite" (DSN is a file path)
// or "postgres" (DSN is a postgres:// URL).
type DatabaseConfig struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

type ReminderConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule"`
	Timezone   string `json:"timezone"`
	RunOnStart bool   `json:"run_on_start,omitempty"`

	PageSize            int     `json:"page_size"`
	ItemConcurrency     int     `json:"item_concurrency"`
	ClockAdvanceRetries int     `json:"clock_advance_retries"`
	CallTimeout         string  `json:"call_timeout,omitempty"`
	DeliveryTimeout     string  `json:"delivery_timeout"`
	DeliveryRatePerSec  float64 `json:"delivery_rate_per_sec"`
	DateFormat          string  `json:"date_format,omitempty"`
}

type CollageConfig struct {
	AvatarSize   int    `json:"avatar_size"`
	Padding      int    `json:"padding"`
	MaxColumns   int    `json:"max_columns"`
	FetchTimeout string `json:"fetch_timeout"`
}

// ObservabilityConfig controls the ops HTTP server. A non-loopback Addr
// needs Token or AllowInsecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof"`
}

// Default is the configuration every file is decoded on top of.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeout: "10s", ResolveCacheTTL: "10m"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./data/remindbot.db", BusyTimeout: "5s"},
		Reminder: ReminderConfig{
			Enabled:             true,
			Schedule:            "0 0 * * *",
			PageSize:            100,
			ItemConcurrency:     4,
			ClockAdvanceRetries: 3,
			DeliveryTimeout:     "15s",
			DeliveryRatePerSec:  20,
			DateFormat:          "Mon 02/01/2006 15:04",
		},
		Collage: CollageConfig{AvatarSize: 32, Padding: 10, MaxColumns: 5, FetchTimeout: "10s"},
		Observability: ObservabilityConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}
