package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// Validate checks cfg without touching the network or the database.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set BOT_TOKEN)")
	}
	for _, id := range cfg.Telegram.OwnerUserIDs {
		if id <= 0 {
			add("telegram.owner_user_ids: invalid id %d", id)
		}
	}
	if u := strings.TrimSpace(cfg.Telegram.ThumbnailURL); u != "" {
		p, err := url.Parse(u)
		if err != nil || (p.Scheme != "http" && p.Scheme != "https") || p.Host == "" {
			add("telegram.thumbnail_url must be an http(s) URL")
		}
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok && strings.TrimSpace(cfg.Logging.Level) != "" {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "sqlite", "postgres":
	default:
		add("database.driver must be sqlite or postgres, got %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		add("database.dsn is required")
	}
	if cfg.Database.MaxOpenConns < 0 {
		add("database.max_open_conns must be >= 0")
	}

	r := cfg.Reminder
	if _, err := scheduler.ParseSchedule(r.Schedule); err != nil {
		add("reminder.schedule: %v", err)
	} else if err := scheduler.Validate(scheduler.Config{Schedule: r.Schedule}); err != nil {
		add("reminder.schedule: %v", err)
	}
	if _, err := scheduler.LoadLocation(r.Timezone); err != nil {
		add("reminder.timezone: %v", err)
	}
	if r.PageSize < 0 {
		add("reminder.page_size must be >= 0")
	}
	if r.ItemConcurrency < 0 {
		add("reminder.item_concurrency must be >= 0")
	}
	if r.DeliveryRatePerSec < 0 {
		add("reminder.delivery_rate_per_sec must be >= 0")
	}

	c := cfg.Collage
	if c.AvatarSize < 0 || c.Padding < 0 || c.MaxColumns < 0 {
		add("collage: sizes must be >= 0")
	}

	if cfg.Observability.Enabled && strings.TrimSpace(cfg.Observability.Addr) == "" {
		add("observability.addr is required when observability.enabled")
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":      cfg.Telegram.PollTimeout,
		"telegram.resolve_cache_ttl": cfg.Telegram.ResolveCacheTTL,
		"database.busy_timeout":      cfg.Database.BusyTimeout,
		"reminder.call_timeout":      r.CallTimeout,
		"reminder.delivery_timeout":  r.DeliveryTimeout,
		"collage.fetch_timeout":      c.FetchTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
