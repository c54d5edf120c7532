package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/collage"
	"remindbot/internal/config"
	"remindbot/internal/observability/server"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("database.busy_timeout", cfg.Database.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return storage.Config{}, fmt.Errorf("database.dsn is required")
	}
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		DSN:          dsn,
		BusyTimeout:  busy,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, nil
}

func telegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  poll,
		ThumbnailURL: strings.TrimSpace(cfg.Telegram.ThumbnailURL),
	}, nil
}

func collageConfig(cfg *config.Config) (collage.Config, error) {
	fetch, err := config.ParseDurationOrDefault("collage.fetch_timeout", cfg.Collage.FetchTimeout, 10*time.Second)
	if err != nil {
		return collage.Config{}, err
	}
	return collage.Config{
		AvatarSize:   cfg.Collage.AvatarSize,
		Padding:      cfg.Collage.Padding,
		MaxColumns:   cfg.Collage.MaxColumns,
		FetchTimeout: fetch,
	}, nil
}

func engineConfig(cfg *config.Config) (reminder.Config, error) {
	r := cfg.Reminder
	loc, err := scheduler.LoadLocation(r.Timezone)
	if err != nil {
		return reminder.Config{}, err
	}
	call, err := config.ParseDurationField("reminder.call_timeout", r.CallTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	delivery, err := config.ParseDurationField("reminder.delivery_timeout", r.DeliveryTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		PageSize:            r.PageSize,
		ItemConcurrency:     r.ItemConcurrency,
		ClockAdvanceRetries: r.ClockAdvanceRetries,
		CallTimeout:         call,
		DeliveryTimeout:     delivery,
		Location:            loc,
		DateFormat:          r.DateFormat,
	}, nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:    cfg.Reminder.Enabled,
		Schedule:   cfg.Reminder.Schedule,
		Timezone:   cfg.Reminder.Timezone,
		RunOnStart: cfg.Reminder.RunOnStart,
	}
}

func serverConfig(cfg *config.Config) server.Config {
	o := cfg.Observability
	return server.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   10 * time.Second,
		// pprof profiles stream for up to 30s by default
		WriteTimeout: 60 * time.Second,
	}
}

// Migrate opens the configured database, which applies pending schema
// migrations, and reports the resulting version.
func Migrate(ctx context.Context, cfg *config.Config, log logx.Logger) (driver string, version int, err error) {
	sc, err := storageConfig(cfg)
	if err != nil {
		return "", 0, err
	}
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return "", 0, err
	}
	defer st.Close()
	return st.Driver(), st.SchemaVersion(), nil
}
