package config

import (
	"reflect"
	"strings"

	logx "remindbot/pkg/logx"
)

// Summarize lists the sections that differ between two configs plus log
// fields describing the new values. Secrets are reported only as set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.thumbnail_set", set(newCfg.Telegram.ThumbnailURL)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Database != newCfg.Database {
		changed = append(changed, "database")
		fields = append(fields, logx.String("database.driver", newCfg.Database.Driver))
	}
	if oldCfg.Reminder != newCfg.Reminder {
		changed = append(changed, "reminder")
		fields = append(fields,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.schedule", newCfg.Reminder.Schedule),
			logx.String("reminder.timezone", newCfg.Reminder.Timezone),
		)
	}
	if oldCfg.Collage != newCfg.Collage {
		changed = append(changed, "collage")
	}
	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
		fields = append(fields,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
			logx.Bool("observability.token_set", set(newCfg.Observability.Token)),
			logx.Bool("observability.pprof", newCfg.Observability.Pprof),
		)
	}
	return changed, fields
}

// RestartRequired reports sections whose changes only apply after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if oldCfg.Database != newCfg.Database {
		out = append(out, "database")
	}
	r0, r1 := oldCfg.Reminder, newCfg.Reminder
	r0.Enabled, r0.Schedule, r0.Timezone, r0.RunOnStart = r1.Enabled, r1.Schedule, r1.Timezone, r1.RunOnStart
	if r0 != r1 {
		out = append(out, "reminder")
	}
	if oldCfg.Collage != newCfg.Collage {
		out = append(out, "collage")
	}
	return out
}
