package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     string
		kind   SpecKind
		cron   string
		every  time.Duration
		source string
	}{
		{"0 0 * * *", SpecCron, "0 0 * * *", 0, "cron"},
		{"*/5 * * * *", SpecCron, "*/5 * * * *", 0, "cron"},
		{"@every 1m", SpecCron, "@every 1m", 0, "cron"},
		{"@daily", SpecCron, "@daily", 0, "cron"},
		{"cron:@hourly", SpecCron, "@hourly", 0, "cron"},
		{"10m", SpecInterval, "", 10 * time.Minute, "duration"},
		{"02:30", SpecInterval, "", 2*time.Hour + 30*time.Minute, "hhmm"},
		{"every:00:50", SpecInterval, "", 50 * time.Minute, "hhmm"},
		{"interval:2h", SpecInterval, "", 2 * time.Hour, "duration"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSchedule(tc.in)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
			}
			if got.Kind != tc.kind || got.Cron != tc.cron || got.Every != tc.every || got.Source != tc.source {
				t.Fatalf("ParseSchedule(%q) = %+v", tc.in, got)
			}
		})
	}
}

func TestParseScheduleErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  ", "cron:", "interval:", "nonsense", "-5m", "00:00", "01:75"} {
		if _, err := ParseSchedule(in); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", in)
		}
	}
}

func TestCronSpec(t *testing.T) {
	t.Parallel()

	p, _ := ParseSchedule("90s")
	if got := p.CronSpec(); got != "@every 1m30s" {
		t.Fatalf("CronSpec = %q", got)
	}
	p, _ = ParseSchedule("0 0 * * *")
	if got := p.CronSpec(); got != "0 0 * * *" {
		t.Fatalf("CronSpec = %q", got)
	}
}
