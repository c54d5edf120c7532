package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string resolved to a cron expression or a fixed
// interval. Accepted input:
//
//	"0 0 * * *", "@daily", "@every 1m"   cron (5 or 6 fields, descriptors)
//	"10m", "2h30m"                       interval as Go duration
//	"02:30"                              interval as HH:MM
//	"cron:...", "interval:...", "every:..."  force the kind
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
	// Source is "cron", "duration" or "hhmm".
	Source string
}

// CronSpec returns the expression handed to robfig/cron.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(prefix) {
		case "cron":
			if rest == "" {
				return ParsedSpec{}, errors.New("cron expression required after 'cron:'")
			}
			return cronSpec(rest), nil
		case "interval", "every":
			return intervalSpec(rest)
		}
	}
	if s[0] == '@' || strings.ContainsAny(s, " \t\r\n") {
		return cronSpec(s), nil
	}
	if p, err := intervalSpec(s); err == nil {
		return p, nil
	}
	return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
}

func cronSpec(expr string) ParsedSpec {
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}
}

func intervalSpec(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, errors.New("interval required")
	}
	p := ParsedSpec{Kind: SpecInterval, Source: "duration"}
	if d, ok, err := parseHHMM(v); ok {
		if err != nil {
			return ParsedSpec{}, err
		}
		p.Every, p.Source = d, "hhmm"
	} else {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or a Go duration like '55m')", v)
		}
		p.Every = d
	}
	if p.Every <= 0 {
		return ParsedSpec{}, errors.New("interval must be > 0")
	}
	return p, nil
}

// parseHHMM reports ok when v has the HH:MM shape (1-3 hour digits, two
// minute digits), and err when the minutes are out of range.
func parseHHMM(v string) (d time.Duration, ok bool, err error) {
	hs, ms, found := strings.Cut(v, ":")
	if !found || len(hs) == 0 || len(hs) > 3 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, false, nil
	}
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if m > 59 {
		return 0, true, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, true, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
