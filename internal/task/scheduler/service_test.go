package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	logx "remindbot/pkg/logx"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	noop := func(context.Context) error { return nil }
	if _, err := New(Config{}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for nil job")
	}
	if _, err := New(Config{Schedule: "61 * * * *"}, noop, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if _, err := New(Config{Timezone: "Mars/Olympus"}, noop, logx.Nop()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
	s, err := New(Config{}, noop, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Schedule; got != DefaultSchedule {
		t.Fatalf("default schedule = %q", got)
	}
}

func TestNextHonorsTimezone(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Enabled: true, Schedule: "0 0 * * *", Timezone: "Asia/Jakarta"}, func(context.Context) error { return nil }, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Next().IsZero() {
		t.Fatal("Next should be zero before Start")
	}
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	next := s.Next()
	loc, _ := time.LoadLocation("Asia/Jakarta")
	local := next.In(loc)
	if local.Hour() != 0 || local.Minute() != 0 || !next.After(time.Now()) {
		t.Fatalf("next = %v", local)
	}
}

func TestRunNowSingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	s, _ := New(Config{}, func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return nil
	}, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	<-entered

	if err := s.RunNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second RunNow = %v, want ErrBusy", err)
	}
	if snap := s.Snapshot(); !snap.Running || snap.Skipped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if snap := s.Snapshot(); snap.Running || snap.Runs != 1 {
		t.Fatalf("snapshot after = %+v", snap)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	s, _ := New(Config{}, func(context.Context) error { return boom }, logx.Nop())
	if err := s.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	snap := s.Snapshot()
	if snap.Failures != 1 || snap.LastErr != "boom" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunOnStartAndStopCancels(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cancelled := make(chan struct{})
	s, _ := New(Config{Enabled: true, RunOnStart: true}, func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, logx.Nop())
	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("run on start never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case <-cancelled:
	default:
		t.Fatal("job context was not cancelled by Stop")
	}
}

func TestIntervalTicks(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, _ := New(Config{Enabled: true, Schedule: "@every 1s"}, func(context.Context) error {
		calls.Add(1)
		return nil
	}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	deadline := time.After(3 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("interval never fired")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()

	s, _ := New(Config{Enabled: true, Schedule: "0 0 * * *", Timezone: "UTC"}, func(context.Context) error { return nil }, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	if err := s.Apply(Config{Enabled: true, Schedule: "bad schedule here", Timezone: "UTC"}); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
	if got := s.Snapshot().Schedule; got != "0 0 * * *" {
		t.Fatalf("schedule after rejected apply = %q", got)
	}

	if err := s.Apply(Config{Enabled: true, Schedule: "0 12 * * *", Timezone: "UTC"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Next().UTC().Hour(); got != 12 {
		t.Fatalf("next hour = %d, want 12", got)
	}

	if err := s.Apply(Config{Enabled: false, Schedule: "0 12 * * *", Timezone: "UTC"}); err != nil {
		t.Fatal(err)
	}
	if !s.Next().IsZero() {
		t.Fatal("disabled scheduler should have no next run")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "0 6 * * *", Timezone: "UTC"}); err != nil {
		t.Fatal(err)
	}
	if got := s.Next().UTC().Hour(); got != 6 {
		t.Fatalf("next hour after re-enable = %d, want 6", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "0 0 * * *", "interval:1h", "02:30", "@daily"} {
		if err := Validate(Config{Schedule: ok}); err != nil {
			t.Fatalf("Validate(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"61 * * * *", "every banana", "interval:-1m"} {
		if err := Validate(Config{Schedule: bad}); err == nil {
			t.Fatalf("Validate(%q) accepted", bad)
		}
	}
	if err := Validate(Config{Timezone: "Nowhere/City"}); err == nil {
		t.Fatalf("bad timezone accepted")
	}
}
