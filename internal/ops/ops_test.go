package ops

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type fakeReports struct {
	mu      sync.Mutex
	running bool
	last    *reminder.PassReport
}

func (f *fakeReports) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeReports) LastReport() (reminder.PassReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return reminder.PassReport{}, false
	}
	return *f.last, true
}

type fakeSchedule struct{ snap scheduler.Snapshot }

func (f fakeSchedule) Snapshot() scheduler.Snapshot { return f.snap }

type captureSender struct {
	mu    sync.Mutex
	texts []string
	opts  []*kit.SendOptions
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.opts = append(c.opts, opt)
	return kit.MessageRef{}, nil
}

func request(s *captureSender) *router.Request {
	return &router.Request{Sender: s, Logger: logx.Nop(), Chat: kit.ChatTarget{ChatID: 1}}
}

func TestStatusWithoutPasses(t *testing.T) {
	t.Parallel()

	h := New(Deps{
		Reports:  &fakeReports{},
		Schedule: fakeSchedule{scheduler.Snapshot{Enabled: true, Schedule: "0 0 * * *", Timezone: "UTC", Next: time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)}},
		Location: utc,
	})
	s := &captureSender{}
	if err := h.status(context.Background(), request(s)); err != nil {
		t.Fatal(err)
	}
	text := s.texts[0]
	for _, want := range []string{"Reminder status", "0 0 * * * (UTC)", "Thu 06/02/2025 00:00", "No pass has run yet."} {
		if !strings.Contains(text, want) {
			t.Fatalf("status missing %q:\n%s", want, text)
		}
	}
	if s.opts[0].ReplyMarkupAdapter == nil {
		t.Fatal("status should carry the inline keyboard")
	}
}

func TestStatusWithReport(t *testing.T) {
	t.Parallel()

	rep := reminder.PassReport{
		PassID:            "abc",
		StartedAt:         time.Date(2025, 2, 5, 14, 30, 0, 0, time.UTC),
		Duration:          1500 * time.Millisecond,
		ItemsScanned:      12,
		ItemsDue:          2,
		ItemsAdvanced:     2,
		NotificationsSent: 4,
		Errors: []*reminder.PassError{
			{Kind: reminder.KindDeliver, ItemID: 1, Err: errors.New("blocked")},
		},
	}
	h := New(Deps{Reports: &fakeReports{last: &rep}, Location: utc})
	text := h.StatusMessage().Build().Text
	for _, want := range []string{"Wed 05/02/2025 14:30 (1.5s)", "<code>abc</code>", "<b>Scanned</b>: 12", "<b>Sent</b>: 4", "blocked"} {
		if !strings.Contains(text, want) {
			t.Fatalf("status missing %q:\n%s", want, text)
		}
	}
}

func TestRunPass(t *testing.T) {
	t.Parallel()

	reports := &fakeReports{}
	h := New(Deps{
		Reports:  reports,
		Location: utc,
		Trigger: func(context.Context) error {
			reports.mu.Lock()
			reports.last = &reminder.PassReport{PassID: "p9", ItemsDue: 1}
			reports.mu.Unlock()
			return nil
		},
	})
	s := &captureSender{}
	if err := h.runPass(context.Background(), request(s)); err != nil {
		t.Fatal(err)
	}
	if len(s.texts) != 2 || !strings.Contains(s.texts[0], "pass started") {
		t.Fatalf("texts = %q", s.texts)
	}
	if !strings.Contains(s.texts[1], "Pass finished") || !strings.Contains(s.texts[1], "p9") {
		t.Fatalf("result = %q", s.texts[1])
	}
}

func TestRunPassRefusedWhileRunning(t *testing.T) {
	t.Parallel()

	called := false
	h := New(Deps{
		Reports: &fakeReports{running: true},
		Trigger: func(context.Context) error { called = true; return nil },
	})
	s := &captureSender{}
	if err := h.runPass(context.Background(), request(s)); err != nil {
		t.Fatal(err)
	}
	if called || len(s.texts) != 1 || !strings.Contains(s.texts[0], "already running") {
		t.Fatalf("called=%v texts=%q", called, s.texts)
	}
}

func TestRunPassBusyFromTrigger(t *testing.T) {
	t.Parallel()

	h := New(Deps{
		Reports: &fakeReports{},
		Trigger: func(context.Context) error { return scheduler.ErrBusy },
	})
	s := &captureSender{}
	if err := h.runPass(context.Background(), request(s)); err != nil {
		t.Fatal(err)
	}
	if len(s.texts) != 2 || !strings.Contains(s.texts[1], "already running") {
		t.Fatalf("texts = %q", s.texts)
	}
}

func TestRunPassFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	h := New(Deps{Trigger: func(context.Context) error { return boom }})
	s := &captureSender{}
	if err := h.runPass(context.Background(), request(s)); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(s.texts[1], "Pass failed") || !strings.Contains(s.texts[1], "store down") {
		t.Fatalf("result = %q", s.texts[1])
	}
}

func TestIsBusy(t *testing.T) {
	t.Parallel()

	if !IsBusy(reminder.ErrPassInProgress) || !IsBusy(scheduler.ErrBusy) {
		t.Fatal("expected busy errors")
	}
	if IsBusy(nil) || IsBusy(errors.New("x")) {
		t.Fatal("unexpected busy")
	}
}

func TestCommandsAreOwnerOnly(t *testing.T) {
	t.Parallel()

	h := New(Deps{})
	for _, c := range h.Commands() {
		if c.Access != router.AccessOwnerOnly {
			t.Fatalf("%s should be owner only", c.Name)
		}
	}
	for _, c := range h.Callbacks() {
		if c.Access != router.AccessOwnerOnly || c.Scope != "ops" {
			t.Fatalf("callback %+v", c)
		}
	}
}

func utc() *time.Location { return time.UTC }
