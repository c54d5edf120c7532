// Package ops provides the owner-only Telegram commands for operating the
// reminder engine: /status and /runpass, plus their inline buttons.
package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport/telegram/router"
	"remindbot/pkg/tgui"
)

const scope = "ops"

// Reports exposes the engine's pass state.
type Reports interface {
	Running() bool
	LastReport() (reminder.PassReport, bool)
}

// Schedule exposes the trigger state.
type Schedule interface {
	Snapshot() scheduler.Snapshot
}

type Deps struct {
	Reports  Reports
	Schedule Schedule
	// Trigger runs one pass now and blocks until it finishes.
	Trigger func(ctx context.Context) error
	// Location returns the zone used to print times. It is read on every
	// reply so a timezone reload shows up without a restart.
	Location func() *time.Location
}

type Handlers struct {
	d Deps
}

func New(d Deps) *Handlers {
	if d.Location == nil {
		d.Location = func() *time.Location { return time.Local }
	}
	return &Handlers{d: d}
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "status",
			Description: "last reminder pass and next run",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      h.status,
		},
		{
			Name:        "runpass",
			Aliases:     []string{"run"},
			Description: "run a reminder pass now",
			Access:      router.AccessOwnerOnly,
			Timeout:     30 * time.Minute,
			Handle:      h.runPass,
		},
	}
}

func (h *Handlers) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: scope, Action: "status", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: h.status},
		{Scope: scope, Action: "runpass", Access: router.AccessOwnerOnly, Timeout: 30 * time.Minute, Handle: h.runPass},
	}
}

func (h *Handlers) keyboard() *tgui.Inline {
	run, _ := tgui.Data(scope, "runpass", "")
	refresh, _ := tgui.Data(scope, "status", "")
	return tgui.NewInline().Row(tgui.Btn("▶️ Run pass", run), tgui.Btn("🔄 Refresh", refresh))
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	msg := h.StatusMessage().Inline(h.keyboard()).Build()
	_, err := msg.Send(ctx, req.Sender, req.Chat)
	return err
}

// StatusMessage renders the current engine and schedule state.
func (h *Handlers) StatusMessage() *tgui.Builder {
	b := tgui.New().Title("📋", "Reminder status")
	if h.d.Reports != nil && h.d.Reports.Running() {
		b.Line("⏳ a pass is running")
	}
	if h.d.Schedule != nil {
		s := h.d.Schedule.Snapshot()
		if s.Enabled {
			b.KV("Schedule", s.Schedule+" ("+s.Timezone+")")
			if !s.Next.IsZero() {
				b.KV("Next run", h.fmtTime(s.Next))
			}
		} else {
			b.KV("Schedule", "disabled")
		}
		if s.Skipped > 0 {
			b.KV("Skipped ticks", fmt.Sprint(s.Skipped))
		}
	}

	var rep reminder.PassReport
	ok := false
	if h.d.Reports != nil {
		rep, ok = h.d.Reports.LastReport()
	}
	if !ok {
		return b.Blank().Line("No pass has run yet.")
	}
	b.Blank()
	appendReport(b, rep, h.fmtTime(rep.StartedAt))
	return b
}

func appendReport(b *tgui.Builder, rep reminder.PassReport, started string) {
	b.KV("Last pass", started+" ("+rep.Duration.Round(time.Millisecond).String()+")")
	b.RawLine("• " + tgui.B("Pass ID").String() + ": " + tgui.Code(rep.PassID).String())
	b.KVs(
		[2]string{"Scanned", fmt.Sprint(rep.ItemsScanned)},
		[2]string{"Due", fmt.Sprint(rep.ItemsDue)},
		[2]string{"Advanced", fmt.Sprint(rep.ItemsAdvanced)},
	)
	b.KVs(
		[2]string{"Sent", fmt.Sprint(rep.NotificationsSent)},
		[2]string{"Failed", fmt.Sprint(rep.NotificationsFailed)},
		[2]string{"Unresolved", fmt.Sprint(rep.RecipientsUnresolved)},
	)
	if rep.RenderFailures+rep.MalformedStyles+rep.ClockAdvanceFailures > 0 {
		b.KVs(
			[2]string{"Render failures", fmt.Sprint(rep.RenderFailures)},
			[2]string{"Bad styles", fmt.Sprint(rep.MalformedStyles)},
			[2]string{"Clock failures", fmt.Sprint(rep.ClockAdvanceFailures)},
		)
	}
	if rep.Aborted {
		b.Line("⚠️ pass aborted")
	}
	errs := rep.ErrorStrings()
	for i, e := range errs {
		if i == 3 {
			b.Line(fmt.Sprintf("… %d more", len(errs)-3))
			break
		}
		b.Line("• " + tgui.TruncRunes(e, 200))
	}
}

func (h *Handlers) fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(h.d.Location()).Format(reminder.DefaultDateFormat)
}

func (h *Handlers) runPass(ctx context.Context, req *router.Request) error {
	if h.d.Trigger == nil {
		return req.Reply(ctx, "manual passes are not available", nil)
	}
	if h.d.Reports != nil && h.d.Reports.Running() {
		return req.Reply(ctx, "⏳ a pass is already running", nil)
	}
	if err := req.Reply(ctx, "▶️ pass started", nil); err != nil {
		return err
	}

	err := h.d.Trigger(ctx)
	if IsBusy(err) {
		return req.Reply(ctx, "⏳ a pass is already running", nil)
	}

	b := tgui.New()
	if err != nil {
		b.Title("⚠️", "Pass failed").Line(err.Error())
	} else {
		b.Title("✅", "Pass finished")
	}
	if h.d.Reports != nil {
		if rep, ok := h.d.Reports.LastReport(); ok {
			appendReport(b, rep, h.fmtTime(rep.StartedAt))
		}
	}
	_, serr := b.Inline(h.keyboard()).Build().Send(ctx, req.Sender, req.Chat)
	return errors.Join(err, serr)
}

// IsBusy reports whether err means a pass was already in flight.
func IsBusy(err error) bool {
	return errors.Is(err, reminder.ErrPassInProgress) || errors.Is(err, scheduler.ErrBusy)
}
