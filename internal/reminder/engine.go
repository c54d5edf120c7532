package reminder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const (
	EventPassStarted  = "reminder.pass.started"
	EventPassFinished = "reminder.pass.finished"
	EventItemNotified = "reminder.item.notified"
)

const (
	defaultPageSize      = 100
	defaultClockRetries  = 3
	defaultClockBackoff  = 200 * time.Millisecond
	defaultCallTimeout   = 15 * time.Second
	defaultDeliveryLimit = 15 * time.Second
)

// Config tunes a pass. Zero values fall back to defaults.
type Config struct {
	PageSize        int
	ItemConcurrency int
	// ClockAdvanceRetries is the number of retries after the first write;
	// negative disables retrying.
	ClockAdvanceRetries int
	ClockAdvanceBackoff time.Duration
	// CallTimeout bounds each resolve and compose call.
	CallTimeout     time.Duration
	DeliveryTimeout time.Duration
	Location        *time.Location
	DateFormat      string
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.ItemConcurrency <= 0 {
		c.ItemConcurrency = 1
	}
	if c.ClockAdvanceRetries < 0 {
		c.ClockAdvanceRetries = 0
	} else if c.ClockAdvanceRetries == 0 {
		c.ClockAdvanceRetries = defaultClockRetries
	}
	if c.ClockAdvanceBackoff <= 0 {
		c.ClockAdvanceBackoff = defaultClockBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = defaultDeliveryLimit
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.DateFormat == "" {
		c.DateFormat = DefaultDateFormat
	}
	return c
}

// PassObserver receives every finished report (metrics hook).
type PassObserver interface {
	ObservePass(r PassReport)
}

// Deps are the collaborators of an Engine. Renderer, Thumbnail, Bus and
// Observer are optional.
type Deps struct {
	Store     ItemStore
	Resolver  IdentityResolver
	Renderer  CollageRenderer
	Sink      NotificationSink
	Thumbnail ThumbnailProvider
	Bus       eventbus.Bus
	Observer  PassObserver
	Log       logx.Logger
}

// Engine evaluates due items and notifies their assignees. At most one pass
// runs at a time per Engine.
type Engine struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	loc  atomic.Pointer[time.Location]

	running atomic.Bool

	mu   sync.RWMutex
	last *PassReport
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("reminder: store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("reminder: resolver is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("reminder: sink is required")
	}
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.String("comp", "reminder")),
	}
	e.loc.Store(cfg.Location)
	return e, nil
}

// SetLocation replaces the zone used for "today" and payload dates. A pass
// already running keeps the zone it started with.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	e.loc.Store(loc)
}

// Location returns the zone the next pass will use.
func (e *Engine) Location() *time.Location { return e.loc.Load() }

// Running reports whether a pass is in flight.
func (e *Engine) Running() bool { return e.running.Load() }

// WaitIdle blocks until no pass is running or ctx is done.
func (e *Engine) WaitIdle(ctx context.Context) error {
	if !e.Running() {
		return nil
	}
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if !e.Running() {
				return nil
			}
		}
	}
}

// DrainBudget bounds how long an item that has started dispatching can take
// to finish, including every clock advance retry.
func (e *Engine) DrainBudget() time.Duration {
	c := e.cfg
	n := time.Duration(c.ClockAdvanceRetries)
	backoff := c.ClockAdvanceBackoff * n * (n + 1) / 2
	return 3*c.CallTimeout + c.DeliveryTimeout + backoff + (n+1)*c.CallTimeout
}

// LastReport returns the most recent finished pass.
func (e *Engine) LastReport() (PassReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return PassReport{}, false
	}
	return *e.last, true
}

// RunPass performs one evaluation pass at now. A second call while a pass is
// running returns ErrPassInProgress. The returned error is non-nil only when
// the pass could not start or was aborted by a fetch failure or cancellation;
// item-local failures are reported in PassReport.Errors.
func (e *Engine) RunPass(ctx context.Context, now time.Time) (PassReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PassReport{}, ErrPassInProgress
	}
	defer e.running.Store(false)

	rep := PassReport{PassID: uuid.NewString(), StartedAt: now}
	log := e.log.With(logx.String("pass_id", rep.PassID))
	start := time.Now()
	e.publish(EventPassStarted, map[string]any{"pass_id": rep.PassID})
	log.Debug("pass started", logx.Time("now", now))

	passErr := e.scan(ctx, now, e.Location(), &rep, log)

	rep.Duration = time.Since(start)
	e.finish(rep)

	fields := []logx.Field{
		logx.Int("pages", rep.PagesFetched),
		logx.Int("scanned", rep.ItemsScanned),
		logx.Int("due", rep.ItemsDue),
		logx.Int("advanced", rep.ItemsAdvanced),
		logx.Int("sent", rep.NotificationsSent),
		logx.Int("failed", rep.NotificationsFailed),
		logx.Duration("took", rep.Duration),
	}
	if passErr != nil {
		log.Warn("pass aborted", append(fields, logx.Err(passErr))...)
	} else {
		log.Info("pass finished", fields...)
	}
	return rep, passErr
}

// passScope is what every item of one pass shares.
type passScope struct {
	now   time.Time
	thumb string
	pb    payloadBuilder
}

func (e *Engine) scan(ctx context.Context, now time.Time, loc *time.Location, rep *PassReport, log logx.Logger) error {
	today := StartOfDay(now, loc)
	ps := passScope{
		now: now,
		pb:  payloadBuilder{dateFormat: e.cfg.DateFormat, loc: loc},
	}
	if e.deps.Thumbnail != nil {
		ps.thumb = e.deps.Thumbnail.ThumbnailRef(ctx)
	}

	after := int64(math.MinInt64)
	for {
		if err := ctx.Err(); err != nil {
			rep.Aborted = true
			return err
		}
		items, next, err := e.deps.Store.ListDueCandidates(ctx, today, after, e.cfg.PageSize)
		if err != nil {
			rep.Aborted = true
			pe := &PassError{Kind: KindFetch, Err: err}
			rep.Errors = append(rep.Errors, pe)
			return pe
		}
		if len(items) == 0 {
			return nil
		}
		rep.PagesFetched++
		rep.ItemsScanned += len(items)

		if err := e.processPage(ctx, items, ps, rep, log); err != nil {
			rep.Aborted = true
			return err
		}
		if len(items) < e.cfg.PageSize {
			return nil
		}
		after = next
	}
}

// processPage runs items with bounded concurrency. A sub-query failure stops
// scheduling further items; items already started run to completion.
func (e *Engine) processPage(ctx context.Context, items []WorkItem, ps passScope, rep *PassReport, log logx.Logger) error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		abortErr error
	)
	sem := make(chan struct{}, e.cfg.ItemConcurrency)

	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return abortErr != nil
	}

	for _, it := range items {
		sem <- struct{}{}
		if stopped() || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(w WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			ir, err := e.processItem(ctx, w, ps, log)
			mu.Lock()
			rep.merge(ir)
			if err != nil && abortErr == nil {
				abortErr = err
			}
			mu.Unlock()
		}(it)
	}
	wg.Wait()

	if abortErr != nil {
		return abortErr
	}
	return ctx.Err()
}

func (e *Engine) processItem(ctx context.Context, w WorkItem, ps passScope, log logx.Logger) (ir itemResult, abortErr error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			ir.errs = append(ir.errs, &PassError{Kind: KindPanic, ItemID: w.ID, Err: err})
			log.Error("item panicked", logx.Int64("item", w.ID), logx.Err(err), logx.String("stack", string(debug.Stack())))
		}
	}()

	if !IsDue(w, ps.now, ps.pb.loc) {
		return ir, nil
	}
	ir.due = true
	ilog := log.With(logx.Int64("item", w.ID))

	ids, err := e.deps.Store.ListAssignments(ctx, w.ID)
	if err != nil {
		pe := &PassError{Kind: KindFetch, ItemID: w.ID, Err: err}
		ir.errs = append(ir.errs, pe)
		return ir, pe
	}

	// Once dispatch starts the item runs to completion, even on shutdown.
	work := context.WithoutCancel(ctx)

	ic := itemContext{item: w, thumbnail: ps.thumb, now: ps.now}
	ic.projectName, ic.boardName = e.lookupNames(work, w, &ir, ilog)
	ic.color = e.lookupColor(work, w, &ir, ilog)
	ic.recipients = e.resolveAll(work, w.ID, ids, &ir, ilog)

	if len(ic.recipients) > 0 && e.deps.Renderer != nil {
		refs := make([]string, len(ic.recipients))
		for i, r := range ic.recipients {
			refs[i] = r.AvatarRef
		}
		cctx, cancel := context.WithTimeout(work, e.cfg.CallTimeout)
		img, err := e.deps.Renderer.Compose(cctx, refs)
		cancel()
		if err != nil {
			ir.renderFail = true
			ir.errs = append(ir.errs, &PassError{Kind: KindRender, ItemID: w.ID, Err: err})
			ilog.Warn("collage failed, sending without image", logx.Err(err))
		} else {
			ic.collage = img
		}
	}

	payload := ps.pb.build(ic)
	e.deliverAll(work, payload, ic.recipients, &ir, ilog)

	if err := e.advance(work, w.ID, ps.now, ilog); err != nil {
		ir.clockFail = true
		ir.errs = append(ir.errs, &PassError{Kind: KindClockAdvance, ItemID: w.ID, Err: err})
	} else {
		ir.advanced = true
	}

	e.publish(EventItemNotified, map[string]any{
		"item":     w.ID,
		"sent":     ir.sent,
		"failed":   ir.failed,
		"advanced": ir.advanced,
	})
	return ir, nil
}

func (e *Engine) lookupNames(ctx context.Context, w WorkItem, ir *itemResult, log logx.Logger) (project, board string) {
	project, board = UnknownProject, UnknownBoard

	if p, ok, err := e.deps.Store.FindProject(ctx, w.ProjectID); err != nil {
		ir.errs = append(ir.errs, &PassError{Kind: KindLookup, ItemID: w.ID, Err: fmt.Errorf("project %d: %w", w.ProjectID, err)})
		log.Warn("project lookup failed", logx.Int64("project", w.ProjectID), logx.Err(err))
	} else if ok && p.Name != "" {
		project = p.Name
	}

	if b, ok, err := e.deps.Store.FindBoard(ctx, w.BoardID); err != nil {
		ir.errs = append(ir.errs, &PassError{Kind: KindLookup, ItemID: w.ID, Err: fmt.Errorf("board %d: %w", w.BoardID, err)})
		log.Warn("board lookup failed", logx.Int64("board", w.BoardID), logx.Err(err))
	} else if ok && b.Name != "" {
		board = b.Name
	}
	return project, board
}

func (e *Engine) lookupColor(ctx context.Context, w WorkItem, ir *itemResult, log logx.Logger) *int {
	if w.StyleID == nil {
		return nil
	}
	st, ok, err := e.deps.Store.FindStyle(ctx, *w.StyleID)
	if err != nil {
		ir.errs = append(ir.errs, &PassError{Kind: KindLookup, ItemID: w.ID, Err: fmt.Errorf("style %d: %w", *w.StyleID, err)})
		log.Warn("style lookup failed", logx.Int64("style", *w.StyleID), logx.Err(err))
		return nil
	}
	if !ok {
		return nil
	}
	c, err := ParseColor(st.Token)
	if err != nil {
		ir.badStyle = true
		ir.errs = append(ir.errs, &PassError{Kind: KindStyle, ItemID: w.ID, Err: err})
		log.Warn("malformed style token", logx.String("token", st.Token))
		return nil
	}
	return &c
}

// resolveAll resolves every assignee concurrently and returns the successes
// in assignment order.
func (e *Engine) resolveAll(ctx context.Context, itemID int64, ids []RecipientID, ir *itemResult, log logx.Logger) []Recipient {
	type slot struct {
		rec Recipient
		err error
	}
	slots := make([]slot, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id RecipientID) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slots[i].err = fmt.Errorf("panic: %v", r)
				}
			}()
			rctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
			rec, err := e.deps.Resolver.Resolve(rctx, id)
			if err == nil && rec.ID == "" {
				rec.ID = id
			}
			slots[i] = slot{rec: rec, err: err}
		}(i, id)
	}
	wg.Wait()

	out := make([]Recipient, 0, len(ids))
	for i, s := range slots {
		if s.err != nil {
			ir.unresolved++
			ir.errs = append(ir.errs, &PassError{Kind: KindResolve, ItemID: itemID, Recipient: ids[i], Err: s.err})
			log.Warn("recipient unresolved", logx.String("recipient", string(ids[i])), logx.Err(s.err))
			continue
		}
		out = append(out, s.rec)
	}
	return out
}

func (e *Engine) deliverAll(ctx context.Context, p Payload, to []Recipient, ir *itemResult, log logx.Logger) {
	errs := make([]error, len(to))

	var wg sync.WaitGroup
	for i, r := range to {
		wg.Add(1)
		go func(i int, id RecipientID) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("panic: %v", rec)
				}
			}()
			dctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
			defer cancel()
			errs[i] = e.deps.Sink.Deliver(dctx, id, p)
		}(i, r.ID)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			ir.sent++
			continue
		}
		ir.failed++
		ir.errs = append(ir.errs, &PassError{Kind: KindDeliver, ItemID: p.ItemID, Recipient: to[i].ID, Err: err})
		log.Warn("delivery failed", logx.String("recipient", string(to[i].ID)), logx.Err(err))
	}
}

// advance writes the new clock with bounded retries. A vanished item is not
// retried.
func (e *Engine) advance(ctx context.Context, itemID int64, at time.Time, log logx.Logger) error {
	var err error
	for attempt := 0; attempt <= e.cfg.ClockAdvanceRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * e.cfg.ClockAdvanceBackoff)
			<-t.C
		}
		err = e.deps.Store.UpdateLastReminder(ctx, itemID, at)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrItemNotFound) {
			log.Warn("item vanished before clock advance", logx.Err(err))
			return err
		}
		log.Warn("clock advance failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	log.Error("clock advance gave up; item will be re-notified next pass", logx.Err(err))
	return err
}

func (e *Engine) finish(rep PassReport) {
	e.mu.Lock()
	cp := rep
	e.last = &cp
	e.mu.Unlock()

	if e.deps.Observer != nil {
		e.deps.Observer.ObservePass(rep)
	}
	e.publish(EventPassFinished, rep)
}

func (e *Engine) publish(typ string, data any) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
