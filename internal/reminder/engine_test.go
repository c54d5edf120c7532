package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/eventbus"
)

// fakeStore is an in-memory ItemStore that applies the candidate filter and
// keyset pagination the SQL store uses.
type fakeStore struct {
	mu       sync.Mutex
	items    map[int64]WorkItem
	assigns  map[int64][]RecipientID
	projects map[int64]Project
	boards   map[int64]Board
	styles   map[int64]Style

	listErr     error
	assignErr   map[int64]error
	boardErr    error
	updateErrs  map[int64][]error
	listCalls   int
	updateCalls map[int64]int
	updates     map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:       map[int64]WorkItem{},
		assigns:     map[int64][]RecipientID{},
		projects:    map[int64]Project{},
		boards:      map[int64]Board{},
		styles:      map[int64]Style{},
		assignErr:   map[int64]error{},
		updateErrs:  map[int64][]error{},
		updateCalls: map[int64]int{},
		updates:     map[int64]time.Time{},
	}
}

func (s *fakeStore) add(w WorkItem, assignees ...RecipientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[w.ID] = w
	s.assigns[w.ID] = assignees
}

func (s *fakeStore) ListDueCandidates(_ context.Context, today time.Time, after int64, limit int) ([]WorkItem, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, after, s.listErr
	}
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []WorkItem
	next := after
	for _, id := range ids {
		w := s.items[id]
		if id <= after || !w.Active || w.ReminderIntervalDays == nil {
			continue
		}
		if w.StartDate.After(today) || w.EndDate.Before(today) {
			continue
		}
		out = append(out, w)
		next = id
		if len(out) == limit {
			break
		}
	}
	return out, next, nil
}

func (s *fakeStore) ListAssignments(_ context.Context, itemID int64) ([]RecipientID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assignErr[itemID]; err != nil {
		return nil, err
	}
	return append([]RecipientID(nil), s.assigns[itemID]...), nil
}

func (s *fakeStore) UpdateLastReminder(_ context.Context, itemID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls[itemID]++
	if errs := s.updateErrs[itemID]; len(errs) > 0 {
		err := errs[0]
		s.updateErrs[itemID] = errs[1:]
		return err
	}
	w, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("card %d: %w", itemID, ErrItemNotFound)
	}
	w.LastReminderDate = &at
	s.items[itemID] = w
	s.updates[itemID] = at
	return nil
}

func (s *fakeStore) FindProject(_ context.Context, id int64) (Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok, nil
}

func (s *fakeStore) FindBoard(_ context.Context, id int64) (Board, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boardErr != nil {
		return Board{}, false, s.boardErr
	}
	b, ok := s.boards[id]
	return b, ok, nil
}

func (s *fakeStore) FindStyle(_ context.Context, id int64) (Style, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.styles[id]
	return st, ok, nil
}

type fakeResolver struct {
	fail  map[RecipientID]bool
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, id RecipientID) (Recipient, error) {
	r.calls.Add(1)
	if r.fail[id] {
		return Recipient{}, errors.New("unknown user")
	}
	return Recipient{ID: id, DisplayName: "user-" + string(id), AvatarRef: "avatar-" + string(id)}, nil
}

type delivery struct {
	to RecipientID
	p  Payload
}

type fakeSink struct {
	mu    sync.Mutex
	got   []delivery
	fail  map[RecipientID]bool
	enter chan struct{}
	block chan struct{}
}

func (s *fakeSink) Deliver(_ context.Context, to RecipientID, p Payload) error {
	if s.enter != nil {
		select {
		case s.enter <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivery{to: to, p: p})
	if s.fail[to] {
		return errors.New("chat not found")
	}
	return nil
}

func (s *fakeSink) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.got...)
}

type fakeRenderer struct {
	mu   sync.Mutex
	refs [][]string
	err  error
}

func (r *fakeRenderer) Compose(_ context.Context, refs []string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, append([]string(nil), refs...))
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png"), nil
}

type fakeObserver struct {
	mu      sync.Mutex
	reports []PassReport
}

func (o *fakeObserver) ObservePass(r PassReport) {
	o.mu.Lock()
	o.reports = append(o.reports, r)
	o.mu.Unlock()
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dueItem(id int64) WorkItem {
	return WorkItem{
		ID:                   id,
		Name:                 fmt.Sprintf("task-%d", id),
		Active:               true,
		StartDate:            testNow.Add(-10 * day),
		EndDate:              testNow.Add(10 * day),
		ReminderIntervalDays: intp(1),
		ProjectID:            1,
		BoardID:              1,
	}
}

type harness struct {
	store    *fakeStore
	resolver *fakeResolver
	sink     *fakeSink
	renderer *fakeRenderer
	observer *fakeObserver
	engine   *Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		resolver: &fakeResolver{fail: map[RecipientID]bool{}},
		sink:     &fakeSink{fail: map[RecipientID]bool{}},
		renderer: &fakeRenderer{},
		observer: &fakeObserver{},
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ClockAdvanceBackoff == 0 {
		cfg.ClockAdvanceBackoff = time.Millisecond
	}
	e, err := New(cfg, Deps{
		Store:    h.store,
		Resolver: h.resolver,
		Renderer: h.renderer,
		Sink:     h.sink,
		Observer: h.observer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}

func TestRunPassPaginatesEveryCandidateOnce(t *testing.T) {
	t.Parallel()
	const pageSize = 3
	for _, n := range []int{0, 1, pageSize, pageSize + 1, 2 * pageSize} {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{PageSize: pageSize})
			for i := 1; i <= n; i++ {
				h.store.add(dueItem(int64(i*10)), "u1")
			}

			rep, err := h.engine.RunPass(context.Background(), testNow)
			if err != nil {
				t.Fatalf("RunPass: %v", err)
			}

			wantPages := (n + pageSize - 1) / pageSize
			if rep.PagesFetched != wantPages {
				t.Fatalf("PagesFetched = %d, want %d", rep.PagesFetched, wantPages)
			}
			wantCalls := wantPages
			if n%pageSize == 0 {
				wantCalls++ // the empty page that proves exhaustion
			}
			if h.store.listCalls != wantCalls {
				t.Fatalf("list calls = %d, want %d", h.store.listCalls, wantCalls)
			}
			if rep.ItemsScanned != n || rep.ItemsAdvanced != n {
				t.Fatalf("scanned=%d advanced=%d, want %d", rep.ItemsScanned, rep.ItemsAdvanced, n)
			}
			for i := 1; i <= n; i++ {
				if c := h.store.updateCalls[int64(i*10)]; c != 1 {
					t.Fatalf("item %d updated %d times, want 1", i*10, c)
				}
			}
			if got := len(h.sink.deliveries()); got != n {
				t.Fatalf("deliveries = %d, want %d", got, n)
			}
		})
	}
}

func TestRunPassEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	style := int64(5)
	last := testNow.Add(-3 * day)
	w := dueItem(42)
	w.ReminderIntervalDays = intp(3)
	w.LastReminderDate = &last
	w.ProjectID, w.BoardID, w.StyleID = 2, 3, &style
	h.store.add(w, "100", "200")
	h.store.projects[2] = Project{ID: 2, Name: "Apollo"}
	h.store.boards[3] = Board{ID: 3, Name: "Launch"}
	h.store.styles[5] = Style{ID: 5, Token: "FF0000"}

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.ItemsDue != 1 || rep.NotificationsSent != 2 || rep.ItemsAdvanced != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	got := h.sink.deliveries()
	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
	p := got[0].p
	if p.Title != "Apollo" || p.FieldValue("Board") != "Launch" || p.FieldValue("Task") != "task-42" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Color == nil || *p.Color != 16711680 {
		t.Fatalf("Color = %v, want 16711680", p.Color)
	}
	if p.FieldValue("Assigned Users") != "user-100, user-200" {
		t.Fatalf("Assigned Users = %q", p.FieldValue("Assigned Users"))
	}
	if p.Image == nil || p.Image.Name != CollageFileName {
		t.Fatalf("expected collage attachment, got %+v", p.Image)
	}
	if len(h.renderer.refs) != 1 || len(h.renderer.refs[0]) != 2 || h.renderer.refs[0][0] != "avatar-100" {
		t.Fatalf("renderer refs = %v", h.renderer.refs)
	}
	if at, ok := h.store.updates[42]; !ok || !at.Equal(testNow) {
		t.Fatalf("last reminder = %v (ok=%v), want %v", at, ok, testNow)
	}

	// Same instant again: elapsed is zero so nothing is re-sent.
	rep, err = h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	if rep.ItemsDue != 0 || len(h.sink.deliveries()) != 2 {
		t.Fatalf("second pass re-notified: %+v", rep)
	}
	if len(h.observer.reports) != 2 {
		t.Fatalf("observer saw %d reports, want 2", len(h.observer.reports))
	}
	if last, ok := h.engine.LastReport(); !ok || last.PassID != rep.PassID {
		t.Fatalf("LastReport = %+v, %v", last, ok)
	}
}

func TestRunPassLeavesNotDueItemsUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	last := testNow.Add(-4 * day)
	w := dueItem(1)
	w.ReminderIntervalDays = intp(5)
	w.LastReminderDate = &last
	h.store.add(w, "u1")

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.ItemsScanned != 1 || rep.ItemsDue != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if h.store.updateCalls[1] != 0 || len(h.sink.deliveries()) != 0 {
		t.Fatal("not-due item was touched")
	}
	if h.resolver.calls.Load() != 0 {
		t.Fatal("resolver called for not-due item")
	}
}

func TestRunPassSkipsUnresolvedRecipient(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a", "b", "c")
	h.resolver.fail["b"] = true

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	got := h.sink.deliveries()
	if len(got) != 2 {
		t.Fatalf("dispatch attempts = %d, want 2", len(got))
	}
	for _, d := range got {
		if d.to == "b" {
			t.Fatal("unresolved recipient received a delivery")
		}
		if d.p.FieldValue("Assigned Users") != "user-a, user-c" {
			t.Fatalf("Assigned Users = %q", d.p.FieldValue("Assigned Users"))
		}
	}
	if rep.RecipientsUnresolved != 1 || rep.ItemsAdvanced != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	var resolveErrs int
	for _, e := range rep.Errors {
		if IsKind(e, KindResolve) && e.Recipient == "b" {
			resolveErrs++
		}
	}
	if resolveErrs != 1 {
		t.Fatalf("resolve errors = %d, want 1 (%v)", resolveErrs, rep.ErrorStrings())
	}
}

func TestRunPassContinuesAfterDeliveryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a", "b", "c")
	h.store.add(dueItem(2), "d")
	h.sink.fail["a"] = true

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.NotificationsFailed != 1 || rep.NotificationsSent != 3 {
		t.Fatalf("sent=%d failed=%d, want 3/1", rep.NotificationsSent, rep.NotificationsFailed)
	}
	if len(h.sink.deliveries()) != 4 {
		t.Fatalf("dispatch attempts = %d, want 4", len(h.sink.deliveries()))
	}
	if h.store.updateCalls[1] != 1 || h.store.updateCalls[2] != 1 {
		t.Fatalf("update calls = %v, want one per item", h.store.updateCalls)
	}
}

func TestRunPassDegradesLookupsAndStyle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	style := int64(9)
	w := dueItem(1)
	w.StyleID = &style
	h.store.add(w, "a")
	h.store.boardErr = errors.New("board table locked")
	h.store.styles[9] = Style{ID: 9, Token: "notacolor"}

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	got := h.sink.deliveries()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	p := got[0].p
	if p.Title != UnknownProject || p.FieldValue("Board") != UnknownBoard {
		t.Fatalf("fallback names not applied: %q / %q", p.Title, p.FieldValue("Board"))
	}
	if p.Color != nil {
		t.Fatalf("Color = %d, want nil", *p.Color)
	}
	if rep.MalformedStyles != 1 || rep.ItemsAdvanced != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunPassSendsWithoutImageWhenRenderFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	h.renderer.err = errors.New("decode avatar")

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	got := h.sink.deliveries()
	if len(got) != 1 || got[0].p.Image != nil {
		t.Fatalf("expected one imageless delivery, got %+v", got)
	}
	if rep.RenderFailures != 1 {
		t.Fatalf("RenderFailures = %d, want 1", rep.RenderFailures)
	}
}

func TestRunPassNoRecipientsStillAdvances(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1))

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if len(h.renderer.refs) != 0 {
		t.Fatal("renderer called with no recipients")
	}
	if rep.ItemsAdvanced != 1 || len(h.sink.deliveries()) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunPassRetriesClockAdvance(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{ClockAdvanceRetries: 3})
	h.store.add(dueItem(1), "a")
	h.store.add(dueItem(2), "b")
	transient := errors.New("database is locked")
	h.store.updateErrs[1] = []error{transient, transient}
	h.store.updateErrs[2] = []error{transient, transient, transient, transient}

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if h.store.updateCalls[1] != 3 {
		t.Fatalf("item 1 update calls = %d, want 3", h.store.updateCalls[1])
	}
	if h.store.updateCalls[2] != 4 {
		t.Fatalf("item 2 update calls = %d, want 4", h.store.updateCalls[2])
	}
	if rep.ItemsAdvanced != 1 || rep.ClockAdvanceFailures != 1 {
		t.Fatalf("advanced=%d clockFail=%d", rep.ItemsAdvanced, rep.ClockAdvanceFailures)
	}
}

func TestRunPassDoesNotRetryVanishedItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{ClockAdvanceRetries: 3})
	h.store.add(dueItem(1), "a")
	h.store.updateErrs[1] = []error{fmt.Errorf("card 1: %w", ErrItemNotFound)}

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if h.store.updateCalls[1] != 1 {
		t.Fatalf("update calls = %d, want 1", h.store.updateCalls[1])
	}
	if rep.ClockAdvanceFailures != 1 {
		t.Fatalf("ClockAdvanceFailures = %d, want 1", rep.ClockAdvanceFailures)
	}
}

func TestRunPassFetchFailureAborts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	h.store.listErr = errors.New("connection refused")

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if !IsKind(err, KindFetch) {
		t.Fatalf("err = %v, want fetch PassError", err)
	}
	if !rep.Aborted || len(h.sink.deliveries()) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunPassAssignmentFailureAbortsWithoutAdvancing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	h.store.add(dueItem(2), "b")
	h.store.assignErr[1] = errors.New("timeout")

	rep, err := h.engine.RunPass(context.Background(), testNow)
	if !IsKind(err, KindFetch) {
		t.Fatalf("err = %v, want fetch PassError", err)
	}
	if !rep.Aborted {
		t.Fatal("expected aborted pass")
	}
	if h.store.updateCalls[1] != 0 {
		t.Fatal("item with failed assignment fetch was advanced")
	}
}

func TestRunPassRejectsOverlap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	h.sink.enter = make(chan struct{}, 1)
	h.sink.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.RunPass(context.Background(), testNow)
		done <- err
	}()

	select {
	case <-h.sink.enter:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never reached delivery")
	}
	if !h.engine.Running() {
		t.Fatal("Running() = false during pass")
	}
	if _, err := h.engine.RunPass(context.Background(), testNow); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("overlapping RunPass err = %v, want ErrPassInProgress", err)
	}
	close(h.sink.block)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if h.engine.Running() {
		t.Fatal("Running() = true after pass")
	}
}

func TestRunPassCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := h.engine.RunPass(ctx, testNow)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !rep.Aborted || h.store.listCalls != 0 {
		t.Fatalf("unexpected report: %+v (list calls %d)", rep, h.store.listCalls)
	}
}

func TestRunPassConcurrentItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{PageSize: 4, ItemConcurrency: 3})
	for i := int64(1); i <= 9; i++ {
		h.store.add(dueItem(i), RecipientID(fmt.Sprint(i)))
	}
	rep, err := h.engine.RunPass(context.Background(), testNow)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.ItemsAdvanced != 9 || rep.NotificationsSent != 9 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRunPassPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	store := newFakeStore()
	store.add(dueItem(1), "a")
	e, err := New(Config{Location: time.UTC}, Deps{
		Store:    store,
		Resolver: &fakeResolver{},
		Sink:     &fakeSink{},
		Bus:      bus,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.RunPass(context.Background(), testNow); err != nil {
		t.Fatalf("RunPass: %v", err)
	}

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", types)
		}
	}
	want := []string{EventPassStarted, EventItemNotified, EventPassFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New(Config{}, Deps{Store: newFakeStore(), Resolver: &fakeResolver{}}); err == nil {
		t.Fatal("expected error without sink")
	}
}

func TestSetLocationAppliesToNextPass(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Location: time.UTC})
	wib := time.FixedZone("WIB", 7*3600)

	// Midnight of the 11th in WIB is still the 10th in UTC.
	now := time.Date(2026, 3, 11, 0, 0, 0, 0, wib)
	last := now.Add(-2 * day)
	w := dueItem(7)
	w.StartDate = now
	w.LastReminderDate = &last
	h.store.add(w, "a")

	rep, err := h.engine.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.ItemsScanned != 0 {
		t.Fatalf("UTC pass scanned %d items, want 0", rep.ItemsScanned)
	}

	h.engine.SetLocation(wib)
	if h.engine.Location() != wib {
		t.Fatalf("Location() = %v", h.engine.Location())
	}
	rep, err = h.engine.RunPass(context.Background(), now)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if rep.ItemsDue != 1 || rep.NotificationsSent != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	got := h.sink.deliveries()[0].p.FieldValue("Start Date")
	if want := now.Format(DefaultDateFormat); got != want {
		t.Fatalf("Start Date = %q, want %q", got, want)
	}

	h.engine.SetLocation(nil)
	if h.engine.Location() != time.Local {
		t.Fatalf("SetLocation(nil) = %v, want Local", h.engine.Location())
	}
}

func TestWaitIdleFollowsInFlightItem(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.store.add(dueItem(1), "a")
	h.sink.enter = make(chan struct{}, 1)
	h.sink.block = make(chan struct{})

	if err := h.engine.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle on idle engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.engine.RunPass(ctx, testNow)
		done <- err
	}()
	select {
	case <-h.sink.enter:
	case <-time.After(2 * time.Second):
		t.Fatal("pass never reached delivery")
	}
	cancel()

	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if err := h.engine.WaitIdle(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle mid-delivery = %v, want deadline exceeded", err)
	}

	close(h.sink.block)
	if err := h.engine.WaitIdle(context.Background()); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	<-done
	if _, ok := h.store.updates[1]; !ok {
		t.Fatal("in-flight item was not advanced after cancellation")
	}
}

func TestDrainBudgetCoversDeliveryAndRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{
		CallTimeout:         time.Second,
		DeliveryTimeout:     10 * time.Second,
		ClockAdvanceRetries: 2,
		ClockAdvanceBackoff: 100 * time.Millisecond,
	})
	// 3 calls + delivery + 300ms backoff + 3 writes
	if got, want := h.engine.DrainBudget(), 16*time.Second+300*time.Millisecond; got != want {
		t.Fatalf("DrainBudget = %v, want %v", got, want)
	}
}
