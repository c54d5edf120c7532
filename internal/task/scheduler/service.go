package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// ErrBusy is returned by RunNow while a run is in flight.
var ErrBusy = errors.New("scheduler: run in progress")

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	spec   ParsedSpec
	loc    *time.Location
	job    Job

	c       *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Pointer[string]
}

func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler: nil job")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		job: job,
	}
	if err := s.setConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the schedule and timezone of cfg. An empty schedule means
// DefaultSchedule.
func Validate(cfg Config) error {
	_, _, err := resolve(cfg)
	return err
}

func resolve(cfg Config) (ParsedSpec, *time.Location, error) {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return ParsedSpec{}, nil, err
	}
	if _, err := cronParser.Parse(spec.CronSpec()); err != nil {
		return ParsedSpec{}, nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return ParsedSpec{}, nil, err
	}
	return spec, loc, nil
}

func (s *Service) setConfig(cfg Config) error {
	spec, loc, err := resolve(cfg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	s.cfg, s.spec, s.loc = cfg, spec, loc
	return nil
}

// LoadLocation resolves an IANA name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Start begins triggering. A disabled service stays idle until Apply
// enables it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tick()
		}()
	}
}

func (s *Service) startLocked() {
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	id, err := s.c.AddFunc(s.spec.CronSpec(), s.tick)
	if err != nil {
		// Validated in setConfig.
		s.log.Error("schedule rejected", logx.String("spec", s.spec.CronSpec()), logx.Err(err))
	}
	s.entryID = id
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("spec", s.spec.CronSpec()),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.c.Entry(id).Next),
	)
}

// Apply swaps the schedule, timezone or enabled flag of a started service.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	if err := s.setConfig(cfg); err != nil {
		return err
	}
	if s.ctx == nil {
		return nil
	}
	if !cfg.Enabled {
		s.stopCronLocked()
		return nil
	}
	if s.c == nil || prev.Schedule != s.cfg.Schedule || prev.Timezone != s.cfg.Timezone {
		s.stopCronLocked()
		s.startLocked()
	}
	return nil
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	s.entryID = 0
}

// Stop halts triggering and waits for an in-flight run or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	var done <-chan struct{} = closedChan
	if c != nil {
		done = c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for run")
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (s *Service) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Service) tick() {
	if err := s.run(s.runCtx()); errors.Is(err, ErrBusy) {
		s.log.Warn("tick skipped: previous run still in progress")
	}
}

// RunNow triggers the job outside the schedule, honoring the single-flight
// guard.
func (s *Service) RunNow(ctx context.Context) error {
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return ErrBusy
	}
	defer s.running.Store(false)

	s.runs.Add(1)
	start := time.Now()
	err := s.job(ctx)
	if err != nil {
		s.failures.Add(1)
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.log.Error("scheduled run failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.lastErr.Store(nil)
	s.log.Debug("scheduled run done", logx.Duration("took", time.Since(start)))
	return nil
}

// Next is the next trigger time, zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Schedule: s.spec.CronSpec(),
		Timezone: s.loc.String(),
	}
	if s.c != nil {
		e := s.c.Entry(s.entryID)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Runs = s.runs.Load()
	snap.Skipped = s.skipped.Load()
	snap.Failures = s.failures.Load()
	if p := s.lastErr.Load(); p != nil {
		snap.LastErr = *p
	}
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
