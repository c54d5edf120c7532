package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/collage"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/observability/metrics"
	"remindbot/internal/observability/server"
	"remindbot/internal/ops"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// App owns every long-lived component of the bot.
type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	reg   *prometheus.Registry
	store *storage.Store

	adapter *telegram.Adapter
	engine  *reminder.Engine
	sched   *scheduler.Service
	disp    *router.Dispatcher
	ops     *ops.Handlers
	srv     *server.Service

	sup       *supervisor.Supervisor
	updates   chan kit.Update
	startedAt time.Time
}

// New builds the app from the committed config of cfgm. Nothing runs until
// Start; Close releases what New opened when Start is never called.
func New(ctx context.Context, cfgm *config.Manager) (_ *App, err error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	logs, log := logx.New(logConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logs,
		bus:     eventbus.New(),
		reg:     prometheus.NewRegistry(),
		updates: make(chan kit.Update, 256),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", a.store.Driver()), logx.Int("schema_version", a.store.SchemaVersion()))

	tc, err := telegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.adapter, err = telegram.New(tc, log); err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	ttl := config.MustDuration(cfg.Telegram.ResolveCacheTTL, 10*time.Minute)
	resolver := telegram.NewResolver(a.adapter, ttl)

	cc, err := collageConfig(cfg)
	if err != nil {
		return nil, err
	}
	renderer := collage.New(cc, collage.Mux{
		HTTP:     collage.NewHTTPSource(cc.FetchTimeout),
		Fallback: telegram.AvatarSource{Files: a.adapter},
	}, log.With(logx.String("comp", "collage")))

	sink, err := telegram.NewSink(a.adapter, a.adapter, cfg.Reminder.DeliveryRatePerSec, log)
	if err != nil {
		return nil, err
	}

	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.NewCollector(a.reg)

	ec, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.engine, err = reminder.New(ec, reminder.Deps{
		Store:     a.store,
		Resolver:  resolver,
		Renderer:  renderer,
		Sink:      sink,
		Thumbnail: a.adapter,
		Bus:       a.bus,
		Observer:  observer,
		Log:       log,
	}); err != nil {
		return nil, err
	}

	if a.sched, err = scheduler.New(schedulerConfig(cfg), a.runScheduledPass, log.With(logx.String("comp", "scheduler"))); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	a.ops = ops.New(ops.Deps{
		Reports:  a.engine,
		Schedule: a.sched,
		Trigger:  a.sched.RunNow,
		Location: a.engine.Location,
	})
	a.disp = router.NewDispatcher(a.adapter, cfg.Telegram.OwnerUserIDs, 4, log)
	a.srv = server.New(serverConfig(cfg), server.Deps{
		Gatherer: a.reg,
		Status:   func() any { return a.Status() },
		Health:   a.health,
	}, log.With(logx.String("comp", "ops.server")))
	return a, nil
}

func (a *App) runScheduledPass(ctx context.Context) error {
	_, err := a.engine.RunPass(ctx, time.Now())
	return err
}

// RunPass runs one pass outside the scheduler.
func (a *App) RunPass(ctx context.Context) (reminder.PassReport, error) {
	return a.engine.RunPass(ctx, time.Now())
}

func (a *App) health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		sc := serverConfig(cfg)
		if sc.Enabled && sc.Token == "" && !sc.AllowInsecure && !server.IsLoopback(sc.Addr) {
			return errors.New("observability.addr is not loopback; set observability.token or allow_insecure")
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.disp.Register(runCtx, a.ops.Commands(), a.ops.Callbacks())
	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	a.sched.Start(runCtx)
	if err := a.srv.Start(runCtx); err != nil {
		return fmt.Errorf("ops server: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started",
		logx.Bool("reminder.enabled", a.sched.Snapshot().Enabled),
		logx.String("ops.addr", a.srv.Addr()),
	)
	return nil
}

// applyConfig pushes a reloaded config into the live components. Sections
// that are wired at construction only log a restart hint.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload without effective changes")
		return
	}

	a.logs.Apply(logConfig(next))
	a.disp.SetOwners(next.Telegram.OwnerUserIDs)
	if err := a.sched.Apply(schedulerConfig(next)); err != nil {
		a.log.Warn("scheduler config rejected; keeping previous", logx.Err(err))
	} else if loc, err := scheduler.LoadLocation(next.Reminder.Timezone); err == nil {
		a.engine.SetLocation(loc)
	}
	if err := a.srv.Reconfigure(ctx, serverConfig(next)); err != nil {
		a.log.Warn("ops server reconfigure failed", logx.Err(err))
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot hold the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.sup.Cancel()

	a.step(ctx, "scheduler", stopScheduler, func(c context.Context) error { a.sched.Stop(c); return nil })
	// An item already dispatching runs on past cancellation and still needs
	// the sink and the database for its clock advance.
	a.step(ctx, "reminder.drain", a.engine.DrainBudget(), a.engine.WaitIdle)
	a.step(ctx, "ops.server", stopServer, a.srv.Stop)
	if a.adapter != nil {
		a.step(ctx, "telegram", stopTelegram, a.adapter.Stop)
	}
	a.step(ctx, "supervisor", stopSupervisor, a.sup.Wait)
	a.step(ctx, "storage", stopStorage, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

const (
	stopScheduler  = 3 * time.Second
	stopServer     = 2 * time.Second
	stopTelegram   = 3 * time.Second
	stopSupervisor = 2 * time.Second
	stopStorage    = time.Second
)

// StopTimeout is how long Stop can take when every step runs to its limit.
func (a *App) StopTimeout() time.Duration {
	return stopScheduler + a.engine.DrainBudget() + stopServer + stopTelegram + stopSupervisor + stopStorage
}

// Close releases storage and log sinks of an app that was never started.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close storage", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	err := runStep(ctx, limit, fn)
	took := time.Since(start)
	switch {
	case errors.Is(err, errStepTimeout):
		a.log.Warn("stop step deadline reached, continuing", logx.String("step", name), logx.Duration("took", took))
	case err != nil && !errors.Is(err, context.Canceled):
		a.log.Warn("stop step error", logx.String("step", name), logx.Err(err))
	default:
		a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", took))
	}
}

var errStepTimeout = errors.New("stop step timed out")

// runStep runs fn with at most limit (never beyond ctx's deadline). A panic
// in fn is returned as an error. fn keeps running in the background if it
// ignores its context.
func runStep(ctx context.Context, limit time.Duration, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(c)
	}()
	select {
	case err := <-done:
		return err
	case <-c.Done():
		return errStepTimeout
	}
}
