package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindo/internal/bot"
	"remindo/internal/config"
	"remindo/internal/delivery"
	"remindo/internal/eventbus"
	"remindo/internal/notes"
	"remindo/internal/reminder/scheduler"
	rtsup "remindo/internal/runtime/supervisor"
	"remindo/internal/storage"
	"remindo/internal/transport"
	"remindo/internal/transport/telegram"
	"remindo/internal/tz"
	logx "remindo/pkg/logx"
)

// App wires config, storage, the Telegram adapter, the scheduler core and
// the command router together and owns their lifecycle.
type App struct {
	cfgMgr *config.Manager
	logs   *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	zones   *tz.Resolver
	adapter *telegram.Adapter
	gw      *delivery.Gateway
	core    *scheduler.Core
	notes   *notes.Service
	router  *bot.Router

	cron    *cron.Cron
	updates chan transport.Update
	sup     *rtsup.Supervisor

	pruneAfter time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logs: logs, log: log, bus: eventbus.New()}
	if err := a.build(cfg); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	zones, err := tz.NewResolver(store, cfg.Scheduler.DefaultOffset, a.log.With(logx.String("comp", "tz")))
	if err != nil {
		return err
	}
	a.zones = zones

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	sendTimeout, err := config.ParseDurationOrDefault("delivery.send_timeout", cfg.Delivery.SendTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	rate := cfg.Delivery.RatePerSec
	if rate <= 0 {
		rate = 3
	}
	a.gw = delivery.New(adapter, delivery.Config{
		RatePerSec:  float64(rate),
		SendTimeout: sendTimeout,
	}, a.log.With(logx.String("comp", "delivery")))

	retryBase, err := config.ParseDurationOrDefault("scheduler.retry_base", cfg.Scheduler.RetryBase, 2*time.Second)
	if err != nil {
		return err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("scheduler.retry_max_delay", cfg.Scheduler.RetryMaxDelay, time.Minute)
	if err != nil {
		return err
	}
	a.core = scheduler.New(store, a.gw, zones, a.bus, scheduler.Config{
		RetryMax:      cfg.Scheduler.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, a.log.With(logx.String("comp", "scheduler")))

	a.notes = notes.NewService(store, a.log.With(logx.String("comp", "notes")))
	a.router = bot.NewRouter(adapter, a.gw, store, a.core, zones, a.notes,
		a.log.With(logx.String("comp", "router")))

	a.pruneAfter, err = config.ParseDurationOrDefault("scheduler.prune_after", cfg.Scheduler.PruneAfter, 30*24*time.Hour)
	if err != nil {
		return err
	}

	buf := cfg.Telegram.UpdateBuffer
	if buf <= 0 {
		buf = 256
	}
	a.updates = make(chan transport.Update, buf)
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(false),
	)
	runCtx := a.sup.Context()

	if err := a.core.Start(runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Config file watching: logging changes apply live, everything else
	// needs a restart and is logged as such.
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgMgr.Watch(c)
	})
	cfgCh := a.cfgMgr.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgMgr.Unsubscribe(cfgCh)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-cfgCh:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				})
				a.log.Info("logging config applied; other sections take effect on restart")
			}
		}
	})

	// Reminder lifecycle events, logged centrally so the scheduler stays
	// free of presentation concerns.
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.startCron()

	a.log.Info("started")
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	re, ok := e.Data.(eventbus.ReminderEvent)
	if !ok {
		return
	}
	fields := []logx.Field{
		logx.Int64("reminder_id", re.ReminderID),
		logx.Int64("chat_id", re.ChatID),
		logx.Time("at", re.At),
	}
	if re.Attempt > 0 {
		fields = append(fields, logx.Int("attempt", re.Attempt))
	}
	if re.Error != "" {
		fields = append(fields, logx.String("err", re.Error))
	}
	switch e.Type {
	case eventbus.TypeReminderFired:
		a.log.Info("reminder fired", fields...)
	case eventbus.TypeReminderMissed:
		a.log.Warn("reminder missed while offline, delivering now", fields...)
	case eventbus.TypeReminderRetry:
		a.log.Debug("reminder delivery retrying", fields...)
	case eventbus.TypeReminderFailed:
		a.log.Warn("reminder permanently failed", fields...)
	}
}

// startCron schedules the nightly prune of terminal reminder rows.
func (a *App) startCron() {
	spec := a.cfgMgr.Get().Scheduler.PruneSpec
	if spec == "" {
		spec = "0 4 * * *"
	}
	a.cron = cron.New()
	_, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.store.PruneReminders(ctx, time.Now().UTC().Add(-a.pruneAfter))
		if err != nil {
			a.log.Warn("prune reminders", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("pruned terminal reminders", logx.Int64("rows", n))
		}
	})
	if err != nil {
		a.log.Warn("invalid prune_spec, nightly prune disabled", logx.String("spec", spec), logx.Err(err))
		return
	}
	a.cron.Start()
}

// Done closes when a supervised component failed fatally.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
		case <-c.Done():
		}
		return nil
	})
	step("scheduler", 3*time.Second, func(c context.Context) error { return a.core.Stop(c) })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
