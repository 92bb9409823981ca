// Package app assembles the services into a running daemon: config, logging,
// storage, the pipeline components, the reply advisor and the delivery
// worker. Each service stays independently constructible; the app only wires
// them together.
package app

import (
	"context"
	"fmt"
	"time"

	"notiq/internal/config"
	"notiq/internal/contextfilter"
	"notiq/internal/dnd"
	"notiq/internal/eventbus"
	"notiq/internal/pipeline"
	"notiq/internal/queue"
	"notiq/internal/reply"
	"notiq/internal/sink"
	"notiq/internal/storage"
	"notiq/internal/worker"
	"notiq/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store

	filter *contextfilter.Filter
	dnd    *dnd.Scheduler
	queue  *queue.Queue
	pipe   *pipeline.Pipeline
	reply  *reply.Advisor
	worker *worker.Service

	cfgUpdates chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return c.Validate()
	})

	bus := eventbus.New()

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	sched := dnd.New(log.With(logx.String("comp", "dnd")),
		dnd.WithStore(store),
		dnd.WithBus(bus),
		dnd.WithFavorites(favoritesLookup(cfgm)),
	)

	focusDefer, err := config.ParseDurationField("filter.focus_defer", cfg.Filter.FocusDefer)
	if err != nil {
		return nil, err
	}
	filter := contextfilter.New(contextfilter.Config{
		SleepStartHour: cfg.Filter.SleepStartHour,
		SleepEndHour:   cfg.Filter.SleepEndHour,
		WorkStartHour:  cfg.Filter.WorkStartHour,
		WorkEndHour:    cfg.Filter.WorkEndHour,
		FocusDefer:     focusDefer,
		AppCategories:  appCategories(cfg.Filter.AppCategories),
	}, log.With(logx.String("comp", "filter")),
		contextfilter.WithFocusLookup(sched.ManualActive),
		contextfilter.WithKnownSenderLookup(contactsLookup(cfgm)),
	)

	smartFallback, err := config.ParseDurationField("queue.smart_fallback", cfg.Queue.SmartFallback)
	if err != nil {
		return nil, err
	}
	q := queue.New(queue.Config{
		PreferredHours: cfg.Queue.PreferredHours,
		SmartFallback:  smartFallback,
	}, log.With(logx.String("comp", "queue")),
		queue.WithStore(store),
		queue.WithBus(bus),
	)

	pipe := pipeline.New(filter, sched, q, log.With(logx.String("comp", "pipeline")), bus)
	advisor := reply.New(log.With(logx.String("comp", "reply")))

	snk, err := buildSink(cfg, log)
	if err != nil {
		return nil, err
	}
	wcfg, err := workerConfig(cfg)
	if err != nil {
		return nil, err
	}
	wrk := worker.New(wcfg, q, snk, log.With(logx.String("comp", "worker")), bus)

	return &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logs,
		bus:    bus,
		store:  store,
		filter: filter,
		dnd:    sched,
		queue:  q,
		pipe:   pipe,
		reply:  advisor,
		worker: wrk,
	}, nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}

func workerConfig(cfg *config.Config) (worker.Config, error) {
	retryBase, err := config.ParseDurationField("worker.retry_base", cfg.Worker.RetryBase)
	if err != nil {
		return worker.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("worker.retry_max_delay", cfg.Worker.RetryMaxDelay)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		Enabled:       cfg.Worker.Enabled,
		Cadence:       cfg.Worker.Cadence,
		RatePerSec:    cfg.Worker.RatePerSec,
		RetryMax:      cfg.Worker.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, nil
}

func buildSink(cfg *config.Config, log logx.Logger) (sink.Sink, error) {
	if cfg.Sink == nil || cfg.Sink.Kind == "" || cfg.Sink.Kind == "log" {
		return sink.NewLog(log.With(logx.String("comp", "sink"))), nil
	}
	if cfg.Sink.Kind != "telegram" {
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
	poll, err := config.ParseDurationOrDefault("sink.poll_timeout", cfg.Sink.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return sink.NewTelegram(sink.TelegramConfig{
		Token:       cfg.Sink.Token,
		Recipients:  cfg.Sink.Recipients,
		PollTimeout: poll,
	}, log.With(logx.String("comp", "sink")))
}

// favoritesLookup resolves ALLOW_FAVORITES membership from the live config.
func favoritesLookup(cfgm *config.Manager) dnd.FavoritesFunc {
	return func(userID, sender string) bool {
		cfg := cfgm.Get()
		if cfg == nil {
			return false
		}
		for _, f := range cfg.Users[userID].Favorites {
			if f == sender {
				return true
			}
		}
		return false
	}
}

func contactsLookup(cfgm *config.Manager) contextfilter.KnownSenderFunc {
	return func(userID, sender string) bool {
		cfg := cfgm.Get()
		if cfg == nil {
			return false
		}
		u := cfg.Users[userID]
		for _, c := range u.Contacts {
			if c == sender {
				return true
			}
		}
		for _, f := range u.Favorites {
			if f == sender {
				return true
			}
		}
		return false
	}
}

func appCategories(in map[string]string) map[string]contextfilter.AppCategory {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]contextfilter.AppCategory, len(in))
	for app, cat := range in {
		out[app] = contextfilter.AppCategory(cat)
	}
	return out
}

// Start hydrates persisted state and launches the background pieces.
func (a *App) Start(ctx context.Context) error {
	if err := a.dnd.Hydrate(ctx); err != nil {
		return err
	}
	if err := a.queue.Hydrate(ctx); err != nil {
		return err
	}

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch terminated", logx.Err(err))
		}
	}()

	a.cfgUpdates = a.cfgm.Subscribe(4)
	go a.applyUpdates(ctx)

	if err := a.worker.Start(ctx); err != nil {
		return err
	}
	a.log.Info("notiq started")
	return nil
}

// applyUpdates pushes hot-reloadable settings into running services.
func (a *App) applyUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgUpdates:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if wcfg, err := workerConfig(cfg); err == nil {
				a.worker.Apply(wcfg)
			} else {
				a.log.Warn("worker config not applied", logx.Err(err))
			}
			a.log.Info("config reloaded")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.worker.Stop(ctx)
	// One last drain so entries already due do not sit until the next boot.
	a.worker.FlushAll(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	a.log.Info("notiq stopped")
	return nil
}

// Accessors for the embedding layer (request handling is out of this repo's
// scope; callers compose these directly).

func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }
func (a *App) DND() *dnd.Scheduler          { return a.dnd }
func (a *App) Queue() *queue.Queue          { return a.queue }
func (a *App) Replies() *reply.Advisor      { return a.reply }
func (a *App) Bus() eventbus.Bus            { return a.bus }
