// Package app wires configuration, storage, the sweep engine, the notifier,
// and the HTTP surface into one runnable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"focusgate/internal/config"
	"focusgate/internal/engine"
	"focusgate/internal/httpapi"
	"focusgate/internal/notifier"
	"focusgate/internal/storage"
	"focusgate/internal/transport"
	"focusgate/internal/transport/telegram"
	logx "focusgate/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager

	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	notifier *notifier.Service
	engine   *engine.Service
	api      *httpapi.Server

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// New loads the config file and builds every component. Nothing is started
// yet; Run does that.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})
	if err := validate(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var pusher transport.Pusher
	if cfg.Push != nil && cfg.Push.Enabled && cfg.Push.Token != "" {
		timeout, _ := config.ParseDurationOrDefault("push.timeout", cfg.Push.Timeout, 10*time.Second)
		p, err := telegram.New(telegram.Config{Token: cfg.Push.Token, Timeout: timeout},
			log.With(logx.String("comp", "push")))
		if err != nil {
			// Push is a fallback channel; a broken token should not keep
			// the whole service down.
			log.Warn("push channel disabled", logx.Err(err))
		} else {
			pusher = p
		}
	}

	hub := notifier.NewHub()
	ncfg, _ := notifierConfig(cfg)
	notif := notifier.New(ncfg, hub, pusher, store, log)

	ecfg, _ := engineConfig(cfg)
	eng := engine.New(ecfg, store, notif, log)

	api := httpapi.New(serverConfig(cfg), store, hub, log.With(logx.String("comp", "http")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		notifier: notif,
		engine:   eng,
		api:      api,
	}, nil
}

// validate rejects configs whose duration strings don't parse, so a bad
// hot-reload never reaches the components.
func validate(cfg *config.Config) error {
	if _, err := engineConfig(cfg); err != nil {
		return err
	}
	if _, err := notifierConfig(cfg); err != nil {
		return err
	}
	if cfg.Push != nil {
		if _, err := config.ParseDurationField("push.timeout", cfg.Push.Timeout); err != nil {
			return err
		}
	}
	if _, err := serverTimeouts(cfg); err != nil {
		return err
	}
	return nil
}

func storageConfig(cfg *config.Config) storage.Config {
	out := storage.Config{Driver: "sqlite", Path: "./focusgate.db"}
	if cfg.Storage == nil {
		return out
	}
	if cfg.Storage.Driver != "" {
		out.Driver = cfg.Storage.Driver
	}
	if cfg.Storage.Path != "" {
		out.Path = cfg.Storage.Path
	}
	if d, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err == nil {
		out.BusyTimeout = d
	}
	return out
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, AutoCreateSessions: true}
	e := cfg.Engine
	if e == nil {
		return out, nil
	}
	out.Enabled = e.Enabled
	interval, err := config.ParseDurationOrDefault("engine.interval", e.Interval, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	out.Interval = interval
	if e.AutoCreateSessions != nil {
		out.AutoCreateSessions = *e.AutoCreateSessions
	}
	return out, nil
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{Enabled: true}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.Enabled
	out.Workers = n.Workers
	out.QueueSize = n.QueueSize
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax
	out.DedupMaxEntries = n.DedupMaxEntries

	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return out, err
	}
	return out, nil
}

type timeouts struct {
	read, write, idle time.Duration
}

func serverTimeouts(cfg *config.Config) (timeouts, error) {
	var t timeouts
	var err error
	if t.read, err = config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout); err != nil {
		return t, err
	}
	if t.write, err = config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout); err != nil {
		return t, err
	}
	if t.idle, err = config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout); err != nil {
		return t, err
	}
	return t, nil
}

func serverConfig(cfg *config.Config) httpapi.Config {
	t, _ := serverTimeouts(cfg)
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  t.read,
		WriteTimeout: t.write,
		IdleTimeout:  t.idle,
	}
}

// Start brings components up in dependency order: notifier first so the
// engine's first sweep can publish, the HTTP surface last.
func (a *App) Start(ctx context.Context) error {
	a.notifier.Start(ctx)
	if err := a.engine.Start(ctx); err != nil {
		a.notifier.Stop(ctx)
		return err
	}
	if err := a.api.Start(ctx); err != nil {
		a.engine.Stop(ctx)
		a.notifier.Stop(ctx)
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	go a.reloadLoop(watchCtx)

	a.log.Info("focusgate started")
	return nil
}

// reloadLoop re-applies the hot-reloadable parts of a changed config:
// logging and notifier settings. Addr, storage, and engine cadence need a
// restart.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if ncfg, err := notifierConfig(cfg); err == nil {
				a.notifier.Apply(ncfg)
			}
			a.log.Info("config reloaded")
		}
	}
}

// Stop shuts down in reverse start order. The HTTP surface goes first so no
// new work arrives while the engine and notifier drain.
func (a *App) Stop(ctx context.Context) {
	if a.watchCancel != nil {
		a.watchCancel()
		select {
		case <-a.watchDone:
		case <-ctx.Done():
		}
	}

	a.api.Stop(ctx)
	a.engine.Stop(ctx)
	a.notifier.Stop(ctx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("focusgate stopped")
	_ = a.logSvc.Close()
}
