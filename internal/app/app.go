package app

import (
	"context"
	"fmt"
	"time"

	"reelbot/internal/config"
	"reelbot/internal/ingest"
	"reelbot/internal/maintenance"
	"reelbot/internal/notifier"
	"reelbot/internal/push"
	rtsup "reelbot/internal/runtime/supervisor"
	"reelbot/internal/storage"
	kit "reelbot/internal/transport"
	telegram "reelbot/internal/transport/telegram/adapter"
	"reelbot/internal/transport/telegram/router"
	logx "reelbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   *storage.Handle
	beat    *storage.Heartbeat

	push   *push.Scheduler
	ingest *ingest.Batcher
	maint  *maintenance.Service
	notif  *notifier.Service
	router *router.Router

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set its target, then enable it,
	// so Apply does not warn about a missing target.
	logCfg := loggingConfig(cfg)
	enabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(cfg.GroupLogID(), cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = enabled
	logSvc.Apply(logCfg)

	a, err := build(ctx, cfgm, ad, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.logs = logSvc
	return a, nil
}

// build wires the components around an adapter. Tests call it with a fake
// adapter and a memory store.
func build(ctx context.Context, cfgm *config.ConfigManager, ad kit.Adapter, log logx.Logger) (*App, error) {
	cfg := cfgm.Get()
	storeLog := log.With(logx.String("comp", "storage"))
	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewHandle(ctx, storage.Opener(sc, storeLog), storeLog)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	notif := notifier.New(notifierConfig(cfg), ad, log)

	isOperator := func(id int64) bool { return cfgm.Get().IsOperator(id) }
	opRows := [][]kit.Control{maintenance.Controls()}

	pushSvc := push.New(push.Options{
		Store:        store,
		Sender:       ad,
		Settings:     func() push.Settings { return pushSettings(cfgm.Get()) },
		IsOperator:   isOperator,
		OperatorRows: opRows,
		Log:          log,
	})
	batcher := ingest.New(ingest.Options{
		Store:      store,
		Sender:     ad,
		IsOperator: isOperator,
		Cooldown:   func() time.Duration { return cfgm.Get().IngestCooldown() },
		Controls:   opRows,
		Log:        log,
	})
	maint := maintenance.New(maintenance.Options{
		Store:   store,
		Sender:  ad,
		TempDir: func() string { return cfgm.Get().Export.TempDir },
		Log:     log,
	})

	r := router.New(router.Options{Adapter: ad, Config: cfgm.Get, Log: log})
	r.SetRegistry(router.Registry(router.Services{
		Push:        pushSvc,
		Ingest:      batcher,
		Maintenance: maint,
		Catalog:     store,
		Failures:    notif,
	}))

	beat := storage.NewHeartbeat(store, log)
	beat.OnFailure = func(err error) {
		notif.Fail(context.Background(), kit.ChatTarget{}, "storage check failed", err)
	}

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		adapter: ad,
		store:   store,
		beat:    beat,
		push:    pushSvc,
		ingest:  batcher,
		maint:   maint,
		notif:   notif,
		router:  r,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app stops running (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	a.notif.Start(a.sup.Context())
	if err := a.beat.Start(a.cfgm.Get().PingInterval()); err != nil {
		return err
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Dispatch(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	a.step(ctx, "push", 3*time.Second, a.push.Stop)
	a.step(ctx, "ingest", 2*time.Second, a.ingest.Stop)
	a.step(ctx, "heartbeat", time.Second, func(c context.Context) error { a.beat.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, p)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
	}
}
