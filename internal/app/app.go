package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"msgnotify/internal/aggregator"
	"msgnotify/internal/config"
	"msgnotify/internal/contacts"
	"msgnotify/internal/eventbus"
	"msgnotify/internal/lifecycle"
	"msgnotify/internal/metrics"
	"msgnotify/internal/msgstore"
	"msgnotify/internal/presenter"
	"msgnotify/internal/registry"
	"msgnotify/internal/runtime/supervisor"
	"msgnotify/internal/server"
	"msgnotify/internal/transport"
	"msgnotify/internal/watcher"
	logx "msgnotify/pkg/logx"
)

// pollMaxRestarts bounds poller restarts; past it the app exits and the
// service manager takes over.
const pollMaxRestarts = 10

// poller is implemented by presenters that receive replies in the background.
type poller interface {
	Poll(ctx context.Context) error
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   msgstore.Store
	book    *contacts.Book
	pres    presenter.Presenter
	sender  transport.Sender
	reg     *registry.Memory
	coord   *lifecycle.Coordinator
	metrics *metrics.Metrics
	http    *server.Server

	cron *cron.Cron
}

// New loads the config at cfgPath and builds every component. Background
// work starts in Start. ctx bounds the lifetime of the app's goroutines.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(ctx, cfgm, cfg)
}

func build(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.Component("app"))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		reg:     registry.NewMemory(),
		metrics: metrics.New(),
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(log.With(logx.Component("supervisor"))), supervisor.WithCancelOnError(true))

	sc, err := mapStore(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = msgstore.Open(sc, log); err != nil {
		return nil, err
	}

	if a.book, err = contacts.Open(mapContacts(cfg)); err != nil {
		_ = a.store.Close()
		return nil, err
	}
	appLog.Info("contacts loaded", logx.Int("entries", a.book.Len()))

	if a.sender, err = transport.Open(transport.Config{Driver: cfg.Transport.Driver}, log); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	pc, err := mapPresenter(cfg)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	// The coordinator does not exist yet; replies arriving before Start are
	// impossible because polling begins there.
	a.pres, err = presenter.Open(pc, log, func(ctx context.Context, act presenter.Action) {
		a.coord.HandleAction(ctx, act)
	})
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}

	a.coord = lifecycle.New(
		a.reg,
		aggregator.New(a.store, log),
		a.store,
		a.pres,
		a.book,
		a.sender,
		lifecycle.WithLogger(log),
		lifecycle.WithBus(a.bus),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithSettings(mapSettings(cfg)),
		lifecycle.WithInbox(lifecycle.InboxFunc(func(ctx context.Context, from, body string, at time.Time) error {
			_, err := a.store.InsertInbound(ctx, from, body, at)
			return err
		})),
		lifecycle.WithWatcherOptions(watcher.WithSpawner(a.sup)),
	)

	if addr := strings.TrimSpace(cfg.Server.Addr); addr != "" {
		srvCfg, err := mapServer(cfg)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.http = server.New(srvCfg, a.coord, a.store, a.metrics, a.health, log)
	}
	return a, nil
}

func (a *App) Coordinator() *lifecycle.Coordinator { return a.coord }
func (a *App) Presenter() presenter.Presenter      { return a.pres }
func (a *App) Store() msgstore.Store               { return a.store }
func (a *App) Bus() eventbus.Bus                   { return a.bus }
func (a *App) Metrics() *metrics.Metrics           { return a.metrics }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

func (a *App) Err() error { return a.sup.Err() }

func (a *App) health() map[string]any {
	return map[string]any{
		"watcher":        a.coord.Watcher().State().String(),
		"active":         a.reg.Len(),
		"supervisor":     a.sup.Snapshot(),
		"events_dropped": eventbus.Dropped(a.bus),
	}
}

func (a *App) Start(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject reloads that would break the live components outright.
		_, err := mapPresenter(cfg)
		return err
	})

	if p, ok := a.pres.(poller); ok {
		a.sup.GoRestart("presenter.poll", p.Poll,
			supervisor.WithRestartBackoff(time.Second, time.Minute),
			supervisor.WithMaxRestarts(pollMaxRestarts))
	}

	if a.http != nil {
		a.sup.Go("http", func(c context.Context) error { return a.http.Serve(c) })
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	cfg := a.cfgm.Get()
	if err := a.startResync(cfg.Resync); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

// startResync schedules periodic watcher pokes. Poke is a no-op while
// nothing is live, so the schedule costs nothing when idle.
func (a *App) startResync(rc config.ResyncConfig) error {
	if !rc.Enabled {
		return nil
	}
	spec := config.ResyncSchedule(rc)
	c := cron.New(cron.WithParser(config.CronParser()))
	if _, err := c.AddFunc(spec, a.coord.Watcher().Poke); err != nil {
		return fmt.Errorf("resync.schedule: %w", err)
	}
	c.Start()
	a.cron = c
	a.log.Info("resync scheduled", logx.String("schedule", spec))
	return nil
}

func (a *App) stopResync(ctx context.Context) {
	if a.cron == nil {
		return
	}
	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	a.cron = nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sum := config.SummarizeConfigChange(prev, next)
	if len(sum.Changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sum.Changed, ","))}, sum.Attrs...)
	a.log.Info("config change", fields...)

	if sum.Has("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if sum.Has("notify") {
		a.coord.Apply(mapSettings(next))
	}
	if sum.Has("contacts") {
		if err := a.book.Load(mapContacts(next)); err != nil {
			a.log.Warn("contacts reload failed; keeping previous", logx.Err(err))
		}
	}
	if sum.Has("presenter") {
		if t, ok := a.pres.(*presenter.Telegram); ok {
			t.SetRate(next.Presenter.Telegram.RatePerSec)
		}
	}
	if sum.Has("resync") {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.stopResync(ctx)
		cancel()
		if err := a.startResync(next.Resync); err != nil {
			a.log.Warn("resync reschedule failed", logx.Err(err))
		}
	}
	if len(sum.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", sum.Restart))
	}
}

// Stop shuts down in dependency order. Each step is bounded; a step that
// overruns is logged and skipped.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	step := func(name string, timeout time.Duration, fn func(ctx context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(sctx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("resync", time.Second, func(c context.Context) error { a.stopResync(c); return nil })
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("watcher", 2*time.Second, func(context.Context) error { a.coord.Close(); return nil })
	step("store", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
