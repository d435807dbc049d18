// Package app assembles the relay daemon: config, logging, the Telegram
// adapter, session storage, the announce queue core and its satellites.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/announce"
	"relaybot/internal/config"
	"relaybot/internal/discovery"
	"relaybot/internal/eventbus"
	"relaybot/internal/hooks"
	"relaybot/internal/ingress"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/schedule"
	"relaybot/internal/session"
	"relaybot/internal/steer"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store session.Store

	adapter  *telegram.Adapter
	sender   *transport.Sender
	runs     *steer.Registry
	resolver *session.Resolver

	queues *announce.Store
	flow   *announce.Controller
	hooks  *hooks.Service
	sched  *schedule.Service
	sock   *ingress.Server
	mdns   *discovery.Advertiser

	updates chan transport.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store session.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := session.Open(sc, log.With(logx.String("comp", "session")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("session storage enabled", logx.String("driver", sc.Driver))
	}

	runs := steer.NewRegistry(log.With(logx.String("comp", "steer")))
	resolver := session.NewResolver(store, runs)
	sender := transport.NewSender(transport.SenderConfig{
		RatePerSec: cfg.Telegram.RatePerSec,
	}, adapter, resolver, log.With(logx.String("comp", "sender")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  adapter,
		sender:   sender,
		runs:     runs,
		resolver: resolver,
		hooks:    hooks.New(mapHooks(cfg), bus, log.With(logx.String("comp", "hooks"))),
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Runs exposes the steer run registry so embedding agent loops can register
// their turns.
func (a *App) Runs() *steer.Registry { return a.runs }

// Flow exposes the announce entry point. Valid after Start().
func (a *App) Flow() *announce.Controller { return a.flow }

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if err := validateAnnounce(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapIngressConfig(cfg); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return err
	}
	a.queues = announce.NewStore(qcfg, a.sender, a.sup, a.bus,
		a.log.With(logx.String("comp", "announce")))
	a.flow = announce.NewController(a.queues, a.resolver, a.runs, a.bus,
		a.log.With(logx.String("comp", "flow")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("hooks.run", a.hooks.Run)
	a.sup.Go0("updates.consume", a.consumeUpdates)
	if a.store != nil {
		a.sup.Go0("announce.audit", a.auditLoop)
	}

	if cfg.Schedule.Enabled && a.store != nil {
		a.sched = schedule.New(mapScheduleConfig(cfg), a.store, a.flow, a.settingsFor,
			a.log.With(logx.String("comp", "schedule")))
		a.sched.Start(a.sup.Context())
	}

	if cfg.Ingress.Enabled {
		icfg, err := mapIngressConfig(cfg)
		if err != nil {
			return err
		}
		var usage ingress.UsageRecorder
		if a.store != nil {
			usage = a.store
		}
		a.sock = ingress.New(icfg, a.flow, a.settingsFor, a.queues, usage,
			a.log.With(logx.String("comp", "ingress")))
		if err := a.sock.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(mapDiscoveryConfig(cfg),
			a.log.With(logx.String("comp", "discovery")))
		if err != nil {
			// Discovery is a convenience; a multicast-hostile host must not
			// keep the relay from starting.
			a.log.Warn("discovery unavailable", logx.Err(err))
		} else {
			a.mdns = adv
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// consumeUpdates records inbound chat traffic as session state so announces
// for a key can reach the chat that last talked to it.
func (a *App) consumeUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-a.updates:
			if !ok {
				return
			}
			m := up.Message
			if m == nil || a.store == nil {
				continue
			}
			chat := strconv.FormatInt(m.ChatID, 10)
			rec := session.Record{
				Key:       "tg:" + chat,
				Channel:   "telegram",
				Recipient: chat,
				AccountID: strconv.FormatInt(m.FromID, 10),
			}
			if err := a.store.Upsert(ctx, rec); err != nil {
				a.log.Warn("session upsert failed", logx.String("key", rec.Key), logx.Err(err))
			}
		}
	}
}

// auditLoop persists announce lifecycle events as audit rows.
func (a *App) auditLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			if err := a.store.AppendAudit(ctx, entry); err != nil {
				a.log.Debug("audit append failed", logx.Err(err))
			}
		}
	}
}

func auditEntry(e eventbus.Event) (session.AuditEntry, bool) {
	switch e.Type {
	case eventbus.EventAnnounceDelivered, eventbus.EventAnnounceSteered,
		eventbus.EventAnnounceDropped, eventbus.EventDrainError:
	default:
		return session.AuditEntry{}, false
	}
	entry := session.AuditEntry{At: e.Time, Outcome: e.Type}
	if m, ok := e.Data.(map[string]any); ok {
		entry.Key, _ = m["key"].(string)
		if n, ok := m["batched"].(int); ok {
			entry.Batched = n
		}
		if msg, ok := m["error"].(string); ok {
			entry.Error = msg
		}
	}
	return entry, true
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyReload(cfg)
		}
	}
}

// applyReload applies the live-reloadable sections. Queue settings need no
// push: settingsFor reads the committed config on every enqueue. Transport,
// storage, ingress and discovery changes require a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.hooks.Apply(mapHooks(cfg))
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(stepCtx) }()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	if a.sock != nil {
		step("ingress", 2*time.Second, a.sock.Stop)
	}
	if a.sched != nil {
		step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.mdns != nil {
		step("discovery", time.Second, func(context.Context) error { return a.mdns.Close() })
	}
	step("adapter", 2*time.Second, a.adapter.Stop)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 3*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
