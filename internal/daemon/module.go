package daemon

import (
	"context"

	"github.com/sahasi-app/sahasi/internal/api"
	"github.com/sahasi-app/sahasi/internal/auth"
	"github.com/sahasi-app/sahasi/internal/bus"
	"github.com/sahasi-app/sahasi/internal/chat"
	"github.com/sahasi-app/sahasi/internal/config"
	"github.com/sahasi-app/sahasi/internal/connectivity"
	"github.com/sahasi-app/sahasi/internal/lock"
	"github.com/sahasi-app/sahasi/internal/logging"
	"github.com/sahasi-app/sahasi/internal/metrics"
	"github.com/sahasi-app/sahasi/internal/safety"
	"github.com/sahasi-app/sahasi/internal/session"
	"github.com/sahasi-app/sahasi/internal/status"
	"github.com/sahasi-app/sahasi/internal/store"
	intsync "github.com/sahasi-app/sahasi/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMetrics,
			provideAuthManager,
			provideAPIClient,
			provideMonitor,
			provideSyncEngine,
			provideChatSession,
			provideSafetyService,
			NewHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideAuthManager(db *store.DB, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(db, logger)
}

func provideAPIClient(cfg *config.Config, am *auth.Manager, logger *zap.Logger) *api.Client {
	return api.NewClient(api.Config{
		BaseURL:     cfg.API.BaseURL,
		ChatBaseURL: cfg.API.ChatBaseURL,
		Timeout:     cfg.RequestTimeout(),
	}, am, logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	probe := &connectivity.HTTPProbe{URL: cfg.API.BaseURL}
	return connectivity.NewMonitor(probe, cfg.ProbeInterval(), b, logger)
}

func provideSyncEngine(db *store.DB, client *api.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, b, m, logger)
}

func provideChatSession(db *store.DB, client *api.Client, engine *intsync.Engine, monitor *connectivity.Monitor, am *auth.Manager, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *chat.Session {
	return chat.NewSession(db, client, engine, monitor, am, b, m, logger)
}

func provideSafetyService(client *api.Client, db *store.DB, am *auth.Manager, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *safety.Service {
	return safety.NewService(client, db, am, b, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, monitor *connectivity.Monitor, engine *intsync.Engine, machine *status.Machine, am *auth.Manager, b *bus.Bus, logger *zap.Logger) {
	bridgeCtx, cancelBridge := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API server error", zap.Error(err))
				}
			}()

			// Connectivity edges drive both the state machine and the
			// sync engine; the bridge sequences them so SYNCING is only
			// entered from ONLINE.
			go runConnectivityBridge(bridgeCtx, b, machine, engine, logger)
			monitor.Start(context.Background())

			if am.SignedIn() {
				logger.Info("credentials found, waiting for connectivity")
				_ = machine.Transition(status.Offline)
			} else {
				logger.Info("no credentials found, sign-in required")
				_ = machine.Transition(status.SignedOut)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			monitor.Stop()
			cancelBridge()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// runConnectivityBridge reacts to reachability edges: online drains
// every pending outbox behind a SYNCING window, offline parks the
// machine until the next edge.
func runConnectivityBridge(ctx context.Context, b *bus.Bus, machine *status.Machine, engine *intsync.Engine, logger *zap.Logger) {
	ch, unsub := b.Subscribe("connectivity.", 16)
	defer unsub()

	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			switch evt.Kind {
			case "connectivity.online":
				if err := machine.Transition(status.Online); err != nil {
					logger.Debug("skip online transition", zap.Error(err))
					continue
				}
				_ = machine.Transition(status.Syncing)
				engine.SyncAll(ctx)
				_ = machine.Transition(status.Online)
			case "connectivity.offline":
				if err := machine.Transition(status.Offline); err != nil {
					logger.Debug("skip offline transition", zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
