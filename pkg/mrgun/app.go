// Package mrgun assembles the game authorisation and billing core for
// embedding in a host process or for standalone serving via cmd/server.
package mrgun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/billing"
	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/circuitbreaker"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/dbpool"
	"github.com/mrgun/server/internal/httpserver"
	"github.com/mrgun/server/internal/idempotency"
	"github.com/mrgun/server/internal/lifecycle"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/monitoring"
	"github.com/mrgun/server/internal/storage"
)

// poolStatsInterval is how often the shared pool publishes its open
// connection count to the metrics gauge.
const poolStatsInterval = 15 * time.Second

// App wires the billing core components for reuse or standalone serving.
type App struct {
	Config           *config.Config
	Store            storage.Store
	DeadLetters      storage.DeadLetterStore
	Tokens           *auth.TokenService
	Notifier         callbacks.Notifier
	Billing          *billing.Service
	Backoffice       *backoffice.Service
	IdempotencyStore idempotency.Store

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
	logger           zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.Store
	notifier callbacks.Notifier
	router   chi.Router
	registry prometheus.Registerer
}

// WithStore sets a custom ledger backend. The caller keeps ownership:
// the app never closes an injected store.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier injects a billing event notifier, replacing the
// webhook delivery built from the callbacks config.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithMetricsRegistry sets the Prometheus registerer metrics attach to.
// Defaults to prometheus.DefaultRegisterer, which panics on duplicate
// registration if two apps share a process; hosts embedding more than
// one app pass their own registry here.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// NewApp assembles the billing core for embedding: ledger store, dead
// letter store, token service, webhook delivery, billing and
// back-office services, balance monitor and the HTTP route table.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("mrgun: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "mrgun-core",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(appLogger),
		logger:          appLogger,
	}

	// Construction can fail after resources are already open. Close what
	// was registered so a failed NewApp never leaks a pool or goroutine.
	ok := false
	defer func() {
		if !ok {
			_ = app.resourceManager.Close()
		}
	}()

	registry := optState.registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	metricsCollector := metrics.New(registry)
	app.metricsCollector = metricsCollector

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	// Ledger store. The postgres pool is shared with the dead letter
	// store below so both ride one connection set.
	var sharedDB *sql.DB
	switch {
	case optState.store != nil:
		app.Store = optState.store
	case cfg.Database.Backend == "postgres":
		pool, err := dbpool.NewSharedPool(cfg.Database.PostgresURL, cfg.Database.Pool)
		if err != nil {
			return nil, fmt.Errorf("open ledger pool: %w", err)
		}
		app.resourceManager.Register("db-pool", pool)

		statsCtx, stopStats := context.WithCancel(context.Background())
		app.resourceManager.RegisterFunc("db-pool-stats", func() error {
			stopStats()
			return nil
		})
		pool.StartStatsLoop(statsCtx, poolStatsInterval, metricsCollector)
		sharedDB = pool.DB()

		store, err := storage.NewStoreWithDB(storage.StoreConfig{
			Backend:      cfg.Database.Backend,
			PostgresURL:  cfg.Database.PostgresURL,
			PostgresPool: cfg.Database.Pool,
		}, sharedDB)
		if err != nil {
			return nil, fmt.Errorf("init ledger store: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("ledger-store", store)
	default:
		app.Store = storage.NewMemoryStore()
		app.resourceManager.Register("ledger-store", app.Store)
		appLogger.Warn().
			Msg("mrgun: defaulting to in-memory store, the ledger will not survive a restart")
	}

	deadLetters, err := storage.NewDeadLetterStore(storage.DeadLetterConfig{
		Backend:         cfg.Callbacks.DLQBackend,
		MongoURL:        cfg.Callbacks.DLQMongoURL,
		MongoDatabase:   cfg.Callbacks.DLQMongoDatabase,
		MongoCollection: cfg.Callbacks.DLQMongoCollection,
	}, sharedDB)
	if err != nil {
		return nil, fmt.Errorf("init dead letter store: %w", err)
	}
	app.DeadLetters = deadLetters
	app.resourceManager.Register("dead-letter-store", deadLetters)

	tokens, err := auth.NewTokenService(auth.Config{
		Secret:      cfg.Auth.TokenSecret,
		OperatorTTL: cfg.Auth.OperatorTokenTTL.Duration,
		AdminTTL:    cfg.Auth.AdminTokenTTL.Duration,
		HeadsetTTL:  cfg.Auth.HeadsetTokenTTL.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("init token service: %w", err)
	}
	app.Tokens = tokens

	// Webhook delivery. Queued delivery writes events to the store's
	// webhook queue and drains it with a worker, so notifications survive
	// restarts; direct delivery retries in-process and parks exhausted
	// deliveries in the dead letter store.
	switch {
	case optState.notifier != nil:
		app.Notifier = optState.notifier
	case cfg.Callbacks.Delivery == "queued":
		worker := callbacks.NewQueueWorker(callbacks.QueueWorkerOptions{
			Queue:       app.Store,
			DeadLetters: deadLetters,
			Config:      cfg.Callbacks,
			Breaker:     breaker,
			Logger:      appLogger,
			Metrics:     metricsCollector,
		})
		worker.Start(context.Background())
		app.resourceManager.RegisterFunc("webhook-queue-worker", func() error {
			worker.Stop()
			return nil
		})
		app.Notifier = callbacks.NewPersistentNotifier(worker, appLogger)
	default:
		app.Notifier = callbacks.NewRetryableClient(cfg.Callbacks,
			callbacks.WithRetryLogger(appLogger),
			callbacks.WithDeadLetterStore(deadLetters),
			callbacks.WithMetrics(metricsCollector),
			callbacks.WithBreaker(breaker),
		)
	}

	app.Billing = billing.NewService(app.Store, cfg.Billing, metricsCollector)
	app.Backoffice = backoffice.NewService(app.Store, cfg.Billing,
		backoffice.WithNotifier(app.Notifier),
		backoffice.WithMetrics(metricsCollector),
		backoffice.WithBCryptCost(cfg.Auth.BCryptCost),
	)

	monitor := monitoring.NewBalanceMonitor(monitoring.Options{
		Store:    app.Store,
		Config:   cfg.Monitoring,
		Breaker:  breaker,
		Notifier: app.Notifier,
		Metrics:  metricsCollector,
		Logger:   appLogger,
	})
	monitor.Start(context.Background())
	app.resourceManager.RegisterFunc("balance-monitor", func() error {
		monitor.Stop()
		return nil
	})

	idempotencyStore, err := idempotency.NewStoreFromConfig(cfg.Idempotency)
	if err != nil {
		return nil, fmt.Errorf("init idempotency store: %w", err)
	}
	app.IdempotencyStore = idempotencyStore
	app.resourceManager.RegisterFunc("idempotency-store", func() error {
		switch s := idempotencyStore.(type) {
		case *idempotency.MemoryStore:
			s.Stop()
			return nil
		case io.Closer:
			return s.Close()
		}
		return nil
	})

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, cfg, app.Store, deadLetters, tokens, app.Billing, app.Backoffice, idempotencyStore, metricsCollector, appLogger)

	ok = true
	return app, nil
}

// Router returns the chi router with the billing core routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app: background workers stop
// first, then stores, then the shared database pool. Stop serving
// requests before calling Close.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// RegisterRoutes attaches the billing core endpoints to the provided
// router using an existing App.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Config, app.Store, app.DeadLetters, app.Tokens, app.Billing, app.Backoffice, app.IdempotencyStore, app.metricsCollector, app.logger)
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the billing core.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
