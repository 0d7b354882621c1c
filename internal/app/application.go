package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/openfeeds/rate-layer/internal/app/audit"
	"github.com/openfeeds/rate-layer/internal/app/events"
	"github.com/openfeeds/rate-layer/internal/app/httpapi"
	"github.com/openfeeds/rate-layer/internal/app/metrics"
	"github.com/openfeeds/rate-layer/internal/app/opsapi"
	"github.com/openfeeds/rate-layer/internal/app/services/ingest"
	"github.com/openfeeds/rate-layer/internal/app/services/rates"
	"github.com/openfeeds/rate-layer/internal/app/services/watchdog"
	"github.com/openfeeds/rate-layer/internal/app/storage"
	"github.com/openfeeds/rate-layer/internal/app/storage/memory"
	postgresstore "github.com/openfeeds/rate-layer/internal/app/storage/postgres"
	redisstore "github.com/openfeeds/rate-layer/internal/app/storage/redis"
	"github.com/openfeeds/rate-layer/internal/app/system"
	"github.com/openfeeds/rate-layer/internal/config"
	"github.com/openfeeds/rate-layer/internal/middleware"
	"github.com/openfeeds/rate-layer/internal/platform/database"
	"github.com/openfeeds/rate-layer/internal/platform/migrations"
	"github.com/openfeeds/rate-layer/pkg/logger"
)

// Application ties the oracle services together and manages their lifecycle:
// the price store, the ingest and rates services, the staleness watchdog, the
// websocket hub, and the two HTTP planes.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager

	Store    storage.AssetPriceStore
	Bus      *events.Bus
	Ingest   *ingest.Service
	Rates    *rates.Service
	Watchdog *watchdog.Service
	Hub      *httpapi.Hub
	Audit    *audit.Log

	db          *sqlx.DB
	redisClient *redis.Client
	auditSink   *audit.FileSink
	unsubscribe func()

	publicSrv *system.HTTPServer
	opsSrv    *system.HTTPServer
}

// New wires a fully initialised application from configuration. ctx bounds
// the store connection attempts only; the application itself is started with
// Start and torn down with Stop.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("oracle")
	}

	app := &Application{cfg: cfg, log: log, manager: system.NewManager()}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	app.Bus = events.NewBus(256)
	app.unsubscribe = app.Bus.Subscribe(func(events.PriceUpdate) {
		metrics.RecordPriceUpdate()
	})

	app.Ingest = ingest.New(app.Store, app.Bus, cfg.Ingest.MaxStalePeriod.Std(), log)
	app.Rates = rates.NewService(app.Store, rates.NewEngine(app.Store, log), log)

	app.Watchdog = watchdog.New(app.Store, cfg.Ingest.MaxStalePeriod.Std(), cfg.Watchdog.Schedule, log)
	app.Watchdog.WithObserver(func(s watchdog.Summary) {
		metrics.RecordSweep(s.OldestAge, len(s.Stale))
	})

	fileSink, err := audit.NewFileSink(cfg.Ops.AuditFile)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	app.auditSink = fileSink
	var sink audit.Sink
	if fileSink != nil {
		sink = fileSink
	}
	app.Audit = audit.NewLog(0, sink)

	app.Hub = httpapi.NewHub(app.Bus, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)

	public := httpapi.NewHandler(httpapi.Options{
		Rates:      app.Rates,
		Ingest:     app.Ingest,
		Hub:        app.Hub,
		Audit:      app.Audit,
		Log:        log,
		Auth:       middleware.NewTokenAuth(cfg.Ingest.Tokens, log),
		RateLimit:  limiter,
		CORS:       middleware.NewCORS(cfg.Server.CORSOrigins),
		RequestLog: middleware.NewRequestLogger(log),
	})

	ops := opsapi.NewHandler(opsapi.Options{
		Store:    app.Store,
		Audit:    app.Audit,
		Watchdog: app.Watchdog,
		Backend:  cfg.Store.Backend,
		Log:      log,
	})

	publicAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	opsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Ops.Port)
	app.publicSrv = system.NewHTTPServer("public-api", publicAddr, public, log)
	app.opsSrv = system.NewHTTPServer("ops-api", opsAddr, ops, log)

	services := []system.Service{
		app.Watchdog,
		newLimiterJanitor(limiter),
		app.publicSrv,
		app.opsSrv,
	}
	for _, svc := range services {
		if err := app.manager.Register(svc); err != nil {
			app.Close()
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return app, nil
}

func (a *Application) openStore(ctx context.Context) error {
	backend := a.cfg.Store.Backend
	if backend == "" {
		backend = "memory"
	}

	switch backend {
	case "memory":
		a.Store = memory.New()
	case "postgres":
		db, err := database.Open(ctx, a.cfg.Store)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return fmt.Errorf("apply migrations: %w", err)
		}
		a.db = db
		a.Store = postgresstore.New(db)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Store.Redis.Addr,
			Password: a.cfg.Store.Redis.Password,
			DB:       a.cfg.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("ping redis %s: %w", a.cfg.Store.Redis.Addr, err)
		}
		a.redisClient = client
		a.Store = redisstore.New(client)
	default:
		return fmt.Errorf("unknown store backend %q", backend)
	}

	a.log.WithField("backend", backend).Info("Price store ready")
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// PublicAddr returns the public API listen address, resolved after Start when
// the configured port is 0.
func (a *Application) PublicAddr() string { return a.publicSrv.Addr() }

// OpsAddr returns the ops plane listen address.
func (a *Application) OpsAddr() string { return a.opsSrv.Addr() }

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services in reverse order, closes websocket sessions, and
// releases the store connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.Hub != nil {
		a.Hub.Close()
	}
	a.Close()
	return err
}

// Run starts the application and blocks until ctx is cancelled, then shuts
// down with its own timeout so a stuck ctx cannot wedge teardown.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Stop(stopCtx)
}

// Close releases held resources without stopping registered services. Stop
// calls it; callers that never started the application may call it directly.
func (a *Application) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.auditSink != nil {
		_ = a.auditSink.Close()
		a.auditSink = nil
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
		a.redisClient = nil
	}
}

// limiterJanitor evicts idle per-client limiters while the application runs.
type limiterJanitor struct {
	limiter *middleware.RateLimiter
	stop    chan struct{}
}

func newLimiterJanitor(l *middleware.RateLimiter) *limiterJanitor {
	return &limiterJanitor{limiter: l}
}

func (j *limiterJanitor) Name() string { return "ratelimit-janitor" }

func (j *limiterJanitor) Start(context.Context) error {
	j.stop = make(chan struct{})
	j.limiter.StartCleanup(10*time.Minute, j.stop)
	return nil
}

func (j *limiterJanitor) Stop(context.Context) error {
	if j.stop != nil {
		close(j.stop)
		j.stop = nil
	}
	return nil
}
