package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/zzxzyz/ai-meeting-sub001/pkg/breaker"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/database"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/health"
	pkgkafka "github.com/zzxzyz/ai-meeting-sub001/pkg/kafka"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/middleware"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/tracing"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/auth"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/config"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/event"
	handler "github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/handler/http"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository/memory"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/repository/postgres"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/security"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/service"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/internal/worker"
	"github.com/zzxzyz/ai-meeting-sub001/services/auth/migrations"
)

const (
	serviceName    = "auth"
	serviceVersion = "0.1.0"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	workers        []func(context.Context)
	tracerShutdown func(context.Context) error

	stopWorkers context.CancelFunc
	workersWG   sync.WaitGroup
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	users, tokens, err := a.initStorage(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	limiter, err := a.initRateLimiter(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	events := a.initEvents(healthHandler)

	passwords, err := security.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("init password hasher: %w", err)
	}
	tokenHasher := security.NewTokenHasher(cfg.RefreshTokenHMACKey)
	if !tokenHasher.Keyed() {
		logger.Warn("REFRESH_TOKEN_HMAC_KEY not set, refresh tokens are stored as plain SHA-256 digests")
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)

	sessions := service.NewSessionService(
		service.Config{
			RefreshTokenTTL:   cfg.RefreshTokenTTL,
			RefreshTokenBytes: cfg.RefreshTokenBytes,
		},
		users, tokens, passwords, tokenHasher, jwtManager, logger,
		service.WithEvents(events),
	)

	sweeper := worker.NewSweeper(tokens, cfg.TokenSweepInterval, logger)
	a.workers = append(a.workers, sweeper.Run)

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:    serviceName,
		Service:        sessions,
		TokenValidator: jwtManager.Validator(),
		Health:         healthHandler,
		TrustedProxies: proxies,
		Limiter:        limiter,
		Cookies:        handler.DefaultCookieConfig(cfg.IsProduction(), cfg.RefreshTokenTTL),
		CORS:           middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins),
		Logger:         logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initStorage(ctx context.Context, hh *health.Handler) (repository.UserRepository, repository.RefreshTokenRepository, error) {
	switch a.cfg.StorageDriver {
	case config.StorageMemory:
		a.logger.Warn("using in-memory storage, sessions are lost on restart")
		return memory.NewUserRepository(), memory.NewRefreshTokenRepository(), nil

	case config.StoragePostgres:
		pgCfg := a.cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, pgCfg, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", pgCfg.Host),
			slog.Int("port", pgCfg.Port),
			slog.String("database", pgCfg.DBName),
		)

		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
			a.logger.Warn("register pool metrics", slog.String("error", err.Error()))
		}

		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		if threshold := a.cfg.SlowQueryThreshold(); threshold > 0 {
			database.SetSlowQueryLogging(threshold, a.logger)
		}

		hh.RegisterCritical("postgres", pingCheck(pool))
		return postgres.NewUserRepository(pool), postgres.NewRefreshTokenRepository(pool), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", a.cfg.StorageDriver)
	}
}

func (a *App) initRateLimiter(ctx context.Context, hh *health.Handler) (middleware.Limiter, error) {
	if a.cfg.RateLimitRequests == 0 {
		a.logger.Warn("rate limiting disabled")
		return nil, nil
	}

	if !a.cfg.RedisEnabled {
		local := middleware.NewLocalLimiter(a.cfg.RateLimitRequests, a.cfg.RateLimitWindow)
		a.workers = append(a.workers, local.Run)
		a.logger.Info("rate limiting is per replica, redis disabled")
		return local, nil
	}

	redisCfg := a.cfg.Redis()
	client, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))

	hh.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return middleware.NewRedisLimiter(client, "auth:ratelimit:", a.cfg.RateLimitRequests, a.cfg.RateLimitWindow), nil
}

func (a *App) initEvents(hh *health.Handler) service.EventPublisher {
	if !a.cfg.KafkaEnabled {
		a.logger.Info("kafka disabled, session events are not published")
		return event.NoopProducer{}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.producer = producer
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))

	hh.RegisterNonCritical("kafka", pingCheck(producer))
	cb := breaker.New(breaker.DefaultConfig("kafka-producer"), a.logger)
	return event.NewProducer(producer, cb, a.logger)
}

func pingCheck(p database.Pinger) health.Checker {
	return p.Ping
}

// Run starts the HTTP server and background workers and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stop := context.WithCancel(context.Background())
	a.stopWorkers = stop
	for _, run := range a.workers {
		a.workersWG.Add(1)
		go func() {
			defer a.workersWG.Done()
			run(workerCtx)
		}()
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background workers
// 3. Tracer (flush pending spans from drained requests)
// 4. Kafka producer, Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop the sweeper and limiter cleanup.
	if a.stopWorkers != nil {
		a.stopWorkers()
		a.workersWG.Wait()
	}

	// 3. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Release external connections.
	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() []error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errs
}
