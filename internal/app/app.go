package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/internal/config"
	"github.com/utafrali/accounts/internal/event"
	handler "github.com/utafrali/accounts/internal/handler/http"
	"github.com/utafrali/accounts/internal/repository"
	"github.com/utafrali/accounts/internal/repository/postgres"
	redisrepo "github.com/utafrali/accounts/internal/repository/redis"
	"github.com/utafrali/accounts/internal/service"
	"github.com/utafrali/accounts/migrations"
	"github.com/utafrali/accounts/pkg/database"
	"github.com/utafrali/accounts/pkg/health"
	pkgkafka "github.com/utafrali/accounts/pkg/kafka"
	"github.com/utafrali/accounts/pkg/middleware"
	"github.com/utafrali/accounts/pkg/tracing"
)

// ServiceName identifies this service in logs, metrics and traces.
const ServiceName = "accounts"

// App wires together all dependencies and runs the accounts service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := database.RegisterPoolMetrics(registry, a.pool, ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", a.pool.Ping)

	tokens, err := a.refreshTokenStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	var publisher service.EventPublisher = event.NopPublisher{}
	if cfg.EventsEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{Brokers: cfg.KafkaBrokers}, logger)
		publisher = event.NewProducer(a.producer)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	hasher := auth.NewPasswordHasher(auth.DefaultArgon2Params)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessExpiry)
	users := postgres.NewUserRepository(a.pool)

	sessions := service.NewSessionService(users, tokens, hasher, jwtManager, cfg.RefreshExpiry, service.NewAuthMetrics(registry), logger)
	accounts := service.NewAccountService(users, tokens, hasher, publisher, logger)

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: ServiceName,
		Sessions:    sessions,
		Accounts:    accounts,
		Tokens:      handler.TokenValidator(jwtManager),
		Health:      healthHandler,
		Metrics:     middleware.NewHTTPMetrics(registry, ServiceName),
		Gatherer:    registry,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.AllowedOrigins(),
			ExposedHeaders:   []string{"X-Correlation-ID"},
			AllowCredentials: true,
		},
		SecureCookie: cfg.IsProduction(),
		PprofCIDRs:   cfg.PprofAllowedCIDRs,
		Logger:       logger,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

// refreshTokenStore builds the configured refresh token backend.
func (a *App) refreshTokenStore(ctx context.Context, h *health.Handler) (repository.RefreshTokenRepository, error) {
	if a.cfg.RefreshTokenStore != config.StoreRedis {
		return postgres.NewRefreshTokenRepository(a.pool), nil
	}

	client, err := database.NewRedisClient(ctx, a.cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	h.RegisterCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	a.logger.Info("refresh tokens stored in redis", slog.String("addr", a.cfg.Redis().Addr()))
	return redisrepo.NewRefreshTokenRepository(client), nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.closeResources()
		return err
	}

	return a.Shutdown()
}

// Shutdown drains in-flight requests, flushes spans and closes the stores.
// HTTP goes first so that spans and events of drained requests are captured.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}
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
	return errors.Join(errs...)
}
