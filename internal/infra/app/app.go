package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/port"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/config"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/database"
	kafkainfra "github.com/iyyansoft/eventzgo-sub003/internal/infra/kafka"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/logger"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/notification"
	redisinfra "github.com/iyyansoft/eventzgo-sub003/internal/infra/redis"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/security"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/telemetry"
	postgresrepo "github.com/iyyansoft/eventzgo-sub003/internal/repository/postgres"
	redisrepo "github.com/iyyansoft/eventzgo-sub003/internal/repository/redis"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/routes"
	"github.com/iyyansoft/eventzgo-sub003/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	limiter  *usecase.RateLimiter
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	if cfg.Postgres.MigrateOnStart {
		if err := database.Migrate(ctx, cfg.Postgres.DSN(), database.MigrateUp, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	store := postgresrepo.NewStore(pool)

	var rateLimitStore port.RateLimitStore = store.RateLimits
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = redisClient
		rateLimitStore = redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.FixedWindowConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	}

	hasher, err := security.NewArgon2Hasher(cfg.Argon2.Config())
	if err != nil {
		return fmt.Errorf("init password hasher: %w", err)
	}
	validator := security.NewCredentialValidatorFromPolicy(cfg.Password.Policy())

	metrics := telemetry.NewMetrics()

	var publisher port.SecurityEventPublisher
	if cfg.Kafka.Enabled {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		a.producer = producer
		publisher = kafkainfra.NewSecurityEventPublisher(producer, cfg.App, log)
		log.Info("kafka security event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		log.Info("kafka disabled, security events are only logged")
		publisher = kafkainfra.NewLogPublisher(log)
	}

	storeTimeout := cfg.Security.StoreTimeout
	audit := usecase.NewSecurityAuditLogger(store.SecurityEvents, publisher, log)

	limiter := usecase.NewRateLimiter(rateLimitStore, cfg.RateLimit.Policies(), log)
	limiter.WithStoreTimeout(storeTimeout)
	a.limiter = limiter

	tokens := usecase.NewTokenIssuer(store.Tokens, cfg.Tokens.TTLs(), metrics, log)
	tokens.WithStoreTimeout(storeTimeout)

	sessions := usecase.NewSessionManager(store.Sessions, audit, usecase.SessionPolicy{
		AbsoluteTTL: cfg.Session.AbsoluteTTL,
		IdleTimeout: cfg.Session.IdleTimeout,
	}, metrics, log)
	sessions.WithStoreTimeout(storeTimeout)

	authService, err := usecase.NewAuthService(usecase.AuthDependencies{
		Accounts:   store.Accounts,
		Transactor: store,
		Hasher:     hasher,
		Validator:  validator,
		Limiter:    limiter,
		Tokens:     tokens,
		Sessions:   sessions,
		Audit:      audit,
		Notifier:   notification.NewLoggingDispatcher(log),
		Composer:   usecase.NewNotificationComposer(cfg.App.PublicBaseURL),
		Metrics:    metrics,
	}, usecase.AuthPolicy{
		MaxFailedLogins: cfg.Security.MaxFailedLogins,
		StoreTimeout:    storeTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}
	accountService := usecase.NewAccountService(store.Accounts, sessions, audit, storeTimeout, log)

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Limiter:  limiter,
		Auth:     authService,
		Accounts: accountService,
		Database: pool,
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	a.engine = routes.Register(deps)

	return nil
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("rate_limit_backend", a.cfg.RateLimit.Backend),
	)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runJanitor(janitorCtx, a.cfg.RateLimit.PurgeInterval)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down auth API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// runJanitor deletes rate-limit records idle for longer than the widest window.
func (a *Application) runJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	retention := a.limiter.LongestWindow()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.limiter.PurgeStale(ctx, retention)
			if err != nil {
				a.logger.Warn("rate limit purge failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				a.logger.Debug("rate limit records purged", zap.Int64("count", purged))
			}
		}
	}
}

func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
