package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iyyansoft/eventzgo-sub003/internal/core/domain"
	"github.com/iyyansoft/eventzgo-sub003/internal/infra/config"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/handlers"
	"github.com/iyyansoft/eventzgo-sub003/internal/transport/http/middleware"
)

// AuthAPI is everything the public authentication surface needs from the
// auth service.
type AuthAPI interface {
	handlers.AuthService
	handlers.PasswordService
	handlers.SessionService
	middleware.SessionAuthenticator
}

// MetricsExporter records request metrics and serves them for scraping.
type MetricsExporter interface {
	middleware.HTTPObserver
	Handler() http.Handler
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Metrics  MetricsExporter
	Tracer   trace.TracerProvider
	Limiter  middleware.APIRateLimiter
	Auth     AuthAPI
	Accounts handlers.AccountService
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(deps.Tracer))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	if len(deps.Config.App.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Auth == nil {
		return r
	}

	api := r.Group("/api/v1")
	if deps.Limiter != nil {
		api.Use(middleware.RateLimit(deps.Limiter, domain.RateLimitActionAPICall, deps.Config.RateLimit.Degradation(), log))
	}
	{
		requireSession := middleware.RequireSession(deps.Auth, log)

		handlers.NewAuthHandler(deps.Auth, log).RegisterRoutes(api.Group("/auth"), requireSession)
		handlers.NewPasswordHandler(deps.Auth, log).RegisterRoutes(api.Group("/password"), requireSession)
		handlers.NewSessionHandler(deps.Auth, log).RegisterRoutes(api.Group("/sessions", requireSession))

		if deps.Accounts != nil {
			accountHandler := handlers.NewAccountHandler(deps.Accounts, deps.Config.Security.RequireApproval, log)
			accountHandler.RegisterSelfRoutes(api.Group("/account", requireSession))

			if adminKey := deps.Config.Security.AdminAPIKey; adminKey != "" {
				accountHandler.RegisterAdminRoutes(api.Group("/admin/accounts", middleware.RequireAdminKey(adminKey)))
			}
		}
	}

	return r
}
