package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/accounts/internal/auth"
	"github.com/utafrali/accounts/pkg/health"
	"github.com/utafrali/accounts/pkg/httputil"
	"github.com/utafrali/accounts/pkg/middleware"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	ServiceName  string
	Sessions     SessionManager
	Accounts     AccountManager
	Tokens       middleware.TokenValidator
	Health       *health.Handler
	Metrics      *middleware.HTTPMetrics
	Gatherer     prometheus.Gatherer
	CORS         middleware.CORSConfig
	SecureCookie bool
	PprofCIDRs   []string
	Logger       *slog.Logger
}

// NewRouter creates a chi router with all accounts routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/", rootStatus)
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	middleware.RegisterPprof(r, cfg.PprofCIDRs, cfg.Logger)

	authHandler := NewAuthHandler(cfg.Sessions, cfg.SecureCookie, cfg.Logger)
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
	})

	userHandler := NewUserHandler(cfg.Accounts, cfg.Logger)
	r.Route("/user", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", userHandler.Register)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Tokens))

			r.Get("/", userHandler.List)
			r.Get("/profile", userHandler.Profile)
			r.Patch("/{id}", userHandler.Update)
			r.Patch("/{id}/restore", userHandler.Restore)
			r.Delete("/{id}", userHandler.Delete)
		})
	})

	return r
}

// TokenValidator bridges JWTManager to the auth middleware.
func TokenValidator(jwt *auth.JWTManager) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.Subject, Email: claims.Email}, nil
	}
}

func rootStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
