package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"falconlic/internal/config"
	apierrors "falconlic/internal/errors"
	"falconlic/internal/infrastructure"
	"falconlic/internal/middleware"
)

// RouterDeps bundles everything the router mounts.
type RouterDeps struct {
	License   *LicenseHandler
	Admin     *AdminHandler
	Tiers     *TiersHandler
	Webhook   *WebhookHandler
	Health    *HealthHandler
	Errors    *apierrors.ErrorHandler
	OTel      *middleware.OTelMiddleware
	Security  config.SecurityConfig
	Providers *infrastructure.OTelProviders
	Logger    *slog.Logger
}

// NewRouter assembles the full API router with the middleware chain:
// request ID, real IP, structured logging, recovery, CORS, metrics.
// The public validate endpoint is rate limited; the admin surface sits
// behind AdminAuth.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Compress(5))
	r.Use(render.SetContentType(render.ContentTypeJSON))
	if deps.OTel != nil {
		r.Use(deps.OTel.Handler)
	}
	if deps.Security.EnableCORS {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: deps.Security.AllowedOrigins,
			Logger:         deps.Logger,
		}))
	}
	r.Use(chimiddleware.Heartbeat("/ping"))

	r.NotFound(deps.Errors.NotFound)
	r.MethodNotAllowed(deps.Errors.MethodNotAllowed)

	r.Get("/healthz", deps.Health.Healthz)
	if deps.Providers != nil && deps.Providers.PrometheusHTTP != nil {
		r.Method(http.MethodGet, "/metrics", deps.Providers.PrometheusHTTP)
	}

	adminAuth := middleware.AdminAuth(deps.Security.AdminToken, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Route("/license", func(lr chi.Router) {
			if deps.Security.RateLimit.Enabled {
				limiter := middleware.NewRateLimiter(
					deps.Security.RateLimit.RPS,
					deps.Security.RateLimit.Burst,
					deps.Logger,
				)
				lr.With(limiter.Handler).Post("/validate", deps.License.Validate)
			} else {
				lr.Post("/validate", deps.License.Validate)
			}

			lr.Post("/bind-device", deps.License.BindDevice)
			lr.Get("/bindings/{key}", deps.License.Bindings)
			lr.Get("/can-change/{key}", deps.License.CanChange)
			lr.Post("/verify-token", deps.License.VerifyToken)

			lr.Group(func(admin chi.Router) {
				admin.Use(adminAuth)
				admin.Post("/generate", deps.Admin.Generate)
				admin.Post("/renew", deps.Admin.Renew)
				admin.Post("/revoke", deps.Admin.Revoke)
			})
		})

		api.Mount("/tiers", deps.Tiers.Routes())
		api.With(adminAuth).Get("/audit", deps.Admin.Audit)
		api.Mount("/webhook", deps.Webhook.Routes())
	})

	return r
}
