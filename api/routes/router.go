package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/engagement-metrics/api/controllers"
	"github.com/angelmondragon/engagement-metrics/api/middleware"
	"github.com/angelmondragon/engagement-metrics/internal/engagement"
	"github.com/angelmondragon/engagement-metrics/pkg/auth"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

// NewRouter mounts the health, metrics and engagement routes. rateStore may be
// nil, which disables throttling.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	pingers map[string]controllers.Pinger,
	rateStore middleware.RateLimiterStore,
	metricsHandler http.Handler,
	engagementService engagement.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.RateLimit.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	policy := middleware.NewRateLimitPolicy("engagement", cfg.RateLimit.Window, cfg.RateLimit.Limit)

	r.Route("/api/v1/engagement", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(policy, rateStore, logg))

		r.Get("/ranges", controllers.DefaultRanges(engagementService))
		r.Get("/interactions", controllers.InteractionMetrics(engagementService, logg))
		r.Get("/surveys", controllers.SurveyMetrics(engagementService, logg))

		r.Group(func(r chi.Router) {
			// Without token auth only dev environments may drop snapshots.
			if cfg.JWT.Enabled() || !cfg.App.IsDev() {
				r.Use(middleware.RequireRole(string(auth.RoleAdmin), logg))
			}
			r.Post("/snapshots/invalidate", controllers.InvalidateSnapshots(engagementService, logg))
		})
	})

	return r
}
