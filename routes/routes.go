// Package routes configures the HTTP router and middleware stack.
package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normalman743/apiforward/app"
	"github.com/normalman743/apiforward/handlers"
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// No router-level timeout: streaming responses outlive any sensible
	// per-request cap, and non-streaming calls are bounded by the
	// executor's budget.

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	completionHandler := handlers.NewCompletionHandler(deps.Router, deps.Logger)
	modelsHandler := handlers.NewModelsHandler(deps.Providers, deps.Logger)
	usageHandler := handlers.NewUsageHandler(deps.LedgerRepo, deps.Logger)
	healthHandler := handlers.NewHealthHandler(healthChecks(deps), deps.Breakers, deps.Logger)

	r.Get("/healthz", healthHandler.HandleLiveness)
	r.Get("/readyz", healthHandler.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.PromRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/completions", completionHandler.HandleCompletion)
		r.Get("/models", modelsHandler.HandleListModels)
		r.Get("/models/{model}", modelsHandler.HandleGetModel)
		r.Get("/usage", usageHandler.HandleQueryUsage)
	})

	return r
}

func healthChecks(deps *app.Dependencies) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{
		"mongo": deps.Mongo,
	}
	if deps.Redis != nil {
		checks["redis"] = handlers.PingerFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	return checks
}
