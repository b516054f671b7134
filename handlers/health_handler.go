package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/services/resilience"
	"github.com/normalman743/apiforward/utils"
)

// Pinger checks one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls the wrapped function.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	dependencies map[string]Pinger
	breakers     *resilience.BreakerSet
	logger       *zap.Logger
}

// NewHealthHandler creates a health handler over named dependency checks.
func NewHealthHandler(dependencies map[string]Pinger, breakers *resilience.BreakerSet, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		dependencies: dependencies,
		breakers:     breakers,
		logger:       logger,
	}
}

// HandleLiveness handles GET /healthz. Always OK while the process serves.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, map[string]string{"status": "ok"})
}

// HandleReadiness handles GET /readyz. Reports each backing dependency and
// the per-provider circuit states; any failed dependency makes the probe
// return 503.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string, len(h.dependencies))
	for name, pinger := range h.dependencies {
		if err := pinger.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	circuits := make(map[string]string)
	for provider, state := range h.breakers.States() {
		circuits[provider] = string(state)
	}

	body := map[string]interface{}{
		"status":   "ready",
		"checks":   checks,
		"circuits": circuits,
	}
	if !ready {
		body["status"] = "not_ready"
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	_ = utils.WriteOK(w, body)
}
