package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/repository"
)

const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status           string      `json:"status"`
	Cluster          *k8s.Health `json:"cluster,omitempty"`
	MetricsAvailable *bool       `json:"metrics_available,omitempty"`
	Store            string      `json:"store,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Health handles GET /health. The process is up, so this is always 200; "degraded" means a
// dependency is failing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.check(r.Context(), true)
	respond(w, r, http.StatusOK, resp)
}

// Ready handles GET /health/ready - readiness probe (cluster and store reachable)
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := h.check(r.Context(), false)
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respond(w, r, status, resp)
}

func (h *Handler) check(ctx context.Context, withMetrics bool) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()}
	if h.cluster != nil {
		if err := h.cluster.TestConnection(ctx); err != nil {
			resp.Status = "degraded"
		}
		health := h.cluster.HealthStatus()
		resp.Cluster = &health
	}
	if pinger, ok := h.store.(repository.Pinger); ok {
		resp.Store = "ok"
		if err := pinger.Ping(ctx); err != nil {
			resp.Store = err.Error()
			resp.Status = "degraded"
		}
	}
	if withMetrics && h.metrics != nil {
		available := h.metrics.Available(ctx)
		resp.MetricsAvailable = &available
	}
	return resp
}
