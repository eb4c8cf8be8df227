package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetServiceMetrics handles GET /api/metrics/{service_id}?namespace=
func (h *Handler) GetServiceMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		notConfigured(w, r, "metrics")
		return
	}
	m, err := h.metrics.ServiceMetrics(r.Context(), mux.Vars(r)["service_id"], r.URL.Query().Get("namespace"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, m)
}

// GetNamespaceMetrics handles GET /api/metrics/namespaces/{namespace}
func (h *Handler) GetNamespaceMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		notConfigured(w, r, "metrics")
		return
	}
	m, err := h.metrics.NamespaceMetrics(r.Context(), mux.Vars(r)["namespace"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, m)
}

// GetNodeMetrics handles GET /api/metrics/nodes
func (h *Handler) GetNodeMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		notConfigured(w, r, "metrics")
		return
	}
	nodes, err := h.metrics.NodeMetrics(r.Context())
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, nodes)
}
