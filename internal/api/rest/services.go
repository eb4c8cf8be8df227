package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// CreateService handles POST /api/services
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	if h.services == nil {
		notConfigured(w, r, "service catalog")
		return
	}
	var req models.ServiceCreate
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, err)
		return
	}
	svc, err := h.services.Create(r.Context(), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, svc)
}

// ListServices handles GET /api/services?namespace=
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	if h.services == nil {
		notConfigured(w, r, "service catalog")
		return
	}
	svcs, err := h.services.List(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, svcs)
}

// GetService handles GET /api/services/{id} and GET /api/services/{namespace}/{name}
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	if h.services == nil {
		notConfigured(w, r, "service catalog")
		return
	}
	svc, err := h.services.Get(r.Context(), serviceID(r))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, svc)
}

// ListDeployments handles GET /api/deployments?namespace=
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	if h.deployments == nil {
		notConfigured(w, r, "deployments")
		return
	}
	deps, err := h.deployments.List(r.Context(), r.URL.Query().Get("namespace"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, deps)
}

// GetDeployment handles GET /api/deployments/{namespace}/{name}
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	if h.deployments == nil {
		notConfigured(w, r, "deployments")
		return
	}
	vars := mux.Vars(r)
	dep, err := h.deployments.Get(r.Context(), vars["namespace"], vars["name"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, dep)
}

// RestartDeployment handles POST /api/deployments/{namespace}/{name}/restart
func (h *Handler) RestartDeployment(w http.ResponseWriter, r *http.Request) {
	if h.deployments == nil {
		notConfigured(w, r, "deployments")
		return
	}
	vars := mux.Vars(r)
	at, err := h.deployments.Restart(r.Context(), vars["namespace"], vars["name"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{
		"message":      "Deployment restart initiated",
		"id":           vars["namespace"] + "/" + vars["name"],
		"restarted_at": at.Format(time.RFC3339),
	})
}

// GetSecret handles GET /api/secrets/{id} and GET /api/secrets/{namespace}/{name}.
// Only metadata is returned; values never leave the cluster.
func (h *Handler) GetSecret(w http.ResponseWriter, r *http.Request) {
	if h.secrets == nil {
		notConfigured(w, r, "secrets")
		return
	}
	secret, err := h.secrets.Get(r.Context(), serviceID(r))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, secret)
}

// RotateSecret handles POST /api/secrets/{id}/rotate. An empty body rotates every key and
// restarts the namespace's deployments.
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	if h.secrets == nil {
		notConfigured(w, r, "secrets")
		return
	}
	var req models.SecretRotateRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, err)
		return
	}
	result, err := h.secrets.Rotate(r.Context(), serviceID(r), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, result)
}
