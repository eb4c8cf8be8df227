package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/akmukhi/developer-self-service/internal/environment"
	"github.com/akmukhi/developer-self-service/internal/models"
)

// environmentCreateRequest distinguishes an omitted ttl_hours from an explicit 0.
type environmentCreateRequest struct {
	Name      string            `json:"name"`
	TTLHours  *int              `json:"ttl_hours"`
	Namespace string            `json:"namespace,omitempty"`
	Services  []string          `json:"services,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// CreateEnvironment handles POST /api/environments
func (h *Handler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	if h.environments == nil {
		notConfigured(w, r, "environment management")
		return
	}
	var body environmentCreateRequest
	if err := decodeJSON(r, &body); err != nil {
		RespondError(w, r, err)
		return
	}
	req := models.EnvironmentCreate{
		Name:      body.Name,
		TTLHours:  environment.DefaultTTLHours,
		Namespace: body.Namespace,
		Services:  body.Services,
		Labels:    body.Labels,
	}
	if body.TTLHours != nil {
		req.TTLHours = *body.TTLHours
	}

	env, err := h.environments.Create(r.Context(), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, env)
}

// ListEnvironments handles GET /api/environments?namespace=&status=
func (h *Handler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	if h.environments == nil {
		notConfigured(w, r, "environment management")
		return
	}
	filter := models.EnvironmentFilter{
		Namespace: r.URL.Query().Get("namespace"),
		Status:    models.EnvironmentStatus(r.URL.Query().Get("status")),
	}
	envs, err := h.environments.List(r.Context(), filter)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, envs)
}

// GetEnvironment handles GET /api/environments/{id}
func (h *Handler) GetEnvironment(w http.ResponseWriter, r *http.Request) {
	if h.environments == nil {
		notConfigured(w, r, "environment management")
		return
	}
	env, err := h.environments.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, env)
}

// DeleteEnvironment handles DELETE /api/environments/{id}. Deleting an already deleted
// environment succeeds.
func (h *Handler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if h.environments == nil {
		notConfigured(w, r, "environment management")
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.environments.Delete(r.Context(), id); err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"message": "Environment deleted", "id": id})
}
