package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/akmukhi/developer-self-service/internal/models"
)

type workspaceCreateRequest struct {
	ID string `json:"id,omitempty"`
	models.WorkspaceCreate
	// SkipInit leaves the workspace uninitialized.
	SkipInit bool `json:"skip_init,omitempty"`
}

type workspaceCreateResponse struct {
	Workspace *models.Workspace     `json:"workspace"`
	Init      *models.CommandResult `json:"init,omitempty"`
}

type destroyRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
}

// CreateWorkspace handles POST /api/infrastructure/workspaces: creates the directory and runs
// terraform init unless skip_init is set.
func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	var req workspaceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, err)
		return
	}
	ws, err := h.infrastructure.Create(req.ID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	resp := workspaceCreateResponse{Workspace: ws}
	if !req.SkipInit {
		res, err := h.infrastructure.Init(r.Context(), ws.ID, req.WorkspaceCreate)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		resp.Init = res
	}
	respond(w, r, http.StatusCreated, resp)
}

// ListWorkspaces handles GET /api/infrastructure/workspaces
func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	list, err := h.infrastructure.List()
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, list)
}

// GetWorkspace handles GET /api/infrastructure/workspaces/{id}
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	ws, err := h.infrastructure.Get(mux.Vars(r)["id"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, ws)
}

// DeleteWorkspace handles DELETE /api/infrastructure/workspaces/{id}. Only the local directory
// is removed; run destroy first to tear down resources.
func (h *Handler) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.infrastructure.Cleanup(id); err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"message": "Workspace removed", "id": id})
}

// PlanWorkspace handles POST /api/infrastructure/workspaces/{id}/plan
func (h *Handler) PlanWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	var req models.PlanRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, err)
		return
	}
	res, err := h.infrastructure.Plan(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

// ApplyWorkspace handles POST /api/infrastructure/workspaces/{id}/apply
func (h *Handler) ApplyWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	res, err := h.infrastructure.Apply(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

// DestroyWorkspace handles POST /api/infrastructure/workspaces/{id}/destroy
func (h *Handler) DestroyWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	var req destroyRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, err)
		return
	}
	res, err := h.infrastructure.Destroy(r.Context(), mux.Vars(r)["id"], req.Variables)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

// WorkspaceOutputs handles GET /api/infrastructure/workspaces/{id}/outputs
func (h *Handler) WorkspaceOutputs(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	out, err := h.infrastructure.Outputs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, out)
}

// WorkspaceState handles GET /api/infrastructure/workspaces/{id}/state
func (h *Handler) WorkspaceState(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	state, err := h.infrastructure.State(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, state)
}

// ValidateWorkspace handles POST /api/infrastructure/workspaces/{id}/validate: terraform
// validate plus fmt -check.
func (h *Handler) ValidateWorkspace(w http.ResponseWriter, r *http.Request) {
	if h.infrastructure == nil {
		notConfigured(w, r, "infrastructure")
		return
	}
	id := mux.Vars(r)["id"]
	validation, err := h.infrastructure.Validate(r.Context(), id)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	format, err := h.infrastructure.FormatCheck(r.Context(), id)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]*models.CommandResult{
		"validate": validation,
		"format":   format,
	})
}
