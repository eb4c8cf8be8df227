package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/repository"
	"github.com/akmukhi/developer-self-service/internal/service"
)

// EnvironmentManager is the environment lifecycle API the handlers call.
type EnvironmentManager interface {
	Create(ctx context.Context, req models.EnvironmentCreate) (*models.Environment, error)
	Get(ctx context.Context, id string) (*models.Environment, error)
	List(ctx context.Context, filter models.EnvironmentFilter) ([]*models.Environment, error)
	Delete(ctx context.Context, id string) error
}

// Infrastructure is the terraform workspace API the handlers call.
type Infrastructure interface {
	Create(id string) (*models.Workspace, error)
	Get(id string) (*models.Workspace, error)
	List() ([]models.Workspace, error)
	Init(ctx context.Context, id string, req models.WorkspaceCreate) (*models.CommandResult, error)
	Plan(ctx context.Context, id string, req models.PlanRequest) (*models.PlanResult, error)
	Apply(ctx context.Context, id string) (*models.ApplyResult, error)
	Destroy(ctx context.Context, id string, vars map[string]any) (*models.CommandResult, error)
	Outputs(ctx context.Context, id string) (map[string]any, error)
	State(ctx context.Context, id string) (map[string]any, error)
	Validate(ctx context.Context, id string) (*models.CommandResult, error)
	FormatCheck(ctx context.Context, id string) (*models.CommandResult, error)
	Cleanup(id string) error
}

// Cluster reports cluster connectivity for the health endpoints.
type Cluster interface {
	TestConnection(ctx context.Context) error
	HealthStatus() k8s.Health
}

// Deps are the collaborators of Handler. Nil services disable their routes with 501.
type Deps struct {
	Environments   EnvironmentManager
	Services       service.CatalogService
	Deployments    service.DeploymentService
	Secrets        service.SecretsService
	Logs           service.LogsService
	Metrics        service.MetricsService
	Infrastructure Infrastructure
	Cluster        Cluster
	Store          repository.EnvironmentStore
	Logger         *slog.Logger
}

// Handler manages HTTP request handlers
type Handler struct {
	environments   EnvironmentManager
	services       service.CatalogService
	deployments    service.DeploymentService
	secrets        service.SecretsService
	logs           service.LogsService
	metrics        service.MetricsService
	infrastructure Infrastructure
	cluster        Cluster
	store          repository.EnvironmentStore
	log            *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		environments:   d.Environments,
		services:       d.Services,
		deployments:    d.Deployments,
		secrets:        d.Secrets,
		logs:           d.Logs,
		metrics:        d.Metrics,
		infrastructure: d.Infrastructure,
		cluster:        d.Cluster,
		store:          d.Store,
		log:            log,
	}
}

// SetupRoutes configures API routes. The log stream websocket is registered by the caller.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/health/ready", h.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Services
	api.HandleFunc("/services", h.ListServices).Methods("GET")
	api.HandleFunc("/services", h.CreateService).Methods("POST")
	api.HandleFunc("/services/{id}", h.GetService).Methods("GET")
	api.HandleFunc("/services/{namespace}/{name}", h.GetService).Methods("GET")

	// Deployments
	api.HandleFunc("/deployments", h.ListDeployments).Methods("GET")
	api.HandleFunc("/deployments/{namespace}/{name}", h.GetDeployment).Methods("GET")
	api.HandleFunc("/deployments/{namespace}/{name}/restart", h.RestartDeployment).Methods("POST")

	// Environments
	api.HandleFunc("/environments", h.ListEnvironments).Methods("GET")
	api.HandleFunc("/environments", h.CreateEnvironment).Methods("POST")
	api.HandleFunc("/environments/{id}", h.GetEnvironment).Methods("GET")
	api.HandleFunc("/environments/{id}", h.DeleteEnvironment).Methods("DELETE")

	// Secrets
	api.HandleFunc("/secrets/{id}", h.GetSecret).Methods("GET")
	api.HandleFunc("/secrets/{id}/rotate", h.RotateSecret).Methods("POST")
	api.HandleFunc("/secrets/{namespace}/{name}", h.GetSecret).Methods("GET")
	api.HandleFunc("/secrets/{namespace}/{name}/rotate", h.RotateSecret).Methods("POST")

	// Logs
	api.HandleFunc("/logs/{service_id}", h.GetLogs).Methods("GET")
	api.HandleFunc("/logs/{service_id}/search", h.SearchLogs).Methods("GET")
	api.HandleFunc("/logs/{service_id}/stats", h.GetLogStats).Methods("GET")

	// Metrics; fixed segments before {service_id}
	api.HandleFunc("/metrics/nodes", h.GetNodeMetrics).Methods("GET")
	api.HandleFunc("/metrics/namespaces/{namespace}", h.GetNamespaceMetrics).Methods("GET")
	api.HandleFunc("/metrics/{service_id}", h.GetServiceMetrics).Methods("GET")

	// Infrastructure
	api.HandleFunc("/infrastructure/workspaces", h.ListWorkspaces).Methods("GET")
	api.HandleFunc("/infrastructure/workspaces", h.CreateWorkspace).Methods("POST")
	api.HandleFunc("/infrastructure/workspaces/{id}", h.GetWorkspace).Methods("GET")
	api.HandleFunc("/infrastructure/workspaces/{id}", h.DeleteWorkspace).Methods("DELETE")
	api.HandleFunc("/infrastructure/workspaces/{id}/plan", h.PlanWorkspace).Methods("POST")
	api.HandleFunc("/infrastructure/workspaces/{id}/apply", h.ApplyWorkspace).Methods("POST")
	api.HandleFunc("/infrastructure/workspaces/{id}/destroy", h.DestroyWorkspace).Methods("POST")
	api.HandleFunc("/infrastructure/workspaces/{id}/outputs", h.WorkspaceOutputs).Methods("GET")
	api.HandleFunc("/infrastructure/workspaces/{id}/state", h.WorkspaceState).Methods("GET")
	api.HandleFunc("/infrastructure/workspaces/{id}/validate", h.ValidateWorkspace).Methods("POST")
}

// notConfigured answers for a route whose backing service was not wired.
func notConfigured(w http.ResponseWriter, r *http.Request, what string) {
	respondStructuredError(w, r, http.StatusNotImplemented, "NOT_CONFIGURED", what+" is not configured", nil)
}

// serviceID joins the {namespace}/{name} or {id} route variables into a service id.
func serviceID(r *http.Request) string {
	vars := mux.Vars(r)
	if id, ok := vars["id"]; ok {
		return id
	}
	return vars["namespace"] + "/" + vars["name"]
}
