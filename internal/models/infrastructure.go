package models

import "time"

// PlanChanges is the resource change summary of a terraform plan.
type PlanChanges struct {
	Add     int `json:"add"`
	Change  int `json:"change"`
	Destroy int `json:"destroy"`
}

// Workspace is a terraform working directory managed by the portal.
type Workspace struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkspaceCreate is the request body for creating and initializing a workspace.
type WorkspaceCreate struct {
	ModulePath    string            `json:"module_path,omitempty"`
	BackendConfig map[string]string `json:"backend_config,omitempty"`
}

// PlanRequest carries terraform variables for plan and destroy.
type PlanRequest struct {
	Variables map[string]any `json:"variables,omitempty"`
	Destroy   bool           `json:"destroy,omitempty"`
}

// PlanResult is the outcome of terraform plan.
type PlanResult struct {
	Success     bool        `json:"success"`
	PlanFile    string      `json:"plan_file,omitempty"`
	Output      string      `json:"output"`
	Changes     PlanChanges `json:"changes"`
	WillDestroy bool        `json:"will_destroy"`
	Error       string      `json:"error,omitempty"`
}

// ApplyResult is the outcome of terraform apply or destroy.
type ApplyResult struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// CommandResult is the outcome of a terraform command that produces no structured data.
type CommandResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}
