package models

import "time"

// ServiceStatus is the portal-level status of a service triad.
type ServiceStatus string

const (
	ServicePending  ServiceStatus = "pending"
	ServiceCreating ServiceStatus = "creating"
	ServiceRunning  ServiceStatus = "running"
	ServiceFailed   ServiceStatus = "failed"
	ServiceStopped  ServiceStatus = "stopped"
)

// ResourceRequirements are the container CPU/memory requests.
type ResourceRequirements struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// ServiceCreate is the request body for creating a service (deployment + k8s Service + secret).
type ServiceCreate struct {
	Name      string                `json:"name"`
	Image     string                `json:"image"`
	Replicas  int                   `json:"replicas"`
	Namespace string                `json:"namespace,omitempty"`
	Resources *ResourceRequirements `json:"resources,omitempty"`
	EnvVars   map[string]string     `json:"env_vars,omitempty"`
	Ports     []int32               `json:"ports,omitempty"`
}

// Service is a portal-managed workload.
type Service struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Image      string               `json:"image"`
	Replicas   int                  `json:"replicas"`
	Namespace  string               `json:"namespace"`
	Status     ServiceStatus        `json:"status"`
	Resources  ResourceRequirements `json:"resources"`
	EnvVars    map[string]string    `json:"env_vars"`
	Ports      []int32              `json:"ports"`
	SecretName string               `json:"secret_name,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  *time.Time           `json:"updated_at,omitempty"`
}
