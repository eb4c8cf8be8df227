package models

import "time"

// DeploymentStatus is derived from Deployment conditions.
type DeploymentStatus string

const (
	DeploymentPending     DeploymentStatus = "pending"
	DeploymentProgressing DeploymentStatus = "progressing"
	DeploymentAvailable   DeploymentStatus = "available"
	DeploymentFailed      DeploymentStatus = "failed"
	DeploymentUnknown     DeploymentStatus = "unknown"
)

// PodStatus summarizes replica counts of a deployment.
type PodStatus struct {
	Ready       int32 `json:"ready"`
	Desired     int32 `json:"desired"`
	Available   int32 `json:"available"`
	Unavailable int32 `json:"unavailable"`
}

// Deployment is the portal view of an apps/v1 Deployment. ID is "namespace/name".
type Deployment struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Image     string            `json:"image"`
	ImageTag  string            `json:"image_tag,omitempty"`
	Status    DeploymentStatus  `json:"status"`
	Replicas  PodStatus         `json:"replicas"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`

	// First container only.
	Resources ResourceRequirements `json:"resources"`
	EnvVars   map[string]string    `json:"env_vars,omitempty"`
	Ports     []int32              `json:"ports,omitempty"`
}

// Namespace is the subset of namespace metadata the portal needs.
type Namespace struct {
	Name      string            `json:"name"`
	Phase     string            `json:"phase,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ServicePort is one port mapping of a k8s Service.
type ServicePort struct {
	Port       int32  `json:"port"`
	TargetPort int32  `json:"target_port"`
	Protocol   string `json:"protocol,omitempty"`
}

// KubeService is the portal view of a core/v1 Service.
type KubeService struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Type      string        `json:"type"`
	ClusterIP string        `json:"cluster_ip,omitempty"`
	Ports     []ServicePort `json:"ports"`
}
