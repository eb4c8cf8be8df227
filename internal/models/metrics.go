package models

import "time"

// ContainerUsage is the usage of one container, in base units (cores, bytes).
type ContainerUsage struct {
	Name        string  `json:"name"`
	CPUCores    float64 `json:"cpu_cores"`
	MemoryBytes float64 `json:"memory_bytes"`
	CPU         string  `json:"cpu"`
	Memory      string  `json:"memory"`
}

// PodUsage is current CPU/memory for a pod.
type PodUsage struct {
	Name        string           `json:"name"`
	Namespace   string           `json:"namespace"`
	CPUCores    float64          `json:"cpu_cores"`
	MemoryBytes float64          `json:"memory_bytes"`
	CPU         string           `json:"cpu"`
	Memory      string           `json:"memory"`
	Containers  []ContainerUsage `json:"containers,omitempty"`
}

// UsageSummary is total and per-pod average usage over a set of pods.
type UsageSummary struct {
	TotalCPU      string  `json:"total_cpu"`
	TotalMemory   string  `json:"total_memory"`
	AverageCPU    string  `json:"average_cpu"`
	AverageMemory string  `json:"average_memory"`
	TotalCPUCores float64 `json:"total_cpu_cores"`
	TotalBytes    float64 `json:"total_memory_bytes"`
}

// WorkloadMetrics aggregates pod usage for a deployment or service.
type WorkloadMetrics struct {
	Name      string       `json:"name"`
	Namespace string       `json:"namespace"`
	PodCount  int          `json:"pod_count"`
	Pods      []PodUsage   `json:"pods"`
	Summary   UsageSummary `json:"summary"`
	Timestamp time.Time    `json:"timestamp"`
}

// NamespaceMetrics aggregates every pod in a namespace.
type NamespaceMetrics struct {
	Namespace string       `json:"namespace"`
	PodCount  int          `json:"pod_count"`
	Summary   UsageSummary `json:"summary"`
	Timestamp time.Time    `json:"timestamp"`
}

// NodeUsage is current usage of a node.
type NodeUsage struct {
	Name        string  `json:"name"`
	CPUCores    float64 `json:"cpu_cores"`
	MemoryBytes float64 `json:"memory_bytes"`
	CPU         string  `json:"cpu"`
	Memory      string  `json:"memory"`
}
