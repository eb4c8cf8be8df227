package models

import "time"

// PodLogs holds the log lines of one pod.
type PodLogs struct {
	Pod       string   `json:"pod"`
	Phase     string   `json:"phase,omitempty"`
	Ready     bool     `json:"ready"`
	Container string   `json:"container,omitempty"`
	Lines     []string `json:"lines"`
	Error     string   `json:"error,omitempty"`
}

// ServiceLogs groups pod logs for a service or deployment.
type ServiceLogs struct {
	ServiceID   string    `json:"service_id"`
	Namespace   string    `json:"namespace"`
	Selector    string    `json:"selector,omitempty"`
	Pods        []PodLogs `json:"pods"`
	TotalPods   int       `json:"total_pods"`
	TotalLines  int       `json:"total_lines"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// LogMatch is a single line that matched a search.
type LogMatch struct {
	Pod        string `json:"pod"`
	LineNumber int    `json:"line_number"`
	Line       string `json:"line"`
}

// LogSearchResult lists matching lines across the pods of a service.
type LogSearchResult struct {
	ServiceID    string     `json:"service_id"`
	Namespace    string     `json:"namespace"`
	Term         string     `json:"search_term"`
	Matches      []LogMatch `json:"matches"`
	TotalMatches int        `json:"total_matches"`
	Truncated    bool       `json:"truncated"`
}

// PodLogStats counts one pod's lines by coarse severity.
type PodLogStats struct {
	Pod      string `json:"pod"`
	Lines    int    `json:"lines"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
	Info     int    `json:"info"`
}

// LogStats counts lines by coarse severity.
type LogStats struct {
	ServiceID    string        `json:"service_id"`
	Namespace    string        `json:"namespace"`
	TotalPods    int           `json:"total_pods"`
	TotalLines   int           `json:"total_lines"`
	ErrorCount   int           `json:"error_count"`
	WarningCount int           `json:"warning_count"`
	InfoCount    int           `json:"info_count"`
	PodStats     []PodLogStats `json:"pod_stats"`
}
