package models

import "time"

// EnvironmentStatus is the lifecycle state of a temporary environment.
type EnvironmentStatus string

const (
	EnvironmentCreating EnvironmentStatus = "creating"
	EnvironmentActive   EnvironmentStatus = "active"
	EnvironmentExpiring EnvironmentStatus = "expiring"
	// EnvironmentExpired is only ever derived at read time; it is never stored.
	EnvironmentExpired EnvironmentStatus = "expired"
	// EnvironmentDeleted is terminal.
	EnvironmentDeleted EnvironmentStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s EnvironmentStatus) Valid() bool {
	switch s {
	case EnvironmentCreating, EnvironmentActive, EnvironmentExpiring, EnvironmentExpired, EnvironmentDeleted:
		return true
	}
	return false
}

// Environment is a namespace-scoped, TTL-bound sandbox.
type Environment struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Status    EnvironmentStatus `json:"status"`
	TTLHours  int               `json:"ttl_hours"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
	Services  []string          `json:"services"`
	Labels    map[string]string `json:"labels"`
}

// Clone returns a deep copy so stored records are never aliased by callers.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	c := *e
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	c.Services = append([]string(nil), e.Services...)
	if e.Labels != nil {
		c.Labels = make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}

// EnvironmentCreate is the request body for creating an environment.
type EnvironmentCreate struct {
	Name      string            `json:"name"`
	TTLHours  int               `json:"ttl_hours"`
	Namespace string            `json:"namespace,omitempty"`
	Services  []string          `json:"services,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// EnvironmentFilter narrows List results. Empty fields match everything.
type EnvironmentFilter struct {
	Namespace string
	Status    EnvironmentStatus
}

// EnvironmentEventType names a lifecycle transition.
type EnvironmentEventType string

const (
	EnvironmentCreatedEvent EnvironmentEventType = "created"
	EnvironmentDeletedEvent EnvironmentEventType = "deleted"
)

// EnvironmentEvent is published when an environment is created or transitions to deleted.
// Reason is "delete_requested" or "namespace_missing" for deletions.
type EnvironmentEvent struct {
	Type        EnvironmentEventType `json:"type"`
	Reason      string               `json:"reason,omitempty"`
	Environment *Environment         `json:"environment"`
	Timestamp   time.Time            `json:"timestamp"`
}
