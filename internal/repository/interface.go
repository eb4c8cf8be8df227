// Package repository persists environment records. Records are never physically removed;
// deleted environments stay as tombstones.
package repository

import (
	"context"
	"errors"

	"github.com/akmukhi/developer-self-service/internal/models"
)

var (
	// ErrNotFound is returned by every store for an unknown id.
	ErrNotFound = errors.New("environment record not found")
	// ErrExists is returned by Create for a duplicate id.
	ErrExists = errors.New("environment record already exists")
)

// UpdateFunc mutates a copy of the stored record. Returning an error aborts the update and
// leaves the stored record unchanged.
type UpdateFunc func(env *models.Environment) error

// EnvironmentStore is safe for concurrent use. Update is an atomic read-modify-write.
type EnvironmentStore interface {
	Create(ctx context.Context, env *models.Environment) error
	Get(ctx context.Context, id string) (*models.Environment, error)
	// List returns records ordered by creation time. An empty namespace matches all.
	List(ctx context.Context, namespace string) ([]*models.Environment, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Environment, error)
	Close() error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
