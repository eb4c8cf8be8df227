// Package metrics turns metrics-server samples into portal usage views: quantity parsing,
// formatting, aggregation and a short-lived cache.
package metrics

import (
	"context"
	"errors"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// ErrUnavailable is returned when the cluster has no metrics API.
var ErrUnavailable = errors.New("metrics API not available; ensure metrics-server is installed")

// Provider abstracts the metrics source. Implementations return raw usage only.
type Provider interface {
	// PodUsage returns usage of the pods in namespace matching labelSelector ("" for all).
	PodUsage(ctx context.Context, namespace, labelSelector string) ([]models.PodUsage, error)
	// NodeUsage returns usage of every node.
	NodeUsage(ctx context.Context) ([]models.NodeUsage, error)
	// Available probes the metrics API.
	Available(ctx context.Context) bool
}
