package repository

import (
	"time"

	"github.com/akmukhi/developer-self-service/internal/pkg/metrics"
)

// instrument times a store operation.
func instrument(backend, operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StoreQueryDurationSeconds.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	return err
}
