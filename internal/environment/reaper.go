package environment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// Reaper periodically deletes environments whose derived status is expired.
// It is off unless started; without it expiry is only observed on reads.
type Reaper struct {
	manager  *Manager
	interval time.Duration
	log      *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewReaper creates a reaper that sweeps every interval.
func NewReaper(manager *Manager, interval time.Duration, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		manager:  manager,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop or ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.log.Info("Starting environment reaper", "interval", r.interval)

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-r.stopCh:
				r.log.Info("Environment reaper stopped")
				return
			case <-ctx.Done():
				r.log.Info("Environment reaper context cancelled")
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.done
	}
}

// Sweep deletes every expired environment once and returns how many were deleted.
func (r *Reaper) Sweep(ctx context.Context) int {
	start := time.Now()
	expired, err := r.manager.List(ctx, models.EnvironmentFilter{Status: models.EnvironmentExpired})
	if err != nil {
		r.log.Error("Environment sweep failed", "error", err)
		return 0
	}
	deleted := 0
	for _, env := range expired {
		if err := r.manager.Delete(ctx, env.ID); err != nil {
			r.log.Warn("Failed to delete expired environment", "environment_id", env.ID, "namespace", env.Namespace, "error", err)
			continue
		}
		deleted++
	}
	if len(expired) > 0 {
		r.log.Info("Environment sweep completed", "expired", len(expired), "deleted", deleted, "duration", time.Since(start))
	}
	return deleted
}
