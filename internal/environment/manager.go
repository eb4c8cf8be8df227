// Package environment manages temporary, TTL-bound environments backed by cluster namespaces.
//
// Status is derived on every read from the stored record, the clock and whether the namespace
// still exists. Expired is never stored; Deleted is stored once and never reverts.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/metrics"
	"github.com/akmukhi/developer-self-service/internal/pkg/validate"
	"github.com/akmukhi/developer-self-service/internal/repository"
)

const (
	MinTTLHours = 1
	MaxTTLHours = 168

	// DefaultTTLHours applies when a create request omits ttl_hours.
	DefaultTTLHours = 24

	listConcurrency = 8
)

// Gateway is the subset of the cluster client the manager needs. Errors are classified with
// k8s.IsNotFound, k8s.IsAlreadyExists and k8s.IsUnavailable.
type Gateway interface {
	CreateNamespace(ctx context.Context, name string, labels map[string]string) (*models.Namespace, error)
	GetNamespace(ctx context.Context, name string) (*models.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error
	GetDeployment(ctx context.Context, namespace, name string) (*models.Deployment, error)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	EnvironmentChanged(event models.EnvironmentEvent)
}

// Manager owns the environment store and borrows the gateway.
type Manager struct {
	store    repository.EnvironmentStore
	gateway  Gateway
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
	// serviceNamespace resolves bare service ids.
	serviceNamespace string

	deletes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces uuid v4 generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithLogger sets the base logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithNotifier publishes created and deleted transitions to n.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithServiceNamespace sets the namespace used for service ids without a "namespace/" prefix.
func WithServiceNamespace(ns string) Option {
	return func(m *Manager) { m.serviceNamespace = ns }
}

// NewManager returns a manager over store and gateway.
func NewManager(store repository.EnvironmentStore, gateway Gateway, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		gateway:          gateway,
		log:              slog.Default(),
		now:              time.Now,
		newID:            func() string { return uuid.New().String() },
		serviceNamespace: "default",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create validates req, creates the namespace and records the environment as active.
func (m *Manager) Create(ctx context.Context, req models.EnvironmentCreate) (env *models.Environment, err error) {
	defer func() { record("create", err) }()
	log := logger.With(ctx, m.log)

	namespace, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	id := m.newID()
	if namespace == "" {
		namespace = deriveNamespace(req.Name, id)
	}
	createdAt := m.now()
	expiresAt := createdAt.Add(time.Duration(req.TTLHours) * time.Hour)
	labels := mergeLabels(req.Labels, id, req.Name, req.TTLHours, expiresAt)

	if _, err := m.gateway.CreateNamespace(ctx, namespace, labels); err != nil {
		if !k8s.IsAlreadyExists(err) {
			return nil, clusterErr("create namespace "+namespace, err)
		}
		log.Warn("Namespace already exists, reusing it", "namespace", namespace, "environment_id", id)
		if _, err := m.gateway.GetNamespace(ctx, namespace); err != nil {
			return nil, clusterErr("read existing namespace "+namespace, err)
		}
	}

	env = &models.Environment{
		ID:        id,
		Name:      req.Name,
		Namespace: namespace,
		Status:    models.EnvironmentActive,
		TTLHours:  req.TTLHours,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Services:  m.resolveServices(ctx, log, req.Services),
		Labels:    labels,
	}
	if err := m.store.Create(ctx, env); err != nil {
		return nil, fmt.Errorf("persist environment %s: %w", id, err)
	}
	log.Info("Environment created", "environment_id", id, "namespace", namespace, "ttl_hours", req.TTLHours,
		"expires_at", expiresAt, "services", len(env.Services))
	m.notify(models.EnvironmentCreatedEvent, "", env)
	return env.Clone(), nil
}

func validateCreate(req models.EnvironmentCreate) (namespace string, err error) {
	if n := utf8.RuneCountInString(req.Name); n < 1 || n > validate.DNSLabelMaxLen {
		return "", validationErrorf("name must be 1-%d characters, got %d", validate.DNSLabelMaxLen, n)
	}
	if req.TTLHours < MinTTLHours || req.TTLHours > MaxTTLHours {
		return "", validationErrorf("ttl_hours must be between %d and %d, got %d", MinTTLHours, MaxTTLHours, req.TTLHours)
	}
	if req.Namespace != "" {
		ns, ok := normalizeOverride(req.Namespace)
		if !ok {
			return "", validationErrorf("namespace %q must match [a-z0-9-]+", req.Namespace)
		}
		namespace = ns
	}
	for k, v := range req.Labels {
		if errs := validation.IsQualifiedName(k); len(errs) > 0 {
			return "", validationErrorf("label key %q: %s", k, strings.Join(errs, "; "))
		}
		if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
			return "", validationErrorf("label %q value %q: %s", k, v, strings.Join(errs, "; "))
		}
	}
	return namespace, nil
}

// resolveServices keeps the ids whose deployment can be found. Lookup failures only warn.
func (m *Manager) resolveServices(ctx context.Context, log *slog.Logger, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		ns, name, ok := validate.SplitServiceID(id, m.serviceNamespace)
		if !ok {
			log.Warn("Dropping malformed service id", "service_id", id)
			continue
		}
		if _, err := m.gateway.GetDeployment(ctx, ns, name); err != nil {
			log.Warn("Dropping unresolved service", "service_id", id, "error", err)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Get returns the environment with its derived status.
func (m *Manager) Get(ctx context.Context, id string) (*models.Environment, error) {
	env, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(id, err)
	}
	return m.reconcile(ctx, env)
}

// List returns environments matching filter. Status is compared against the derived status.
func (m *Manager) List(ctx context.Context, filter models.EnvironmentFilter) ([]*models.Environment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationErrorf("unknown status %q", filter.Status)
	}
	envs, err := m.store.List(ctx, filter.Namespace)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}

	derived := make([]*models.Environment, len(envs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, env := range envs {
		g.Go(func() error {
			d, err := m.reconcile(gctx, env)
			if err != nil {
				return err
			}
			derived[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*models.Environment, 0, len(derived))
	for _, env := range derived {
		if filter.Status == "" || env.Status == filter.Status {
			out = append(out, env)
		}
	}
	return out, nil
}

// reconcile checks the namespace and returns the record with its derived status.
func (m *Manager) reconcile(ctx context.Context, env *models.Environment) (*models.Environment, error) {
	if env.Status == models.EnvironmentDeleted {
		return env, nil
	}
	if _, err := m.gateway.GetNamespace(ctx, env.Namespace); err != nil {
		if !k8s.IsNotFound(err) {
			return nil, clusterErr("get namespace "+env.Namespace, err)
		}
		return m.markDeleted(ctx, env.ID, "namespace_missing")
	}
	if env.Status == models.EnvironmentActive && env.ExpiresAt.Before(m.now()) {
		env.Status = models.EnvironmentExpired
	}
	return env, nil
}

// markDeleted stores Deleted with deleted_at = now unless the record is already Deleted.
// The first transition wins; later calls keep the original deleted_at.
func (m *Manager) markDeleted(ctx context.Context, id, reason string) (*models.Environment, error) {
	transitioned := false
	env, err := m.store.Update(ctx, id, func(env *models.Environment) error {
		// Stores may rerun fn after a write conflict; only the committed run counts.
		transitioned = false
		if env.Status == models.EnvironmentDeleted {
			return nil
		}
		now := m.now()
		env.Status = models.EnvironmentDeleted
		env.DeletedAt = &now
		transitioned = true
		return nil
	})
	if err != nil {
		return nil, storeErr(id, err)
	}
	if transitioned {
		logger.With(ctx, m.log).Info("Environment marked deleted", "environment_id", id, "namespace", env.Namespace, "reason", reason)
		if reason == "namespace_missing" {
			metrics.EnvironmentsDeletedOutOfBand.Inc()
		}
		m.notify(models.EnvironmentDeletedEvent, reason, env)
	}
	return env, nil
}

func (m *Manager) notify(typ models.EnvironmentEventType, reason string, env *models.Environment) {
	if m.notifier == nil {
		return
	}
	m.notifier.EnvironmentChanged(models.EnvironmentEvent{
		Type:        typ,
		Reason:      reason,
		Environment: env.Clone(),
		Timestamp:   m.now(),
	})
}

// Delete removes the namespace and marks the environment deleted. Deleting a deleted
// environment succeeds without calling the cluster. Concurrent deletes of one id share a
// single cluster call, which runs detached from any one caller's cancellation; a caller
// whose ctx ends first gets ErrClusterUnavailable while the others still see the result.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	defer func() { record("delete", err) }()
	env, err := m.store.Get(ctx, id)
	if err != nil {
		return storeErr(id, err)
	}
	if env.Status == models.EnvironmentDeleted {
		return nil
	}
	ch := m.deletes.DoChan(id, func() (any, error) {
		return nil, m.delete(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: delete %s: %w", ErrClusterUnavailable, id, ctx.Err())
	}
}

func (m *Manager) delete(ctx context.Context, id string) error {
	env, err := m.store.Get(ctx, id)
	if err != nil {
		return storeErr(id, err)
	}
	if env.Status == models.EnvironmentDeleted {
		return nil
	}
	if err := m.gateway.DeleteNamespace(ctx, env.Namespace); err != nil {
		if !k8s.IsNotFound(err) {
			return clusterErr("delete namespace "+env.Namespace, err)
		}
		logger.With(ctx, m.log).Info("Namespace already gone", "environment_id", id, "namespace", env.Namespace)
	}
	_, err = m.markDeleted(ctx, id, "delete_requested")
	return err
}

func storeErr(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("environment store: %w", err)
}

func record(op string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		result = "invalid"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrClusterUnavailable):
		result = "cluster_unavailable"
	default:
		result = "error"
	}
	metrics.EnvironmentOperationsTotal.WithLabelValues(op, result).Inc()
}
