package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/metrics"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
)

// MetricsService reports CPU and memory usage from the metrics provider.
type MetricsService interface {
	ServiceMetrics(ctx context.Context, serviceID, namespace string) (*models.WorkloadMetrics, error)
	NamespaceMetrics(ctx context.Context, namespace string) (*models.NamespaceMetrics, error)
	NodeMetrics(ctx context.Context) ([]models.NodeUsage, error)
	Available(ctx context.Context) bool
}

type metricsService struct {
	client   *k8s.Client
	provider metrics.Provider
	cache    metrics.PodUsageCache
	log      *slog.Logger
	now      func() time.Time
}

// NewMetricsService returns a MetricsService. cache may be nil to disable caching.
func NewMetricsService(client *k8s.Client, provider metrics.Provider, cache metrics.PodUsageCache, log *slog.Logger) MetricsService {
	if log == nil {
		log = slog.Default()
	}
	return &metricsService{client: client, provider: provider, cache: cache, log: log, now: time.Now}
}

func (s *metricsService) podUsage(ctx context.Context, namespace, selector string) ([]models.PodUsage, error) {
	key := metrics.CacheKey(namespace, selector)
	if s.cache != nil {
		if pods, ok := s.cache.Get(key); ok {
			return pods, nil
		}
	}
	pods, err := s.provider.PodUsage(ctx, namespace, selector)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, pods)
	}
	return pods, nil
}

// ServiceMetrics aggregates the pods of a service. The workload's pod selector is found the same
// way logs find pods; a service with no pods reports zero usage.
func (s *metricsService) ServiceMetrics(ctx context.Context, serviceID, namespace string) (*models.WorkloadMetrics, error) {
	ns, name, err := resolve(serviceID, namespace)
	if err != nil {
		return nil, err
	}
	_, selector, err := s.client.FindWorkloadPods(ctx, ns, name)
	if err != nil {
		return nil, fmt.Errorf("find pods: %w", err)
	}
	out := &models.WorkloadMetrics{
		Name:      name,
		Namespace: ns,
		Pods:      []models.PodUsage{},
		Timestamp: s.now().UTC(),
	}
	if selector == "" {
		logger.With(ctx, s.log).Debug("No pods for metrics", "service_id", serviceID, "namespace", ns)
		out.Summary = metrics.Summarize(nil)
		return out, nil
	}
	pods, err := s.podUsage(ctx, ns, selector)
	if err != nil {
		return nil, err
	}
	out.Pods = pods
	out.PodCount = len(pods)
	out.Summary = metrics.Summarize(pods)
	return out, nil
}

func (s *metricsService) NamespaceMetrics(ctx context.Context, namespace string) (*models.NamespaceMetrics, error) {
	if namespace == "" {
		return nil, validationErrorf("namespace is required")
	}
	pods, err := s.podUsage(ctx, namespace, "")
	if err != nil {
		return nil, err
	}
	return &models.NamespaceMetrics{
		Namespace: namespace,
		PodCount:  len(pods),
		Summary:   metrics.Summarize(pods),
		Timestamp: s.now().UTC(),
	}, nil
}

func (s *metricsService) NodeMetrics(ctx context.Context) ([]models.NodeUsage, error) {
	return s.provider.NodeUsage(ctx)
}

func (s *metricsService) Available(ctx context.Context) bool {
	return s.provider.Available(ctx)
}
