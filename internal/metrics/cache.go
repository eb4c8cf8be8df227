package metrics

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/akmukhi/developer-self-service/internal/models"
	pkgmetrics "github.com/akmukhi/developer-self-service/internal/pkg/metrics"
)

const (
	defaultMetricsCacheTTL  = 30 * time.Second
	defaultMetricsCacheSize = 512
)

// PodUsageCache caches pod usage lists by key (namespace + selector).
type PodUsageCache interface {
	Get(key string) ([]models.PodUsage, bool)
	Set(key string, pods []models.PodUsage)
}

// LRUPodUsageCache is a bounded TTL cache. Not shared between replicas.
type LRUPodUsageCache struct {
	lru *expirable.LRU[string, []models.PodUsage]
}

// NewLRUPodUsageCache returns a cache whose entries expire after ttl.
func NewLRUPodUsageCache(ttl time.Duration) *LRUPodUsageCache {
	if ttl <= 0 {
		ttl = defaultMetricsCacheTTL
	}
	return &LRUPodUsageCache{
		lru: expirable.NewLRU[string, []models.PodUsage](defaultMetricsCacheSize, nil, ttl),
	}
}

func (c *LRUPodUsageCache) Get(key string) ([]models.PodUsage, bool) {
	pods, ok := c.lru.Get(key)
	if ok {
		pkgmetrics.MetricsCacheHitsTotal.Inc()
	} else {
		pkgmetrics.MetricsCacheMissesTotal.Inc()
	}
	return pods, ok
}

func (c *LRUPodUsageCache) Set(key string, pods []models.PodUsage) {
	c.lru.Add(key, pods)
}

// CacheKey builds a stable key for a pod set.
func CacheKey(namespace, selector string) string {
	return namespace + ":" + selector
}
