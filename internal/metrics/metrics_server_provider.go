package metrics

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
)

// MetricsServerProvider reads metrics.k8s.io/v1beta1 through the guarded cluster client.
type MetricsServerProvider struct {
	client *k8s.Client
}

// NewMetricsServerProvider returns a provider backed by client.Metrics.
func NewMetricsServerProvider(client *k8s.Client) *MetricsServerProvider {
	return &MetricsServerProvider{client: client}
}

func (p *MetricsServerProvider) PodUsage(ctx context.Context, namespace, labelSelector string) ([]models.PodUsage, error) {
	if p.client == nil || p.client.Metrics == nil {
		return nil, ErrUnavailable
	}
	var list *metricsv1beta1.PodMetricsList
	err := p.client.Read(ctx, func(ctx context.Context) error {
		var err error
		list, err = p.client.Metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pod metrics: %w", err)
	}
	out := make([]models.PodUsage, 0, len(list.Items))
	for _, pm := range list.Items {
		out = append(out, podUsage(pm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func podUsage(pm metricsv1beta1.PodMetrics) models.PodUsage {
	u := models.PodUsage{
		Name:       pm.Name,
		Namespace:  pm.Namespace,
		Containers: make([]models.ContainerUsage, 0, len(pm.Containers)),
	}
	for _, c := range pm.Containers {
		cpu, mem := usage(c.Usage)
		u.CPUCores += cpu
		u.MemoryBytes += mem
		u.Containers = append(u.Containers, models.ContainerUsage{
			Name:        c.Name,
			CPUCores:    cpu,
			MemoryBytes: mem,
			CPU:         FormatCPU(cpu),
			Memory:      FormatMemory(mem),
		})
	}
	u.CPU = FormatCPU(u.CPUCores)
	u.Memory = FormatMemory(u.MemoryBytes)
	return u
}

func (p *MetricsServerProvider) NodeUsage(ctx context.Context) ([]models.NodeUsage, error) {
	if p.client == nil || p.client.Metrics == nil {
		return nil, ErrUnavailable
	}
	var list *metricsv1beta1.NodeMetricsList
	err := p.client.Read(ctx, func(ctx context.Context) error {
		var err error
		list, err = p.client.Metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("node metrics: %w", err)
	}
	out := make([]models.NodeUsage, 0, len(list.Items))
	for _, nm := range list.Items {
		cpu, mem := usage(nm.Usage)
		out = append(out, models.NodeUsage{
			Name:        nm.Name,
			CPUCores:    cpu,
			MemoryBytes: mem,
			CPU:         FormatCPU(cpu),
			Memory:      FormatMemory(mem),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Available lists at most one pod metric in kube-system.
func (p *MetricsServerProvider) Available(ctx context.Context) bool {
	if p.client == nil || p.client.Metrics == nil {
		return false
	}
	err := p.client.Read(ctx, func(ctx context.Context) error {
		_, err := p.client.Metrics.MetricsV1beta1().PodMetricses("kube-system").List(ctx, metav1.ListOptions{Limit: 1})
		return err
	})
	return err == nil
}

func usage(rl corev1.ResourceList) (cores, bytes float64) {
	if q, ok := rl[corev1.ResourceCPU]; ok {
		cores = q.AsApproximateFloat64()
	}
	if q, ok := rl[corev1.ResourceMemory]; ok {
		bytes = q.AsApproximateFloat64()
	}
	return cores, bytes
}
