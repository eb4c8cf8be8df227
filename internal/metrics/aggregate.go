// Quantity helpers shared by the metrics service and service creation.
// Values are carried in base units (cores, bytes) and formatted only at the edge.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/akmukhi/developer-self-service/internal/models"
)

const (
	kib = 1024.0
	mib = kib * 1024
	gib = mib * 1024
	tib = gib * 1024
)

// ParseQuantity converts a Kubernetes quantity ("100m", "250n", "1Gi", "2K", "0.5") into base
// units: cores for CPU, bytes for memory. An upper-case "K" decimal suffix is accepted.
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	q, err := resource.ParseQuantity(s)
	if err != nil && strings.HasSuffix(s, "K") {
		q, err = resource.ParseQuantity(strings.TrimSuffix(s, "K") + "k")
	}
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return q.AsApproximateFloat64(), nil
}

// FormatCPU renders cores: below one core as whole millicores ("250m"), otherwise "1.50".
func FormatCPU(cores float64) string {
	if cores < 1.0 {
		return fmt.Sprintf("%dm", int(math.Round(cores*1000)))
	}
	return fmt.Sprintf("%.2f", cores)
}

// FormatMemory renders bytes with the largest binary unit up to Ti.
func FormatMemory(bytes float64) string {
	switch {
	case bytes < kib:
		return fmt.Sprintf("%dB", int(bytes))
	case bytes < mib:
		return fmt.Sprintf("%.2fKi", bytes/kib)
	case bytes < gib:
		return fmt.Sprintf("%.2fMi", bytes/mib)
	case bytes < tib:
		return fmt.Sprintf("%.2fGi", bytes/gib)
	default:
		return fmt.Sprintf("%.2fTi", bytes/tib)
	}
}

// Summarize sums pod usage and averages it over the pods that reported metrics.
func Summarize(pods []models.PodUsage) models.UsageSummary {
	var cpu, mem float64
	for _, p := range pods {
		cpu += p.CPUCores
		mem += p.MemoryBytes
	}
	var avgCPU, avgMem float64
	if n := float64(len(pods)); n > 0 {
		avgCPU, avgMem = cpu/n, mem/n
	}
	return models.UsageSummary{
		TotalCPU:      FormatCPU(cpu),
		TotalMemory:   FormatMemory(mem),
		AverageCPU:    FormatCPU(avgCPU),
		AverageMemory: FormatMemory(avgMem),
		TotalCPUCores: cpu,
		TotalBytes:    mem,
	}
}
