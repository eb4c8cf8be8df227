package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
)

const (
	DefaultTailLines   = 100
	DefaultSearchLines = 1000
	DefaultMaxMatches  = 500
	// SinceTailLines caps "logs since N minutes" reads.
	SinceTailLines = 10000

	podLogConcurrency = 8
)

// LogQuery selects the pods and lines of a log read. Zero values use the defaults.
type LogQuery struct {
	Namespace    string
	Pod          string
	Container    string
	TailLines    int64
	SinceSeconds int64
	Previous     bool
}

// SearchQuery is a substring search over recent log lines.
type SearchQuery struct {
	LogQuery
	Term          string
	CaseSensitive bool
	MaxResults    int
}

// LogsService reads the logs of a service's pods.
type LogsService interface {
	ServiceLogs(ctx context.Context, serviceID string, q LogQuery) (*models.ServiceLogs, error)
	Since(ctx context.Context, serviceID, namespace string, minutes int) (*models.ServiceLogs, error)
	Search(ctx context.Context, serviceID string, q SearchQuery) (*models.LogSearchResult, error)
	Stats(ctx context.Context, serviceID string, q LogQuery) (*models.LogStats, error)
	// Follow streams one pod's log. It returns the pod name with the stream.
	Follow(ctx context.Context, serviceID string, q LogQuery) (io.ReadCloser, string, error)
}

type logsService struct {
	client *k8s.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewLogsService returns a LogsService over client.
func NewLogsService(client *k8s.Client, log *slog.Logger) LogsService {
	if log == nil {
		log = slog.Default()
	}
	return &logsService{client: client, log: log, now: time.Now}
}

// resolve turns a service id and optional namespace override into a namespace and workload name.
func resolve(serviceID, namespace string) (string, string, error) {
	ns, name, err := splitServiceID(serviceID)
	if err != nil {
		return "", "", err
	}
	if namespace != "" {
		ns = namespace
	}
	return ns, name, nil
}

func (s *logsService) ServiceLogs(ctx context.Context, serviceID string, q LogQuery) (*models.ServiceLogs, error) {
	ns, name, err := resolve(serviceID, q.Namespace)
	if err != nil {
		return nil, err
	}
	if q.TailLines <= 0 {
		q.TailLines = DefaultTailLines
	}
	pods, selector, err := s.client.FindWorkloadPods(ctx, ns, name)
	if err != nil {
		return nil, fmt.Errorf("find pods: %w", err)
	}
	out := &models.ServiceLogs{
		ServiceID:   serviceID,
		Namespace:   ns,
		Selector:    selector,
		Pods:        make([]models.PodLogs, len(pods)),
		TotalPods:   len(pods),
		RetrievedAt: s.now().UTC(),
	}
	if len(pods) == 0 {
		logger.With(ctx, s.log).Warn("No pods found for service", "service_id", serviceID, "namespace", ns)
		return out, nil
	}

	opts := k8s.LogOptions{Container: q.Container, TailLines: q.TailLines, SinceSeconds: q.SinceSeconds, Previous: q.Previous}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(podLogConcurrency)
	for i, pod := range pods {
		g.Go(func() error {
			pl := models.PodLogs{Pod: pod.Name, Phase: pod.Phase, Ready: pod.Ready, Container: q.Container, Lines: []string{}}
			text, err := s.client.PodLogs(gctx, ns, pod.Name, opts)
			if err != nil {
				logger.With(ctx, s.log).Warn("Failed to read pod logs", "pod", pod.Name, "namespace", ns, "error", err)
				pl.Error = err.Error()
			} else {
				pl.Lines = splitLines(text)
			}
			out.Pods[i] = pl
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range out.Pods {
		out.TotalLines += len(p.Lines)
	}
	return out, nil
}

func (s *logsService) Since(ctx context.Context, serviceID, namespace string, minutes int) (*models.ServiceLogs, error) {
	if minutes < 1 {
		return nil, validationErrorf("since_minutes must be positive, got %d", minutes)
	}
	return s.ServiceLogs(ctx, serviceID, LogQuery{
		Namespace:    namespace,
		TailLines:    SinceTailLines,
		SinceSeconds: int64(minutes) * 60,
	})
}

func (s *logsService) Search(ctx context.Context, serviceID string, q SearchQuery) (*models.LogSearchResult, error) {
	if q.Term == "" {
		return nil, validationErrorf("search term is required")
	}
	if q.TailLines <= 0 {
		q.TailLines = DefaultSearchLines
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxMatches
	}
	logs, err := s.ServiceLogs(ctx, serviceID, q.LogQuery)
	if err != nil {
		return nil, err
	}

	term := q.Term
	if !q.CaseSensitive {
		term = strings.ToLower(term)
	}
	res := &models.LogSearchResult{ServiceID: serviceID, Namespace: logs.Namespace, Term: q.Term, Matches: []models.LogMatch{}}
	for _, p := range logs.Pods {
		if q.Pod != "" && p.Pod != q.Pod {
			continue
		}
		for i, line := range p.Lines {
			hay := line
			if !q.CaseSensitive {
				hay = strings.ToLower(hay)
			}
			if !strings.Contains(hay, term) {
				continue
			}
			res.TotalMatches++
			if len(res.Matches) < q.MaxResults {
				res.Matches = append(res.Matches, models.LogMatch{Pod: p.Pod, LineNumber: i + 1, Line: line})
			} else {
				res.Truncated = true
			}
		}
	}
	return res, nil
}

func (s *logsService) Stats(ctx context.Context, serviceID string, q LogQuery) (*models.LogStats, error) {
	if q.TailLines <= 0 {
		q.TailLines = DefaultSearchLines
	}
	logs, err := s.ServiceLogs(ctx, serviceID, q)
	if err != nil {
		return nil, err
	}
	return ComputeStats(logs), nil
}

// ComputeStats classifies each line once: error, exception or fatal first, then warn(ing),
// then info.
func ComputeStats(logs *models.ServiceLogs) *models.LogStats {
	st := &models.LogStats{
		ServiceID: logs.ServiceID,
		Namespace: logs.Namespace,
		TotalPods: logs.TotalPods,
		PodStats:  make([]models.PodLogStats, 0, len(logs.Pods)),
	}
	for _, p := range logs.Pods {
		ps := models.PodLogStats{Pod: p.Pod, Lines: len(p.Lines)}
		for _, line := range p.Lines {
			l := strings.ToLower(line)
			switch {
			case strings.Contains(l, "error"), strings.Contains(l, "exception"), strings.Contains(l, "fatal"):
				ps.Errors++
			case strings.Contains(l, "warn"):
				ps.Warnings++
			case strings.Contains(l, "info"):
				ps.Info++
			}
		}
		st.TotalLines += ps.Lines
		st.ErrorCount += ps.Errors
		st.WarningCount += ps.Warnings
		st.InfoCount += ps.Info
		st.PodStats = append(st.PodStats, ps)
	}
	return st
}

// Aggregate flattens pod logs into "[pod] line" entries, skipping blank lines, sorted.
func Aggregate(logs *models.ServiceLogs) []string {
	var out []string
	for _, p := range logs.Pods {
		for _, line := range p.Lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			out = append(out, "["+p.Pod+"] "+line)
		}
	}
	sort.Strings(out)
	return out
}

func (s *logsService) Follow(ctx context.Context, serviceID string, q LogQuery) (io.ReadCloser, string, error) {
	ns, name, err := resolve(serviceID, q.Namespace)
	if err != nil {
		return nil, "", err
	}
	pod := q.Pod
	if pod == "" {
		pods, _, err := s.client.FindWorkloadPods(ctx, ns, name)
		if err != nil {
			return nil, "", fmt.Errorf("find pods: %w", err)
		}
		if len(pods) == 0 {
			return nil, "", fmt.Errorf("pods of service %q: %w", serviceID, k8s.ErrNotFound)
		}
		pod = pods[0].Name
		for _, p := range pods {
			if p.Ready {
				pod = p.Name
				break
			}
		}
	}
	if q.TailLines <= 0 {
		q.TailLines = DefaultTailLines
	}
	rc, err := s.client.StreamPodLogs(ctx, ns, pod, k8s.LogOptions{Container: q.Container, TailLines: q.TailLines, SinceSeconds: q.SinceSeconds})
	if err != nil {
		return nil, "", err
	}
	return rc, pod, nil
}

func splitLines(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}
