package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Client wraps client-go with a rate limiter, a circuit breaker and bounded retries.
// It is the only component that talks to the cluster API.
type Client struct {
	Clientset kubernetes.Interface
	// Metrics is the metrics.k8s.io client; nil when metrics-server is not wired.
	Metrics metricsclient.Interface
	Config  *rest.Config
	Context string
	// Timeout for outbound K8s API calls; 0 means no timeout (use request context only).
	Timeout time.Duration

	limiter        *rate.Limiter
	circuitBreaker *CircuitBreaker

	lastSuccessTime time.Time
	lastError       error
	healthMu        sync.RWMutex
}

// NewClient creates a client from an explicit kubeconfig, the in-cluster config, or ~/.kube/config,
// in that order.
func NewClient(kubeconfigPath, kubeContext string) (*Client, error) {
	var config *rest.Config
	var err error

	if kubeconfigPath == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			homeDir, _ := os.UserHomeDir()
			if homeDir != "" {
				kubeconfigPath = filepath.Join(homeDir, ".kube", "config")
			}
		}
	}

	if config == nil {
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
			&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	mc, err := metricsclient.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	return &Client{
		Clientset:       clientset,
		Metrics:         mc,
		Config:          config,
		Context:         kubeContext,
		circuitBreaker:  NewCircuitBreaker(clusterLabel(config)),
		lastSuccessTime: time.Now(),
	}, nil
}

func clusterLabel(config *rest.Config) string {
	if config == nil {
		return ""
	}
	return config.Host
}

// SetTimeout sets the timeout for outbound K8s API calls.
func (c *Client) SetTimeout(d time.Duration) {
	c.Timeout = d
}

// SetLimiter sets a token-bucket rate limiter for outbound K8s API calls. Nil disables limiting.
func (c *Client) SetLimiter(l *rate.Limiter) {
	c.limiter = l
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// withTimeout returns ctx with timeout applied if c.Timeout > 0; otherwise returns ctx and a no-op cancel.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return ctx, func() {}
}

// read runs an idempotent call with rate limiting, circuit breaker, timeout and retry on 5xx/429.
func read[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if err := c.waitRateLimit(ctx); err != nil {
		return result, err
	}
	err := c.circuitBreaker.Execute(ctx, func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		var fnErr error
		result, fnErr = doWithRetryValue(ctx, defaultRetryAttempts, func() (T, error) {
			return fn(ctx)
		})
		return fnErr
	})
	c.updateHealth(err)
	return result, err
}

// write runs a mutating call once, with rate limiting, circuit breaker and timeout.
// Mutations are never retried here; callers decide.
func write[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if err := c.waitRateLimit(ctx); err != nil {
		return result, err
	}
	err := c.circuitBreaker.Execute(ctx, func() error {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	c.updateHealth(err)
	return result, err
}

// Read exposes the guarded read path to packages that hold their own typed clients (metrics).
func (c *Client) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := read(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return classify(err, "request", "")
}

// ServerVersion returns the Kubernetes server git version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	v, err := read(ctx, c, func(ctx context.Context) (string, error) {
		info, err := c.Clientset.Discovery().ServerVersion()
		if err != nil {
			return "", err
		}
		return info.GitVersion, nil
	})
	return v, classify(err, "server version", "")
}

// TestConnection verifies connectivity to the cluster.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := read(ctx, c, func(ctx context.Context) (struct{}, error) {
		_, err := c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
		return struct{}{}, err
	})
	return classify(err, "namespaces", "")
}

func (c *Client) updateHealth(err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if err == nil {
		c.lastSuccessTime = time.Now()
		c.lastError = nil
		return
	}
	if isRetryableError(err) {
		c.lastError = err
	}
}

// Health is a snapshot of the cluster connection.
type Health struct {
	Healthy      bool      `json:"healthy"`
	LastSuccess  time.Time `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	CircuitState string    `json:"circuit_state"`
}

// HealthStatus returns the health of the cluster connection. Only connectivity failures
// (not 404s or validation rejections) mark the connection unhealthy.
func (c *Client) HealthStatus() Health {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()

	state := c.circuitBreaker.State()
	h := Health{
		Healthy:      state == StateClosed && c.lastError == nil,
		LastSuccess:  c.lastSuccessTime,
		CircuitState: stateToString(state),
	}
	if c.lastError != nil {
		h.LastError = c.lastError.Error()
	}
	return h
}

// NewClientForTest creates a Client around the given clientsets. Config is nil.
func NewClientForTest(clientset kubernetes.Interface, mc metricsclient.Interface) *Client {
	return &Client{
		Clientset:       clientset,
		Metrics:         mc,
		circuitBreaker:  NewCircuitBreaker("test"),
		lastSuccessTime: time.Now(),
	}
}
