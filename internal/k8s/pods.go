package k8s

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PodInfo is the pod metadata needed for logs and metrics.
type PodInfo struct {
	Name       string
	Namespace  string
	Phase      string
	Ready      bool
	Containers []string
	CreatedAt  *time.Time
}

// LogOptions narrows a pod log read. Zero values mean "server default".
type LogOptions struct {
	Container    string
	TailLines    int64
	SinceSeconds int64
	Previous     bool
	Follow       bool
}

// selectorKeys are tried in order to find the pods of a workload.
var selectorKeys = []string{"app", "app.kubernetes.io/name", "service"}

// ListPods lists pods in namespace matching labelSelector, sorted by name.
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string) ([]PodInfo, error) {
	list, err := read(ctx, c, func(ctx context.Context) (*corev1.PodList, error) {
		return c.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	})
	if err != nil {
		return nil, classify(err, "pods", namespace)
	}
	out := make([]PodInfo, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, podToInfo(&list.Items[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindWorkloadPods returns the pods of a named workload using app=, then app.kubernetes.io/name=,
// then service= label selectors. The selector that matched is returned with the pods.
func (c *Client) FindWorkloadPods(ctx context.Context, namespace, name string) ([]PodInfo, string, error) {
	for _, key := range selectorKeys {
		sel := fmt.Sprintf("%s=%s", key, name)
		pods, err := c.ListPods(ctx, namespace, sel)
		if err != nil {
			return nil, "", err
		}
		if len(pods) > 0 {
			return pods, sel, nil
		}
	}
	return nil, "", nil
}

// PodLogs returns the log text of one pod.
func (c *Client) PodLogs(ctx context.Context, namespace, pod string, opts LogOptions) (string, error) {
	opts.Follow = false
	body, err := read(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.Clientset.CoreV1().Pods(namespace).GetLogs(pod, podLogOptions(opts)).DoRaw(ctx)
	})
	if err != nil {
		return "", classify(err, "pod logs", namespace+"/"+pod)
	}
	return string(body), nil
}

// StreamPodLogs opens a following log stream. The caller closes it; cancelling ctx ends it.
// The stream is not bounded by the client timeout.
func (c *Client) StreamPodLogs(ctx context.Context, namespace, pod string, opts LogOptions) (io.ReadCloser, error) {
	opts.Follow = true
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, classify(err, "pod logs", namespace+"/"+pod)
	}
	var rc io.ReadCloser
	err := c.circuitBreaker.Execute(ctx, func() error {
		var err error
		rc, err = c.Clientset.CoreV1().Pods(namespace).GetLogs(pod, podLogOptions(opts)).Stream(ctx)
		return err
	})
	c.updateHealth(err)
	if err != nil {
		return nil, classify(err, "pod logs", namespace+"/"+pod)
	}
	return rc, nil
}

func podLogOptions(opts LogOptions) *corev1.PodLogOptions {
	o := &corev1.PodLogOptions{
		Container: opts.Container,
		Previous:  opts.Previous,
		Follow:    opts.Follow,
	}
	if opts.TailLines > 0 {
		tail := opts.TailLines
		o.TailLines = &tail
	}
	if opts.SinceSeconds > 0 {
		since := opts.SinceSeconds
		o.SinceSeconds = &since
	}
	return o
}

func podToInfo(p *corev1.Pod) PodInfo {
	info := PodInfo{
		Name:      p.Name,
		Namespace: p.Namespace,
		Phase:     string(p.Status.Phase),
		CreatedAt: timePtr(p.CreationTimestamp),
	}
	for _, c := range p.Spec.Containers {
		info.Containers = append(info.Containers, c.Name)
	}
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			info.Ready = true
			break
		}
	}
	return info
}
