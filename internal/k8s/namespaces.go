package k8s

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// CreateNamespace creates a namespace with labels. An existing namespace yields ErrAlreadyExists.
func (c *Client) CreateNamespace(ctx context.Context, name string, labels map[string]string) (*models.Namespace, error) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
	}
	created, err := write(ctx, c, func(ctx context.Context) (*corev1.Namespace, error) {
		return c.Clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	})
	if err != nil {
		return nil, classify(err, "namespace", name)
	}
	return namespaceToModel(created), nil
}

// GetNamespace returns the namespace, or ErrNotFound.
func (c *Client) GetNamespace(ctx context.Context, name string) (*models.Namespace, error) {
	ns, err := read(ctx, c, func(ctx context.Context) (*corev1.Namespace, error) {
		return c.Clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	})
	if err != nil {
		return nil, classify(err, "namespace", name)
	}
	return namespaceToModel(ns), nil
}

// DeleteNamespace starts cascading deletion of the namespace. It does not wait for completion.
// A missing namespace yields ErrNotFound.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationForeground
	_, err := write(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Clientset.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	})
	return classify(err, "namespace", name)
}

// ListNamespaces lists namespaces matching a label selector.
func (c *Client) ListNamespaces(ctx context.Context, labelSelector string) ([]models.Namespace, error) {
	list, err := read(ctx, c, func(ctx context.Context) (*corev1.NamespaceList, error) {
		return c.Clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	})
	if err != nil {
		return nil, classify(err, "namespaces", "")
	}
	out := make([]models.Namespace, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, *namespaceToModel(&list.Items[i]))
	}
	return out, nil
}

func namespaceToModel(ns *corev1.Namespace) *models.Namespace {
	return &models.Namespace{
		Name:      ns.Name,
		Phase:     string(ns.Status.Phase),
		CreatedAt: timePtr(ns.CreationTimestamp),
		Labels:    ns.Labels,
	}
}

func timePtr(t metav1.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
