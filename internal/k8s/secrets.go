package k8s

import (
	"context"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/retry"
)

// SecretMeta is secret metadata as read from the cluster. It never carries values.
type SecretMeta struct {
	Name        string
	Namespace   string
	Type        string
	Keys        []string
	Labels      map[string]string
	Annotations map[string]string
	CreatedAt   *time.Time
}

// SecretSpec describes a secret to create.
type SecretSpec struct {
	Name        string
	Namespace   string
	Type        string
	Data        map[string]string
	Labels      map[string]string
	Annotations map[string]string
}

// CreateSecret creates a secret. An existing secret is returned unchanged.
func (c *Client) CreateSecret(ctx context.Context, spec SecretSpec) (*SecretMeta, error) {
	typ := corev1.SecretType(spec.Type)
	if typ == "" {
		typ = corev1.SecretTypeOpaque
	}
	obj := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.Name,
			Namespace:   spec.Namespace,
			Labels:      spec.Labels,
			Annotations: spec.Annotations,
		},
		Type: typ,
		Data: toBytes(spec.Data),
	}
	created, err := write(ctx, c, func(ctx context.Context) (*corev1.Secret, error) {
		return c.Clientset.CoreV1().Secrets(spec.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	})
	if err != nil {
		err = classify(err, "secret", spec.Namespace+"/"+spec.Name)
		if IsAlreadyExists(err) {
			return c.GetSecret(ctx, spec.Namespace, spec.Name)
		}
		return nil, err
	}
	return secretToMeta(created), nil
}

// GetSecret returns secret metadata, or ErrNotFound.
func (c *Client) GetSecret(ctx context.Context, namespace, name string) (*SecretMeta, error) {
	s, err := read(ctx, c, func(ctx context.Context) (*corev1.Secret, error) {
		return c.Clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	})
	if err != nil {
		return nil, classify(err, "secret", namespace+"/"+name)
	}
	return secretToMeta(s), nil
}

// UpdateSecret merges data and annotations into an existing secret. Keys not in data are kept.
// Update conflicts are retried against a fresh read.
func (c *Client) UpdateSecret(ctx context.Context, namespace, name string, data, annotations map[string]string) (*SecretMeta, error) {
	var updated *corev1.Secret
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		current, err := read(ctx, c, func(ctx context.Context) (*corev1.Secret, error) {
			return c.Clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
		})
		if err != nil {
			return err
		}
		next := current.DeepCopy()
		if next.Data == nil {
			next.Data = map[string][]byte{}
		}
		for k, v := range data {
			next.Data[k] = []byte(v)
		}
		if len(annotations) > 0 && next.Annotations == nil {
			next.Annotations = map[string]string{}
		}
		for k, v := range annotations {
			next.Annotations[k] = v
		}
		updated, err = write(ctx, c, func(ctx context.Context) (*corev1.Secret, error) {
			return c.Clientset.CoreV1().Secrets(namespace).Update(ctx, next, metav1.UpdateOptions{})
		})
		return err
	})
	if err != nil {
		return nil, classify(err, "secret", namespace+"/"+name)
	}
	return secretToMeta(updated), nil
}

// ListSecrets lists secret metadata in a namespace.
func (c *Client) ListSecrets(ctx context.Context, namespace, labelSelector string) ([]SecretMeta, error) {
	list, err := read(ctx, c, func(ctx context.Context) (*corev1.SecretList, error) {
		return c.Clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	})
	if err != nil {
		return nil, classify(err, "secrets", namespace)
	}
	out := make([]SecretMeta, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, *secretToMeta(&list.Items[i]))
	}
	return out, nil
}

// DeleteSecret deletes a secret.
func (c *Client) DeleteSecret(ctx context.Context, namespace, name string) error {
	_, err := write(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	})
	return classify(err, "secret", namespace+"/"+name)
}

func secretToMeta(s *corev1.Secret) *SecretMeta {
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &SecretMeta{
		Name:        s.Name,
		Namespace:   s.Namespace,
		Type:        string(s.Type),
		Keys:        keys,
		Labels:      s.Labels,
		Annotations: s.Annotations,
		CreatedAt:   timePtr(s.CreationTimestamp),
	}
}

func toBytes(m map[string]string) map[string][]byte {
	if m == nil {
		return nil
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out
}
