package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// RestartedAtAnnotation is the pod-template annotation kubectl uses for rollout restart.
const RestartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

const (
	defaultCPURequest    = "100m"
	defaultMemoryRequest = "128Mi"
	defaultCPULimit      = "200m"
	defaultMemoryLimit   = "256Mi"
)

// DeploymentSpec describes a single-container deployment.
type DeploymentSpec struct {
	Name      string
	Namespace string
	Image     string
	Replicas  int32
	EnvVars   map[string]string
	Ports     []int32
	// Resources overrides requests and limits when set.
	Resources *models.ResourceRequirements
	// Labels are applied to the deployment, selector and pod template. Defaults to app=<name>.
	Labels map[string]string
}

// CreateDeployment creates a deployment from spec.
func (c *Client) CreateDeployment(ctx context.Context, spec DeploymentSpec) (*models.Deployment, error) {
	obj, err := buildDeployment(spec)
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w: %v", spec.Name, ErrInvalid, err)
	}
	created, err := write(ctx, c, func(ctx context.Context) (*appsv1.Deployment, error) {
		return c.Clientset.AppsV1().Deployments(spec.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	})
	if err != nil {
		return nil, classify(err, "deployment", spec.Namespace+"/"+spec.Name)
	}
	return deploymentToModel(created), nil
}

func buildDeployment(spec DeploymentSpec) (*appsv1.Deployment, error) {
	labels := spec.Labels
	if len(labels) == 0 {
		labels = map[string]string{"app": spec.Name}
	}
	resources, err := resourceRequirements(spec.Resources)
	if err != nil {
		return nil, err
	}

	env := make([]corev1.EnvVar, 0, len(spec.EnvVars))
	for k, v := range spec.EnvVars {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })

	ports := make([]corev1.ContainerPort, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		ports = append(ports, corev1.ContainerPort{ContainerPort: p, Protocol: corev1.ProtocolTCP})
	}

	replicas := spec.Replicas
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: spec.Name, Namespace: spec.Namespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:      spec.Name,
						Image:     spec.Image,
						Env:       env,
						Ports:     ports,
						Resources: resources,
					}},
				},
			},
		},
	}, nil
}

// resourceRequirements sets requests from r (or defaults) and limits to the defaults,
// raised to the request when the request is larger.
func resourceRequirements(r *models.ResourceRequirements) (corev1.ResourceRequirements, error) {
	cpuReq, memReq := defaultCPURequest, defaultMemoryRequest
	if r != nil {
		if r.CPU != "" {
			cpuReq = r.CPU
		}
		if r.Memory != "" {
			memReq = r.Memory
		}
	}
	cpu, err := resource.ParseQuantity(cpuReq)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("cpu %q: %w", cpuReq, err)
	}
	mem, err := resource.ParseQuantity(memReq)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("memory %q: %w", memReq, err)
	}
	cpuLimit := resource.MustParse(defaultCPULimit)
	memLimit := resource.MustParse(defaultMemoryLimit)
	if cpu.Cmp(cpuLimit) > 0 {
		cpuLimit = cpu.DeepCopy()
	}
	if mem.Cmp(memLimit) > 0 {
		memLimit = mem.DeepCopy()
	}
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{corev1.ResourceCPU: cpu, corev1.ResourceMemory: mem},
		Limits:   corev1.ResourceList{corev1.ResourceCPU: cpuLimit, corev1.ResourceMemory: memLimit},
	}, nil
}

// GetDeployment returns one deployment, or ErrNotFound.
func (c *Client) GetDeployment(ctx context.Context, namespace, name string) (*models.Deployment, error) {
	d, err := read(ctx, c, func(ctx context.Context) (*appsv1.Deployment, error) {
		return c.Clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	})
	if err != nil {
		return nil, classify(err, "deployment", namespace+"/"+name)
	}
	return deploymentToModel(d), nil
}

// ListDeployments lists deployments in namespace, or in all namespaces when namespace is empty.
func (c *Client) ListDeployments(ctx context.Context, namespace, labelSelector string) ([]models.Deployment, error) {
	list, err := read(ctx, c, func(ctx context.Context) (*appsv1.DeploymentList, error) {
		return c.Clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	})
	if err != nil {
		return nil, classify(err, "deployments", namespace)
	}
	out := make([]models.Deployment, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, *deploymentToModel(&list.Items[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RestartDeployment triggers a rolling restart by stamping the pod template, like kubectl rollout restart.
func (c *Client) RestartDeployment(ctx context.Context, namespace, name string, at time.Time) error {
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{RestartedAtAnnotation: at.UTC().Format(time.RFC3339)},
				},
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = write(ctx, c, func(ctx context.Context) (*appsv1.Deployment, error) {
		return c.Clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	})
	return classify(err, "deployment", namespace+"/"+name)
}

// DeleteDeployment deletes a deployment and its pods.
func (c *Client) DeleteDeployment(ctx context.Context, namespace, name string) error {
	policy := metav1.DeletePropagationBackground
	_, err := write(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	})
	return classify(err, "deployment", namespace+"/"+name)
}

func deploymentToModel(d *appsv1.Deployment) *models.Deployment {
	out := &models.Deployment{
		ID:        d.Namespace + "/" + d.Name,
		Name:      d.Name,
		Namespace: d.Namespace,
		Status:    deploymentStatus(d.Status.Conditions),
		Replicas: models.PodStatus{
			Ready:       d.Status.ReadyReplicas,
			Available:   d.Status.AvailableReplicas,
			Unavailable: d.Status.UnavailableReplicas,
		},
		CreatedAt: timePtr(d.CreationTimestamp),
		Labels:    d.Labels,
	}
	if d.Spec.Replicas != nil {
		out.Replicas.Desired = *d.Spec.Replicas
	}
	if cs := d.Spec.Template.Spec.Containers; len(cs) > 0 {
		c := cs[0]
		out.Image = c.Image
		out.ImageTag = imageTag(c.Image)
		if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			out.Resources.CPU = q.String()
		}
		if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			out.Resources.Memory = q.String()
		}
		if len(c.Env) > 0 {
			out.EnvVars = make(map[string]string, len(c.Env))
			for _, e := range c.Env {
				out.EnvVars[e.Name] = e.Value
			}
		}
		for _, p := range c.Ports {
			out.Ports = append(out.Ports, p.ContainerPort)
		}
	}
	return out
}

// deploymentStatus walks conditions in order; the first true Available or Progressing decides.
func deploymentStatus(conds []appsv1.DeploymentCondition) models.DeploymentStatus {
	if len(conds) == 0 {
		return models.DeploymentUnknown
	}
	for _, c := range conds {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case appsv1.DeploymentAvailable:
			return models.DeploymentAvailable
		case appsv1.DeploymentProgressing:
			return models.DeploymentProgressing
		case appsv1.DeploymentReplicaFailure:
			return models.DeploymentFailed
		}
	}
	return models.DeploymentPending
}

// imageTag returns the tag of an image reference, "latest" when untagged, "" for digests.
func imageTag(image string) string {
	if strings.Contains(image, "@") {
		return ""
	}
	for i := len(image) - 1; i >= 0; i-- {
		switch image[i] {
		case ':':
			return image[i+1:]
		case '/':
			return "latest"
		}
	}
	if image == "" {
		return ""
	}
	return "latest"
}
