package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCatalog(cs *fake.Clientset) (CatalogService, *k8s.Client) {
	client := k8s.NewClientForTest(cs, nil)
	return NewCatalogService(client, NewSecretsService(client, quietLogger()), quietLogger()), client
}

func deployment(ns, name string, labels map[string]string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: name, Image: "nginx:1.25"}}},
			},
		},
	}
}

func managedLabels(name string) map[string]string {
	return map[string]string{"app": name, ManagedByLabel: ManagedByValue, ServiceLabel: name}
}

func TestCatalog_CreateBuildsTriad(t *testing.T) {
	cs := fake.NewSimpleClientset()
	catalog, _ := newCatalog(cs)
	ctx := context.Background()

	svc, err := catalog.Create(ctx, models.ServiceCreate{
		Name:    "api",
		Image:   "ghcr.io/acme/api:1.2.0",
		EnvVars: map[string]string{"MODE": "dev"},
		Ports:   []int32{8080},
	})
	require.NoError(t, err)
	assert.Equal(t, "default/api", svc.ID)
	assert.Equal(t, models.ServiceCreating, svc.Status)
	assert.Equal(t, 1, svc.Replicas)
	assert.Equal(t, "api-secrets", svc.SecretName)
	assert.Equal(t, map[string]string{"MODE": "dev"}, svc.EnvVars)
	assert.Equal(t, []int32{8080}, svc.Ports)

	d, err := cs.AppsV1().Deployments("default").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, managedLabels("api"), d.Labels)

	ks, err := cs.CoreV1().Services("default").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, ks.Spec.Ports, 1)
	assert.Equal(t, int32(8080), ks.Spec.Ports[0].Port)

	sec, err := cs.CoreV1().Secrets("default").Get(ctx, "api-secrets", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Len(t, sec.Data, 3)
	for _, k := range DefaultSecretKeys {
		assert.Len(t, sec.Data[k], 32, k)
	}
}

func TestCatalog_CreateWithoutPortsSkipsService(t *testing.T) {
	cs := fake.NewSimpleClientset()
	catalog, _ := newCatalog(cs)

	_, err := catalog.Create(context.Background(), models.ServiceCreate{Name: "worker", Image: "busybox", Namespace: "jobs", Replicas: 2})
	require.NoError(t, err)

	list, err := cs.CoreV1().Services("jobs").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestCatalog_SecretFailureIsNotFatal(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("create", "secrets", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("admission webhook denied")
	})
	catalog, _ := newCatalog(cs)

	svc, err := catalog.Create(context.Background(), models.ServiceCreate{Name: "api", Image: "nginx"})
	require.NoError(t, err)
	assert.Empty(t, svc.SecretName)
}

func TestCatalog_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.ServiceCreate
	}{
		{"empty name", models.ServiceCreate{Image: "nginx"}},
		{"upper case name", models.ServiceCreate{Name: "API", Image: "nginx"}},
		{"missing image", models.ServiceCreate{Name: "api"}},
		{"too many replicas", models.ServiceCreate{Name: "api", Image: "nginx", Replicas: 101}},
		{"negative replicas", models.ServiceCreate{Name: "api", Image: "nginx", Replicas: -1}},
		{"bad namespace", models.ServiceCreate{Name: "api", Image: "nginx", Namespace: "Team_A"}},
		{"bad cpu", models.ServiceCreate{Name: "api", Image: "nginx", Resources: &models.ResourceRequirements{CPU: "lots"}}},
		{"bad port", models.ServiceCreate{Name: "api", Image: "nginx", Ports: []int32{70000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := fake.NewSimpleClientset()
			catalog, _ := newCatalog(cs)
			_, err := catalog.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, cs.Actions())
		})
	}
}

func TestCatalog_ListOnlyManaged(t *testing.T) {
	cs := fake.NewSimpleClientset(
		deployment("default", "api", managedLabels("api"), 2),
		deployment("team-a", "web", managedLabels("web"), 1),
		deployment("default", "coredns", map[string]string{"app": "coredns"}, 1),
	)
	catalog, _ := newCatalog(cs)

	all, err := catalog.List(context.Background(), "")
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"default/api", "team-a/web"}, ids)

	scoped, err := catalog.List(context.Background(), "team-a")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "web", scoped[0].Name)

	_, err = catalog.List(context.Background(), "Bad_NS")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalog_Get(t *testing.T) {
	cs := fake.NewSimpleClientset(
		deployment("default", "api", managedLabels("api"), 2),
		deployment("default", "coredns", map[string]string{"app": "coredns"}, 1),
	)
	catalog, _ := newCatalog(cs)
	ctx := context.Background()

	svc, err := catalog.Get(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "default/api", svc.ID)
	assert.Equal(t, 2, svc.Replicas)
	assert.Equal(t, "nginx:1.25", svc.Image)

	_, err = catalog.Get(ctx, "default/coredns")
	assert.ErrorIs(t, err, k8s.ErrNotFound)

	_, err = catalog.Get(ctx, "default/missing")
	assert.ErrorIs(t, err, k8s.ErrNotFound)

	_, err = catalog.Get(ctx, "a/b/c")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestServiceStatus(t *testing.T) {
	tests := []struct {
		desired int32
		status  models.DeploymentStatus
		want    models.ServiceStatus
	}{
		{0, models.DeploymentAvailable, models.ServiceStopped},
		{2, models.DeploymentAvailable, models.ServiceRunning},
		{2, models.DeploymentProgressing, models.ServiceCreating},
		{2, models.DeploymentFailed, models.ServiceFailed},
		{2, models.DeploymentPending, models.ServicePending},
		{2, models.DeploymentUnknown, models.ServicePending},
	}
	for _, tt := range tests {
		d := &models.Deployment{Status: tt.status, Replicas: models.PodStatus{Desired: tt.desired}}
		assert.Equal(t, tt.want, serviceStatus(d), "%d/%s", tt.desired, tt.status)
	}
}

func TestDeployments_ListGetRestart(t *testing.T) {
	cs := fake.NewSimpleClientset(
		deployment("default", "api", nil, 1),
		deployment("team-a", "web", nil, 1),
	)
	svc := NewDeploymentService(k8s.NewClientForTest(cs, nil), quietLogger()).(*deploymentService)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	ctx := context.Background()

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	d, err := svc.Get(ctx, "team-a", "web")
	require.NoError(t, err)
	assert.Equal(t, "team-a/web", d.ID)

	got, err := svc.Restart(ctx, "default", "api")
	require.NoError(t, err)
	assert.Equal(t, at, got)
	obj, err := cs.AppsV1().Deployments("default").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T09:00:00Z", obj.Spec.Template.Annotations[k8s.RestartedAtAnnotation])

	_, err = svc.Restart(ctx, "default", "missing")
	assert.ErrorIs(t, err, k8s.ErrNotFound)

	_, err = svc.Get(ctx, "Bad_NS", "api")
	assert.ErrorIs(t, err, ErrValidation)
}
