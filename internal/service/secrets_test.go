package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
)

func newSecrets(t *testing.T, cs *fake.Clientset, at time.Time) *secretsService {
	t.Helper()
	s := NewSecretsService(k8s.NewClientForTest(cs, nil), quietLogger()).(*secretsService)
	s.now = func() time.Time { return at }
	return s
}

func TestGenerateSecretValue(t *testing.T) {
	a, err := GenerateSecretValue(32)
	require.NoError(t, err)
	b, err := GenerateSecretValue(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	for _, r := range a {
		assert.True(t, strings.ContainsRune(secretValueCharset, r), "unexpected rune %q", r)
	}
}

func TestSecrets_CreateAndGet(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newSecrets(t, fake.NewSimpleClientset(), t0)
	ctx := context.Background()

	created, err := s.CreateForService(ctx, "default", "api", nil)
	require.NoError(t, err)
	assert.Equal(t, "api-secrets", created.Name)
	assert.Equal(t, "default/api", created.ServiceID)
	assert.Equal(t, models.SecretOpaque, created.Type)
	assert.Equal(t, []string{"api_key", "database_url", "secret_key"}, created.Keys)

	got, err := s.Get(ctx, "api")
	require.NoError(t, err)
	require.Len(t, got.RotationHistory, 1)
	assert.Equal(t, "v1", got.RotationHistory[0].Version)
	assert.True(t, t0.Equal(got.RotationHistory[0].RotatedAt))
	assert.Nil(t, got.LastRotated)

	_, err = s.Get(ctx, "default/missing")
	assert.ErrorIs(t, err, k8s.ErrNotFound)
}

func TestSecrets_RotateSubset(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cs := fake.NewSimpleClientset(
		deployment("default", "api", managedLabels("api"), 1),
		deployment("default", "worker", managedLabels("worker"), 1),
	)
	s := newSecrets(t, cs, t0)
	ctx := context.Background()
	_, err := s.CreateForService(ctx, "default", "api", nil)
	require.NoError(t, err)
	before, err := cs.CoreV1().Secrets("default").Get(ctx, "api-secrets", metav1.GetOptions{})
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	s.now = func() time.Time { return t1 }
	res, err := s.Rotate(ctx, "default/api", models.SecretRotateRequest{Keys: []string{"api_key", "api_key"}, RotatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key"}, res.RotatedKeys)
	assert.Equal(t, "v2", res.Version)
	assert.ElementsMatch(t, []string{"api", "worker"}, res.DeploymentsUpdated)

	after, err := cs.CoreV1().Secrets("default").Get(ctx, "api-secrets", metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, before.Data["api_key"], after.Data["api_key"])
	assert.Equal(t, before.Data["database_url"], after.Data["database_url"])
	assert.Equal(t, before.Data["secret_key"], after.Data["secret_key"])

	d, err := cs.AppsV1().Deployments("default").Get(ctx, "worker", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00Z", d.Spec.Template.Annotations[k8s.RestartedAtAnnotation])

	got, err := s.Get(ctx, "default/api")
	require.NoError(t, err)
	require.Len(t, got.RotationHistory, 2)
	assert.Equal(t, "alice", got.RotationHistory[1].RotatedBy)
	assert.Equal(t, []string{"api_key"}, got.RotationHistory[1].Keys)
	require.NotNil(t, got.LastRotated)
	assert.True(t, t1.Equal(*got.LastRotated))
}

func TestSecrets_RotateAllWithoutRestart(t *testing.T) {
	cs := fake.NewSimpleClientset(deployment("default", "api", managedLabels("api"), 1))
	s := newSecrets(t, cs, time.Now())
	ctx := context.Background()
	_, err := s.CreateForService(ctx, "default", "api", []string{"token"})
	require.NoError(t, err)

	no := false
	res, err := s.Rotate(ctx, "api", models.SecretRotateRequest{UpdateDeployments: &no})
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, res.RotatedKeys)
	assert.Empty(t, res.DeploymentsUpdated)

	d, err := cs.AppsV1().Deployments("default").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, d.Spec.Template.Annotations[k8s.RestartedAtAnnotation])
}

func TestSecrets_RotateUnknownKey(t *testing.T) {
	cs := fake.NewSimpleClientset()
	s := newSecrets(t, cs, time.Now())
	ctx := context.Background()
	_, err := s.CreateForService(ctx, "default", "api", nil)
	require.NoError(t, err)
	before, err := cs.CoreV1().Secrets("default").Get(ctx, "api-secrets", metav1.GetOptions{})
	require.NoError(t, err)

	_, err = s.Rotate(ctx, "api", models.SecretRotateRequest{Keys: []string{"api_key", "nope"}})
	assert.ErrorIs(t, err, ErrValidation)

	after, err := cs.CoreV1().Secrets("default").Get(ctx, "api-secrets", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
}

func TestSecrets_RotateMissingSecret(t *testing.T) {
	s := newSecrets(t, fake.NewSimpleClientset(), time.Now())
	_, err := s.Rotate(context.Background(), "api", models.SecretRotateRequest{})
	assert.ErrorIs(t, err, k8s.ErrNotFound)
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "v1", nextVersion(nil))
	assert.Equal(t, "v4", nextVersion([]models.SecretRotation{{Version: "v1"}, {Version: "v3"}, {Version: "bogus"}}))
}

func TestHistoryOf_FallsBackToCreation(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h := historyOf(&k8s.SecretMeta{CreatedAt: &created, Annotations: map[string]string{RotationHistoryAnnotation: "not json"}})
	require.Len(t, h, 1)
	assert.Equal(t, "v1", h[0].Version)
	assert.Equal(t, created, h[0].RotatedAt)

	assert.Empty(t, historyOf(&k8s.SecretMeta{}))
}
