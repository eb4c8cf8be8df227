package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/validate"
)

const (
	RotationHistoryAnnotation = "devportal.io/rotation-history"
	LastRotatedAnnotation     = "devportal.io/last-rotated"

	secretSuffix       = "-secrets"
	secretValueLength  = 32
	maxHistoryEntries  = 50
	systemRotator      = "system"
	secretValueCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// DefaultSecretKeys are created for every new service.
var DefaultSecretKeys = []string{"database_url", "api_key", "secret_key"}

// SecretName is the secret that belongs to a service.
func SecretName(service string) string { return service + secretSuffix }

// GenerateSecretValue returns n characters drawn uniformly from the secret charset using crypto/rand.
func GenerateSecretValue(n int) (string, error) {
	size := big.NewInt(int64(len(secretValueCharset)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate secret value: %w", err)
		}
		b.WriteByte(secretValueCharset[idx.Int64()])
	}
	return b.String(), nil
}

// SecretsService creates and rotates service secrets. Values never leave this package.
type SecretsService interface {
	CreateForService(ctx context.Context, namespace, service string, keys []string) (*models.Secret, error)
	Get(ctx context.Context, serviceID string) (*models.Secret, error)
	Rotate(ctx context.Context, serviceID string, req models.SecretRotateRequest) (*models.SecretRotateResult, error)
}

type secretsService struct {
	client *k8s.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewSecretsService returns a SecretsService over client.
func NewSecretsService(client *k8s.Client, log *slog.Logger) SecretsService {
	if log == nil {
		log = slog.Default()
	}
	return &secretsService{client: client, log: log, now: time.Now}
}

func (s *secretsService) CreateForService(ctx context.Context, namespace, service string, keys []string) (*models.Secret, error) {
	if len(keys) == 0 {
		keys = DefaultSecretKeys
	}
	data := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := GenerateSecretValue(secretValueLength)
		if err != nil {
			return nil, err
		}
		data[k] = v
	}
	now := s.now().UTC()
	history, err := encodeHistory([]models.SecretRotation{{
		RotatedAt: now,
		RotatedBy: systemRotator,
		Version:   "v1",
		Keys:      sortedCopy(keys),
	}})
	if err != nil {
		return nil, err
	}
	meta, err := s.client.CreateSecret(ctx, k8s.SecretSpec{
		Name:        SecretName(service),
		Namespace:   namespace,
		Type:        string(models.SecretOpaque),
		Data:        data,
		Labels:      map[string]string{ManagedByLabel: ManagedByValue, ServiceLabel: service},
		Annotations: map[string]string{RotationHistoryAnnotation: history},
	})
	if err != nil {
		return nil, fmt.Errorf("create secret: %w", err)
	}
	logger.With(ctx, s.log).Info("Created service secret", "secret", meta.Name, "namespace", namespace, "keys", len(meta.Keys))
	return secretFromMeta(namespace+"/"+service, meta), nil
}

func (s *secretsService) Get(ctx context.Context, serviceID string) (*models.Secret, error) {
	ns, name, err := splitServiceID(serviceID)
	if err != nil {
		return nil, err
	}
	meta, err := s.client.GetSecret(ctx, ns, SecretName(name))
	if err != nil {
		return nil, err
	}
	return secretFromMeta(serviceID, meta), nil
}

func (s *secretsService) Rotate(ctx context.Context, serviceID string, req models.SecretRotateRequest) (*models.SecretRotateResult, error) {
	ns, name, err := splitServiceID(serviceID)
	if err != nil {
		return nil, err
	}
	log := logger.With(ctx, s.log)
	secretName := SecretName(name)

	meta, err := s.client.GetSecret(ctx, ns, secretName)
	if err != nil {
		return nil, err
	}
	keys, err := keysToRotate(meta.Keys, req.Keys)
	if err != nil {
		return nil, err
	}

	data := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := GenerateSecretValue(secretValueLength)
		if err != nil {
			return nil, err
		}
		data[k] = v
	}

	now := s.now().UTC()
	history := historyOf(meta)
	rotatedBy := req.RotatedBy
	if rotatedBy == "" {
		rotatedBy = systemRotator
	}
	entry := models.SecretRotation{RotatedAt: now, RotatedBy: rotatedBy, Version: nextVersion(history), Keys: keys}
	history = append(history, entry)
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}
	encoded, err := encodeHistory(history)
	if err != nil {
		return nil, err
	}

	if _, err := s.client.UpdateSecret(ctx, ns, secretName, data, map[string]string{
		RotationHistoryAnnotation: encoded,
		LastRotatedAnnotation:     now.Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("rotate secret: %w", err)
	}
	log.Info("Rotated secret", "secret", secretName, "namespace", ns, "keys", keys, "version", entry.Version)

	result := &models.SecretRotateResult{
		ServiceID:          serviceID,
		SecretName:         secretName,
		RotatedKeys:        keys,
		RotatedAt:          now,
		Version:            entry.Version,
		DeploymentsUpdated: []string{},
	}
	if req.UpdateDeployments == nil || *req.UpdateDeployments {
		result.DeploymentsUpdated = s.restartNamespace(ctx, log, ns, now)
	}
	return result, nil
}

// restartNamespace rolls every deployment in namespace so pods pick up new values. Failures are
// logged and skipped; the rotation itself already succeeded.
func (s *secretsService) restartNamespace(ctx context.Context, log *slog.Logger, namespace string, at time.Time) []string {
	deps, err := s.client.ListDeployments(ctx, namespace, "")
	if err != nil {
		log.Warn("Failed to list deployments for restart after rotation", "namespace", namespace, "error", err)
		return []string{}
	}
	restarted := make([]string, 0, len(deps))
	for _, d := range deps {
		if err := s.client.RestartDeployment(ctx, namespace, d.Name, at); err != nil {
			log.Warn("Failed to restart deployment after rotation", "deployment", d.ID, "error", err)
			continue
		}
		restarted = append(restarted, d.Name)
	}
	return restarted
}

func splitServiceID(id string) (namespace, name string, err error) {
	ns, name, ok := validate.SplitServiceID(id, DefaultNamespace)
	if !ok {
		return "", "", validationErrorf("invalid service id %q", id)
	}
	return ns, name, nil
}

// keysToRotate returns the requested keys (all existing keys when none are requested), sorted
// and de-duplicated. Unknown keys are a validation error.
func keysToRotate(existing, requested []string) ([]string, error) {
	if len(requested) == 0 {
		if len(existing) == 0 {
			return nil, validationErrorf("secret has no keys to rotate")
		}
		return sortedCopy(existing), nil
	}
	known := make(map[string]bool, len(existing))
	for _, k := range existing {
		known[k] = true
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(requested))
	for _, k := range requested {
		if !known[k] {
			return nil, validationErrorf("key %q not found in secret", k)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func secretFromMeta(serviceID string, meta *k8s.SecretMeta) *models.Secret {
	sec := &models.Secret{
		ID:              meta.Namespace + "/" + meta.Name,
		ServiceID:       serviceID,
		Name:            meta.Name,
		Namespace:       meta.Namespace,
		Type:            models.SecretType(meta.Type),
		Keys:            meta.Keys,
		RotationHistory: historyOf(meta),
		CreatedAt:       meta.CreatedAt,
	}
	if sec.Keys == nil {
		sec.Keys = []string{}
	}
	if v := meta.Annotations[LastRotatedAnnotation]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			sec.LastRotated = &t
		}
	}
	return sec
}

// historyOf decodes the rotation history annotation. Secrets without one get a single v1 entry
// at their creation time.
func historyOf(meta *k8s.SecretMeta) []models.SecretRotation {
	if raw := meta.Annotations[RotationHistoryAnnotation]; raw != "" {
		var h []models.SecretRotation
		if err := json.Unmarshal([]byte(raw), &h); err == nil && len(h) > 0 {
			return h
		}
	}
	if meta.CreatedAt == nil {
		return []models.SecretRotation{}
	}
	return []models.SecretRotation{{RotatedAt: *meta.CreatedAt, RotatedBy: systemRotator, Version: "v1"}}
}

func encodeHistory(h []models.SecretRotation) (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode rotation history: %w", err)
	}
	return string(b), nil
}

// nextVersion is one past the highest "vN" in history.
func nextVersion(history []models.SecretRotation) string {
	highest := 0
	for _, e := range history {
		if n, err := strconv.Atoi(strings.TrimPrefix(e.Version, "v")); err == nil && n > highest {
			highest = n
		}
	}
	return "v" + strconv.Itoa(highest+1)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
