package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/validate"
)

const (
	// DefaultNamespace resolves bare service ids and requests without a namespace.
	DefaultNamespace = "default"

	ManagedByLabel = "managed-by"
	ManagedByValue = "devportal"
	ServiceLabel   = "service"

	MaxReplicas = 100
)

// managedSelector matches every workload the portal created.
var managedSelector = ManagedByLabel + "=" + ManagedByValue

// CatalogService manages services: a deployment, an optional k8s Service and a secret.
type CatalogService interface {
	Create(ctx context.Context, req models.ServiceCreate) (*models.Service, error)
	List(ctx context.Context, namespace string) ([]models.Service, error)
	Get(ctx context.Context, id string) (*models.Service, error)
}

type catalogService struct {
	client  *k8s.Client
	secrets SecretsService
	log     *slog.Logger
}

// NewCatalogService returns a catalog over client. Secrets for new services are created through secrets.
func NewCatalogService(client *k8s.Client, secrets SecretsService, log *slog.Logger) CatalogService {
	if log == nil {
		log = slog.Default()
	}
	return &catalogService{client: client, secrets: secrets, log: log}
}

func (s *catalogService) Create(ctx context.Context, req models.ServiceCreate) (*models.Service, error) {
	if err := normalizeServiceCreate(&req); err != nil {
		return nil, err
	}
	log := logger.With(ctx, s.log)
	labels := map[string]string{
		"app":          req.Name,
		ManagedByLabel: ManagedByValue,
		ServiceLabel:   req.Name,
	}

	d, err := s.client.CreateDeployment(ctx, k8s.DeploymentSpec{
		Name:      req.Name,
		Namespace: req.Namespace,
		Image:     req.Image,
		Replicas:  int32(req.Replicas),
		EnvVars:   req.EnvVars,
		Ports:     req.Ports,
		Resources: req.Resources,
		Labels:    labels,
	})
	if err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	if len(req.Ports) > 0 {
		ports := make([]models.ServicePort, 0, len(req.Ports))
		for _, p := range req.Ports {
			ports = append(ports, models.ServicePort{Port: p, TargetPort: p})
		}
		if _, err := s.client.CreateService(ctx, req.Namespace, req.Name, ports, map[string]string{"app": req.Name}); err != nil {
			log.Warn("Failed to create k8s service", "service", req.Name, "namespace", req.Namespace, "error", err)
		}
	}

	svc := serviceFromDeployment(d)
	svc.Status = models.ServiceCreating
	if sec, err := s.secrets.CreateForService(ctx, req.Namespace, req.Name, nil); err != nil {
		log.Warn("Failed to create service secret", "service", req.Name, "namespace", req.Namespace, "error", err)
		svc.SecretName = ""
	} else {
		svc.SecretName = sec.Name
	}
	log.Info("Service created", "service_id", svc.ID, "image", req.Image, "replicas", req.Replicas)
	return svc, nil
}

func normalizeServiceCreate(req *models.ServiceCreate) error {
	if !validate.DNSLabel(req.Name) {
		return validationErrorf("name %q must be a DNS label of 1-%d characters", req.Name, validate.DNSLabelMaxLen)
	}
	if req.Image == "" {
		return validationErrorf("image is required")
	}
	if req.Replicas == 0 {
		req.Replicas = 1
	}
	if req.Replicas < 1 || req.Replicas > MaxReplicas {
		return validationErrorf("replicas must be between 1 and %d, got %d", MaxReplicas, req.Replicas)
	}
	if req.Namespace == "" {
		req.Namespace = DefaultNamespace
	}
	if !validate.DNSLabel(req.Namespace) {
		return validationErrorf("invalid namespace %q", req.Namespace)
	}
	if req.Resources != nil {
		for field, q := range map[string]string{"cpu": req.Resources.CPU, "memory": req.Resources.Memory} {
			if q == "" {
				continue
			}
			if _, err := resource.ParseQuantity(q); err != nil {
				return validationErrorf("resources.%s %q is not a quantity", field, q)
			}
		}
	}
	for _, p := range req.Ports {
		if p < 1 || p > 65535 {
			return validationErrorf("port %d out of range", p)
		}
	}
	return nil
}

func (s *catalogService) List(ctx context.Context, namespace string) ([]models.Service, error) {
	if !validate.Namespace(namespace) {
		return nil, validationErrorf("invalid namespace %q", namespace)
	}
	deps, err := s.client.ListDeployments(ctx, namespace, managedSelector)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]models.Service, 0, len(deps))
	for i := range deps {
		out = append(out, *serviceFromDeployment(&deps[i]))
	}
	return out, nil
}

func (s *catalogService) Get(ctx context.Context, id string) (*models.Service, error) {
	ns, name, ok := validate.SplitServiceID(id, DefaultNamespace)
	if !ok {
		return nil, validationErrorf("invalid service id %q", id)
	}
	d, err := s.client.GetDeployment(ctx, ns, name)
	if err != nil {
		return nil, err
	}
	if d.Labels[ManagedByLabel] != ManagedByValue {
		return nil, fmt.Errorf("service %q: %w", id, k8s.ErrNotFound)
	}
	return serviceFromDeployment(d), nil
}

func serviceFromDeployment(d *models.Deployment) *models.Service {
	svc := &models.Service{
		ID:         d.ID,
		Name:       d.Name,
		Image:      d.Image,
		Replicas:   int(d.Replicas.Desired),
		Namespace:  d.Namespace,
		Status:     serviceStatus(d),
		Resources:  d.Resources,
		EnvVars:    d.EnvVars,
		Ports:      d.Ports,
		SecretName: SecretName(d.Name),
	}
	if svc.EnvVars == nil {
		svc.EnvVars = map[string]string{}
	}
	if svc.Ports == nil {
		svc.Ports = []int32{}
	}
	if d.CreatedAt != nil {
		svc.CreatedAt = *d.CreatedAt
	} else {
		svc.CreatedAt = time.Now().UTC()
	}
	return svc
}

// serviceStatus maps deployment state onto the portal's service status.
func serviceStatus(d *models.Deployment) models.ServiceStatus {
	if d.Replicas.Desired == 0 {
		return models.ServiceStopped
	}
	switch d.Status {
	case models.DeploymentAvailable:
		return models.ServiceRunning
	case models.DeploymentProgressing:
		return models.ServiceCreating
	case models.DeploymentFailed:
		return models.ServiceFailed
	default:
		return models.ServicePending
	}
}
