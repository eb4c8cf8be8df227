package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/models"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/validate"
)

// DeploymentService reads deployments and triggers rolling restarts.
type DeploymentService interface {
	List(ctx context.Context, namespace string) ([]models.Deployment, error)
	Get(ctx context.Context, namespace, name string) (*models.Deployment, error)
	Restart(ctx context.Context, namespace, name string) (time.Time, error)
}

type deploymentService struct {
	client *k8s.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewDeploymentService returns a DeploymentService over client.
func NewDeploymentService(client *k8s.Client, log *slog.Logger) DeploymentService {
	if log == nil {
		log = slog.Default()
	}
	return &deploymentService{client: client, log: log, now: time.Now}
}

// List returns deployments in namespace, or in every namespace when it is empty.
func (s *deploymentService) List(ctx context.Context, namespace string) ([]models.Deployment, error) {
	if !validate.Namespace(namespace) {
		return nil, validationErrorf("invalid namespace %q", namespace)
	}
	return s.client.ListDeployments(ctx, namespace, "")
}

func (s *deploymentService) Get(ctx context.Context, namespace, name string) (*models.Deployment, error) {
	if err := checkRef(namespace, name); err != nil {
		return nil, err
	}
	return s.client.GetDeployment(ctx, namespace, name)
}

func (s *deploymentService) Restart(ctx context.Context, namespace, name string) (time.Time, error) {
	if err := checkRef(namespace, name); err != nil {
		return time.Time{}, err
	}
	at := s.now().UTC()
	if err := s.client.RestartDeployment(ctx, namespace, name, at); err != nil {
		return time.Time{}, fmt.Errorf("restart deployment: %w", err)
	}
	logger.With(ctx, s.log).Info("Deployment restart requested", "namespace", namespace, "deployment", name)
	return at, nil
}

func checkRef(namespace, name string) error {
	if !validate.DNSLabel(namespace) {
		return validationErrorf("invalid namespace %q", namespace)
	}
	if !validate.Name(name) {
		return validationErrorf("invalid name %q", name)
	}
	return nil
}
