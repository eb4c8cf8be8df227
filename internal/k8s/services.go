package k8s

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// CreateService creates a ClusterIP service. No ports means 80->80; a nil selector means app=<name>.
// An existing service is returned as-is.
func (c *Client) CreateService(ctx context.Context, namespace, name string, ports []models.ServicePort, selector map[string]string) (*models.KubeService, error) {
	if len(ports) == 0 {
		ports = []models.ServicePort{{Port: 80, TargetPort: 80}}
	}
	if len(selector) == 0 {
		selector = map[string]string{"app": name}
	}
	specPorts := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		proto := corev1.Protocol(p.Protocol)
		if proto == "" {
			proto = corev1.ProtocolTCP
		}
		target := p.TargetPort
		if target == 0 {
			target = p.Port
		}
		specPorts = append(specPorts, corev1.ServicePort{
			Port:       p.Port,
			TargetPort: intstr.FromInt32(target),
			Protocol:   proto,
		})
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: selector},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Ports:    specPorts,
			Selector: selector,
		},
	}
	created, err := write(ctx, c, func(ctx context.Context) (*corev1.Service, error) {
		return c.Clientset.CoreV1().Services(namespace).Create(ctx, svc, metav1.CreateOptions{})
	})
	if err != nil {
		err = classify(err, "service", namespace+"/"+name)
		if IsAlreadyExists(err) {
			return c.GetService(ctx, namespace, name)
		}
		return nil, err
	}
	return serviceToModel(created), nil
}

// GetService returns a core/v1 service, or ErrNotFound.
func (c *Client) GetService(ctx context.Context, namespace, name string) (*models.KubeService, error) {
	svc, err := read(ctx, c, func(ctx context.Context) (*corev1.Service, error) {
		return c.Clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	})
	if err != nil {
		return nil, classify(err, "service", namespace+"/"+name)
	}
	return serviceToModel(svc), nil
}

// DeleteService deletes a core/v1 service.
func (c *Client) DeleteService(ctx context.Context, namespace, name string) error {
	_, err := write(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Clientset.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	})
	return classify(err, "service", namespace+"/"+name)
}

func serviceToModel(svc *corev1.Service) *models.KubeService {
	out := &models.KubeService{
		Name:      svc.Name,
		Namespace: svc.Namespace,
		Type:      string(svc.Spec.Type),
		ClusterIP: svc.Spec.ClusterIP,
		Ports:     make([]models.ServicePort, 0, len(svc.Spec.Ports)),
	}
	for _, p := range svc.Spec.Ports {
		out.Ports = append(out.Ports, models.ServicePort{
			Port:       p.Port,
			TargetPort: p.TargetPort.IntVal,
			Protocol:   string(p.Protocol),
		})
	}
	return out
}
