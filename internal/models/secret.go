package models

import "time"

// SecretType mirrors the core/v1 secret types the portal creates.
type SecretType string

const (
	SecretOpaque       SecretType = "Opaque"
	SecretTLS          SecretType = "kubernetes.io/tls"
	SecretDockerConfig SecretType = "kubernetes.io/dockerconfigjson"
	SecretBasicAuth    SecretType = "kubernetes.io/basic-auth"
	SecretSSHAuth      SecretType = "kubernetes.io/ssh-auth"
)

// Valid reports whether t is a supported secret type.
func (t SecretType) Valid() bool {
	switch t {
	case SecretOpaque, SecretTLS, SecretDockerConfig, SecretBasicAuth, SecretSSHAuth:
		return true
	}
	return false
}

// SecretRotation is one entry of a secret's rotation history.
type SecretRotation struct {
	RotatedAt time.Time `json:"rotated_at"`
	RotatedBy string    `json:"rotated_by,omitempty"`
	Version   string    `json:"version"`
	Keys      []string  `json:"keys,omitempty"`
}

// Secret is secret metadata. Values are never part of this type.
type Secret struct {
	ID              string           `json:"id"`
	ServiceID       string           `json:"service_id"`
	Name            string           `json:"name"`
	Namespace       string           `json:"namespace"`
	Type            SecretType       `json:"secret_type"`
	Keys            []string         `json:"keys"`
	LastRotated     *time.Time       `json:"last_rotated,omitempty"`
	RotationHistory []SecretRotation `json:"rotation_history"`
	CreatedAt       *time.Time       `json:"created_at,omitempty"`
}

// SecretRotateRequest selects which keys to rotate. Empty Keys rotates all of them.
type SecretRotateRequest struct {
	Keys              []string `json:"keys,omitempty"`
	UpdateDeployments *bool    `json:"update_deployments,omitempty"`
	RotatedBy         string   `json:"rotated_by,omitempty"`
}

// SecretRotateResult reports what a rotation changed.
type SecretRotateResult struct {
	ServiceID          string    `json:"service_id"`
	SecretName         string    `json:"secret_name"`
	RotatedKeys        []string  `json:"rotated_keys"`
	RotatedAt          time.Time `json:"rotated_at"`
	Version            string    `json:"version"`
	DeploymentsUpdated []string  `json:"deployments_updated"`
}
