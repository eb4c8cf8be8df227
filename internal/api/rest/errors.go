package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/akmukhi/developer-self-service/internal/environment"
	"github.com/akmukhi/developer-self-service/internal/k8s"
	"github.com/akmukhi/developer-self-service/internal/metrics"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/service"
	"github.com/akmukhi/developer-self-service/internal/terraform"
)

// APIError represents a structured API error response
type APIError struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error codes for common scenarios
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeClusterUnavailable = "CLUSTER_UNAVAILABLE"
	ErrCodeClusterError       = "CLUSTER_ERROR"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeTerraformError     = "TERRAFORM_ERROR"
	ErrCodeMetricsUnavailable = "METRICS_UNAVAILABLE"
)

// classifyError maps domain errors onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, ErrCodeValidationFailed
	case errors.Is(err, environment.ErrValidation),
		errors.Is(err, service.ErrValidation),
		errors.Is(err, k8s.ErrInvalid),
		errors.Is(err, terraform.ErrInvalidWorkspace):
		return http.StatusBadRequest, ErrCodeValidationFailed
	case errors.Is(err, environment.ErrNotFound),
		errors.Is(err, k8s.ErrNotFound),
		errors.Is(err, terraform.ErrWorkspaceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, k8s.ErrAlreadyExists):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, metrics.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrCodeMetricsUnavailable
	case errors.Is(err, environment.ErrClusterUnavailable), errors.Is(err, k8s.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrCodeClusterUnavailable
	case errors.Is(err, environment.ErrClusterError):
		return http.StatusBadGateway, ErrCodeClusterError
	case errors.Is(err, terraform.ErrBinaryNotFound),
		errors.Is(err, terraform.ErrTimeout),
		errors.Is(err, terraform.ErrCommandFailed),
		errors.Is(err, terraform.ErrUnsupportedVersion):
		return http.StatusBadGateway, ErrCodeTerraformError
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// RespondError writes err as an APIError. Internal errors are logged and not echoed to the client.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.With(r.Context(), nil).Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	respondStructuredError(w, r, status, code, message, nil)
}

// respondStructuredError sends a structured error response with error code and details
func respondStructuredError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	respond(w, r, status, APIError{
		Error:     message,
		Code:      code,
		Message:   message,
		RequestID: logger.FromContext(r.Context()),
		Details:   details,
	})
}

// respond writes data as JSON, or as YAML when the client asks for application/yaml.
func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	if wantsYAML(r) {
		body, err := yaml.Marshal(data)
		if err == nil {
			w.Header().Set("Content-Type", "application/yaml")
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func wantsYAML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/yaml") || strings.Contains(accept, "application/x-yaml")
}

// decodeJSON decodes the request body into v, rejecting unknown fields. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err)
	}
	return nil
}
