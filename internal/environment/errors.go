package environment

import (
	"errors"
	"fmt"

	"github.com/akmukhi/developer-self-service/internal/k8s"
)

// Failure classes of the lifecycle manager. Callers branch on them with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("environment not found")
	ErrClusterUnavailable = errors.New("cluster unavailable")
	ErrClusterError       = errors.New("cluster error")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// clusterErr maps a gateway failure onto ErrClusterUnavailable or ErrClusterError.
func clusterErr(op string, err error) error {
	if k8s.IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrClusterUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrClusterError, op, err)
}
