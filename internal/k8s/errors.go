package k8s

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Gateway error classes. Every error returned by this package wraps at most one of them;
// errors wrapping none are "reachable but failed" cluster errors.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrUnavailable   = errors.New("cluster API unavailable")
	ErrInvalid       = errors.New("resource rejected by cluster")
)

// classify maps client-go and transport errors onto the gateway error classes.
func classify(err error, kind, name string) error {
	if err == nil {
		return nil
	}
	subject := kind
	if name != "" {
		subject = fmt.Sprintf("%s %q", kind, name)
	}
	switch {
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("%s: %w", subject, err)
	case apierrors.IsNotFound(err):
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	case apierrors.IsAlreadyExists(err):
		return fmt.Errorf("%s: %w", subject, ErrAlreadyExists)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return fmt.Errorf("%s: %w: %v", subject, ErrInvalid, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), isRetryableError(err):
		return fmt.Errorf("%s: %w: %v", subject, ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", subject, err)
	}
}

// IsNotFound reports whether err is a gateway not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is a gateway conflict on create.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsUnavailable reports whether the cluster could not be reached.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
