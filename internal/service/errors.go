package service

import (
	"errors"
	"fmt"
)

// ErrValidation marks request errors detected before any cluster call.
var ErrValidation = errors.New("validation failed")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
