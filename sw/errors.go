package sw

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidDefinition is matched by every ValidationError.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrUnsupported marks definition features that parse but cannot run.
	ErrUnsupported = errors.New("unsupported")

	// ErrApplicationClosed is returned by an Application after Close.
	ErrApplicationClosed = errors.New("application is closed")
)

// ValidationError lists every problem found in a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidDefinition.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDefinition
}
