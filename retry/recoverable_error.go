package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"syscall"
)

// RecoverableError is implemented by errors that know whether they may
// be retried.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err may succeed when retried. Explicit
// markers win. Otherwise deadlines, dropped driver connections, network
// timeouts and refused or reset connections are recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var marked RecoverableError
	if errors.As(err, &marked) {
		return marked.IsRecoverable()
	}
	return isTransient(err)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string       { return e.err.Error() }
func (e *recoverableError) IsRecoverable() bool { return true }
func (e *recoverableError) Unwrap() error       { return e.err }

// NewRecoverableError marks err as retryable.
func NewRecoverableError(err error) error {
	return &recoverableError{err: err}
}

// NonRecoverableError marks an error that must not be retried.
type NonRecoverableError struct {
	err error
}

func (e *NonRecoverableError) Error() string       { return e.err.Error() }
func (e *NonRecoverableError) IsRecoverable() bool { return false }
func (e *NonRecoverableError) Unwrap() error       { return e.err }

// NewNonRecoverableError marks err as not retryable.
func NewNonRecoverableError(err error) *NonRecoverableError {
	return &NonRecoverableError{err: err}
}

// IsNonRecoverable reports whether err was explicitly marked as not
// retryable.
func IsNonRecoverable(err error) bool {
	var nonRecoverable *NonRecoverableError
	return errors.As(err, &nonRecoverable)
}
