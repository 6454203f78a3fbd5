package core

import (
	"errors"
	"fmt"
)

// Validation errors, returned synchronously from Submit. No state is
// persisted when one of these is returned.
var (
	ErrEmptyHTML       = errors.New("renderq: html content is empty")
	ErrHTMLTooLarge    = errors.New("renderq: html content exceeds size limit")
	ErrNoTargetClients = errors.New("renderq: no target clients specified")
	ErrTooManyTargets  = errors.New("renderq: too many target clients")
	ErrUnknownClient   = errors.New("renderq: unknown email client")
	ErrInactiveClient  = errors.New("renderq: email client is not active")
	ErrInvalidClientID = errors.New("renderq: invalid email client id")
)

// Lookup and state errors.
var (
	ErrJobNotFound    = errors.New("renderq: job not found")
	ErrWorkerNotFound = errors.New("renderq: worker not found")
	ErrClientNotFound = errors.New("renderq: email client not found")
	ErrResultNotFound = errors.New("renderq: test result not found")
	ErrCannotCancel   = errors.New("renderq: job is no longer cancellable")
	ErrResultExists   = errors.New("renderq: test result already written")
)

// ErrSchedulingConflict is returned when a conditional state transition loses
// a race against a concurrent dispatcher or coordinator instance. The loser
// retries; the job is never dropped.
var ErrSchedulingConflict = errors.New("renderq: scheduling conflict, transition lost race")

// ErrWorkerUnavailable is recorded on jobs whose worker stopped heartbeating
// more times than the job's retry budget allows.
var ErrWorkerUnavailable = errors.New("worker unavailable")

// TransientCaptureError indicates a capture attempt failed for a reason worth
// retrying: network trouble, a timeout, a flaky simulator.
type TransientCaptureError struct {
	Err error
}

func (e *TransientCaptureError) Error() string {
	return fmt.Sprintf("transient capture error: %v", e.Err)
}

func (e *TransientCaptureError) Unwrap() error {
	return e.Err
}

// Transient wraps an error to mark a capture attempt as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientCaptureError{Err: err}
}

// PermanentCaptureError indicates a capture attempt failed for a reason that
// will not improve on retry, e.g. an unsupported client capability. The
// Screenshot fails immediately.
type PermanentCaptureError struct {
	Err error
}

func (e *PermanentCaptureError) Error() string {
	return fmt.Sprintf("permanent capture error: %v", e.Err)
}

func (e *PermanentCaptureError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to mark a capture attempt as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentCaptureError{Err: err}
}

// IsPermanentCapture reports whether err carries a PermanentCaptureError.
func IsPermanentCapture(err error) bool {
	var pe *PermanentCaptureError
	return errors.As(err, &pe)
}
