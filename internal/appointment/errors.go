package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation                  = errors.New("validation failed")
	ErrDuplicatePendingAppointment = errors.New("insured already has an active appointment")
	ErrAppointmentNotFound         = errors.New("appointment not found")
	ErrInvalidStatusTransition     = errors.New("invalid status transition")
	ErrConcurrentUpdate            = errors.New("appointment was modified concurrently")

	// ErrStore and ErrPublish mark transient infrastructure failures.
	ErrStore   = errors.New("store unavailable")
	ErrPublish = errors.New("publish failed")
)

// ValidationError lists every problem found in a malformed request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateTransitionError is returned by the aggregate when a transition
// is not allowed from the current status.
type InvalidStateTransitionError struct {
	From      Status
	Attempted Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidStatusTransition, e.From, e.Attempted)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// IsRetryable reports whether err is a transient failure worth retrying.
// Validation and business rule violations are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore) || errors.Is(err, ErrPublish) || errors.Is(err, ErrConcurrentUpdate)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

func publishError(event string, err error) error {
	return fmt.Errorf("publish %s: %w: %w", event, ErrPublish, err)
}
