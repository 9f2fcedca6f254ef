package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict covers expected, user-facing races: overlapping claims,
	// stale state and double signatures. Callers surface it, the core never retries it.
	ErrConflict         = errors.New("conflict")
	ErrDatesUnavailable = fmt.Errorf("%w: vehicle no longer available for these dates", ErrConflict)
	ErrStaleState       = fmt.Errorf("%w: state changed, reload and try again", ErrConflict)
	ErrAlreadySigned    = fmt.Errorf("%w: contract already signed", ErrConflict)

	ErrInvalidTransition = errors.New("invalid transition")

	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// ErrInvariant means the ledger and the booking rows diverged.
	ErrInvariant     = errors.New("invariant violated")
	ErrNoHeldWindow  = fmt.Errorf("%w: no held reservation window for booking", ErrInvariant)
	ErrBookingHalted = errors.New("booking halted pending manual reconciliation")
)

// TransitionError reports a transition requested from a state that does not permit it.
type TransitionError struct {
	Op   string
	From BookingStatus
}

func (e *TransitionError) Error() string {
	if e.Op == "accept" || e.Op == "decline" {
		return fmt.Sprintf("%s: booking no longer pending (status %s)", e.Op, e.From)
	}
	if e.From.IsTerminal() {
		return fmt.Sprintf("%s: booking is %s", e.Op, e.From)
	}
	return fmt.Sprintf("%s: not allowed from status %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError builds the InvalidTransition error for op attempted from state from.
func NewTransitionError(op string, from BookingStatus) error {
	return &TransitionError{Op: op, From: from}
}
