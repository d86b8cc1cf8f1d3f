package models

import (
	"errors"
	"fmt"
)

// ============================================================================
// FAILURE KINDS
// ============================================================================

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInsufficientSeats      = errors.New("insufficient seats")
	ErrSeatsUnavailable       = errors.New("seats unavailable")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrReservationExpired     = errors.New("reservation expired")
	ErrAlreadyResolved        = errors.New("reservation already resolved")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrTripNotFound           = errors.New("trip not found")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrPaymentAttemptNotFound = errors.New("payment attempt not found")
	ErrMethodNotPermitted     = errors.New("payment method not permitted")
	ErrRetryBudgetExhausted   = errors.New("payment retry budget exhausted")
	ErrAttemptInProgress      = errors.New("payment attempt already in progress")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrVersionConflict        = errors.New("inventory version conflict")
	ErrTripHalted             = errors.New("trip inventory halted")
	ErrInvalidSignature       = errors.New("invalid callback signature")
)

// ============================================================================
// TYPED ERRORS
// ============================================================================

// ValidationError is returned for bad caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// CapacityError reports that a trip cannot satisfy a seat request.
type CapacityError struct {
	TripID    string
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("trip %s has %d seats available, %d requested", e.TripID, e.Available, e.Requested)
}

func (e *CapacityError) Unwrap() error {
	return ErrInsufficientSeats
}

// TransientProviderError wraps a timeout or 5xx from a travel or payment provider.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("provider %s temporarily failed: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// StateConflictError reports an operation attempted on an entity in an incompatible state.
// Kind is the failure kind the caller sees (ErrInvalidTransition, ErrAlreadyResolved, ...).
type StateConflictError struct {
	Entity    string
	ID        string
	State     string
	Operation string
	Kind      error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Operation, e.Entity, e.ID, e.State)
}

func (e *StateConflictError) Unwrap() error {
	if e.Kind == nil {
		return ErrInvalidTransition
	}
	return e.Kind
}

// DataIntegrityError is raised when held+committed exceeds total seats for a trip.
// The trip is halted until an operator intervenes.
type DataIntegrityError struct {
	TripID    string
	Held      int
	Committed int
	Total     int
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("inventory invariant violated for trip %s: held=%d committed=%d total=%d",
		e.TripID, e.Held, e.Committed, e.Total)
}

func (e *DataIntegrityError) Unwrap() error {
	return ErrTripHalted
}

// ============================================================================
// HELPERS
// ============================================================================

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsCapacityError(err error) bool {
	var target *CapacityError
	return errors.As(err, &target)
}

func IsTransientProviderError(err error) bool {
	var target *TransientProviderError
	return errors.As(err, &target)
}

func IsStateConflictError(err error) bool {
	var target *StateConflictError
	return errors.As(err, &target)
}

func IsDataIntegrityError(err error) bool {
	var target *DataIntegrityError
	return errors.As(err, &target)
}
