package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// BOOKING STATUS (matches bookings.status CHECK constraint)
// ============================================================================

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingPending         BookingStatus = "pending"          // Created, no reservation yet
	BookingAwaitingPayment BookingStatus = "awaiting_payment" // Seats held, payment outstanding
	BookingConfirmed       BookingStatus = "confirmed"        // Paid, seats committed
	BookingCancelled       BookingStatus = "cancelled"        // Cancelled by user or operator
	BookingExpired         BookingStatus = "expired"          // Hold elapsed before payment resolved
	BookingFailed          BookingStatus = "failed"           // Payment permanently failed
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:         {BookingAwaitingPayment, BookingCancelled, BookingExpired, BookingFailed},
	BookingAwaitingPayment: {BookingConfirmed, BookingCancelled, BookingExpired, BookingFailed},
}

// IsTerminal reports whether no further transition is allowed
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingConfirmed, BookingCancelled, BookingExpired, BookingFailed:
		return true
	}
	return false
}

// CanTransitionTo checks the legal transition graph
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ============================================================================
// PASSENGERS (JSONB)
// ============================================================================

// Passenger is one traveller on a booking
type Passenger struct {
	FullName       string `json:"full_name" binding:"required"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"` // ID or passport, required by some flight/ferry operators
}

// Passengers is stored as a JSONB array
type Passengers []Passenger

func (p Passengers) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	bytes, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

func (p *Passengers) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, p)
}

// ============================================================================
// BOOKING MODEL (bookings table)
// ============================================================================

// Booking is the durable record of a purchase attempt.
// Trip is a snapshot taken at selection time and is never rewritten.
type Booking struct {
	ID             string        `json:"id" db:"id"`
	Reference      string        `json:"reference" db:"reference"`
	UserID         *string       `json:"user_id,omitempty" db:"user_id"`
	ClientPlatform string        `json:"client_platform,omitempty" db:"client_platform"`
	Trip           Trip          `json:"trip" db:"trip_snapshot"`
	Passengers     Passengers    `json:"passengers" db:"passengers"`
	ContactPhone   string        `json:"contact_phone" db:"contact_phone"`
	ContactEmail   *string       `json:"contact_email,omitempty" db:"contact_email"`
	SeatCount      int           `json:"seat_count" db:"seat_count"`
	AmountMinor    int64         `json:"amount_minor" db:"amount_minor"`
	Currency       string        `json:"currency" db:"currency"`
	ReservationID  string        `json:"reservation_id" db:"reservation_id"`
	PaymentID      *string       `json:"payment_id,omitempty" db:"payment_id"`
	Status         BookingStatus `json:"status" db:"status"`
	StatusReason   *string       `json:"status_reason,omitempty" db:"status_reason"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ============================================================================
// REQUEST / INPUT STRUCTS
// ============================================================================

// CreateBookingRequest is the POST /bookings body
type CreateBookingRequest struct {
	TripID       string      `json:"trip_id" binding:"required"`
	SeatCount    int         `json:"seat_count" binding:"required"`
	Passengers   []Passenger `json:"passengers" binding:"required,dive"`
	ContactPhone string      `json:"contact_phone" binding:"required"`
	ContactEmail string      `json:"contact_email,omitempty"`
}

// CreateBookingInput is what the booking service needs once the trip is resolved
type CreateBookingInput struct {
	Trip           Trip
	Passengers     []Passenger
	SeatCount      int
	ContactPhone   string
	ContactEmail   string
	UserID         *string
	ClientPlatform string
}

// Validate checks passenger and seat fields. maxSeats <= 0 disables the upper bound.
func (in *CreateBookingInput) Validate(maxSeats int) error {
	if in.Trip.ID == "" {
		return NewValidationError("trip_id", "is required")
	}
	if in.SeatCount <= 0 {
		return NewValidationError("seat_count", "must be greater than zero")
	}
	if maxSeats > 0 && in.SeatCount > maxSeats {
		return NewValidationError("seat_count", "exceeds the per-booking seat limit")
	}
	if len(in.Passengers) == 0 {
		return NewValidationError("passengers", "at least one passenger is required")
	}
	if len(in.Passengers) > in.SeatCount {
		return NewValidationError("passengers", "more passengers than seats")
	}
	for _, p := range in.Passengers {
		if strings.TrimSpace(p.FullName) == "" {
			return NewValidationError("passengers.full_name", "is required")
		}
	}
	if strings.TrimSpace(in.ContactPhone) == "" {
		return NewValidationError("contact_phone", "is required")
	}
	return nil
}

// ============================================================================
// PAYMENT OUTCOMES (Payment Orchestrator -> Booking)
// ============================================================================

// OutcomeKind is how a payment resolved from the booking's point of view
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// PaymentOutcome is delivered to BookingService.ResolvePayment
type PaymentOutcome struct {
	Kind      OutcomeKind
	AttemptID string
	Reason    string
}
