package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DomainEventType names an engine event published for downstream consumers
type DomainEventType string

const (
	EventBookingCreated        DomainEventType = "booking.created"
	EventBookingConfirmed      DomainEventType = "booking.confirmed"
	EventBookingCancelled      DomainEventType = "booking.cancelled"
	EventBookingExpired        DomainEventType = "booking.expired"
	EventBookingFailed         DomainEventType = "booking.failed"
	EventBookingRefundRequired DomainEventType = "booking.refund_required"
	EventPaymentInitiated      DomainEventType = "payment.initiated"
	EventPaymentSucceeded      DomainEventType = "payment.succeeded"
	EventPaymentFailed         DomainEventType = "payment.failed"
	EventPaymentTimedOut       DomainEventType = "payment.timed_out"
)

// Family is the prefix before the dot ("booking", "payment")
func (t DomainEventType) Family() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}

// DomainEvent is the envelope published to the event bus
type DomainEvent struct {
	ID         string          `json:"id"`
	Type       DomainEventType `json:"type"`
	BookingID  string          `json:"booking_id"`
	Reference  string          `json:"reference,omitempty"`
	AttemptID  string          `json:"attempt_id,omitempty"`
	Status     string          `json:"status,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewBookingEvent builds an event from the booking's current state
func NewBookingEvent(t DomainEventType, b *Booking, at time.Time) DomainEvent {
	ev := DomainEvent{
		ID:         uuid.NewString(),
		Type:       t,
		BookingID:  b.ID,
		Reference:  b.Reference,
		Status:     string(b.Status),
		OccurredAt: at,
	}
	if b.StatusReason != nil {
		ev.Reason = *b.StatusReason
	}
	return ev
}

// NewPaymentEventMessage builds an event from a payment attempt
func NewPaymentEventMessage(t DomainEventType, a *PaymentAttempt, at time.Time) DomainEvent {
	ev := DomainEvent{
		ID:         uuid.NewString(),
		Type:       t,
		BookingID:  a.BookingID,
		AttemptID:  a.ID,
		Status:     string(a.Status),
		OccurredAt: at,
	}
	if a.FailureReason != nil {
		ev.Reason = *a.FailureReason
	}
	return ev
}
