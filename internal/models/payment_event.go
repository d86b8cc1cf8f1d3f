package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType is an entry kind in the append-only payment event log
type PaymentEventType string

const (
	PaymentEventInitiated        PaymentEventType = "payment_initiated"
	PaymentEventStartFailed      PaymentEventType = "payment_start_failed"
	PaymentEventPending          PaymentEventType = "payment_pending"
	PaymentEventCallbackReceived PaymentEventType = "callback_received"
	PaymentEventSucceeded        PaymentEventType = "payment_succeeded"
	PaymentEventFailed           PaymentEventType = "payment_failed"
	PaymentEventTimedOut         PaymentEventType = "payment_timed_out"
	PaymentEventAmountMismatch   PaymentEventType = "amount_mismatch"
	PaymentEventRefundRequired   PaymentEventType = "refund_required"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceOrchestrator PaymentEventSource = "orchestrator"
	PaymentSourceCallback     PaymentEventSource = "callback"
	PaymentSourceSweep        PaymentEventSource = "sweep"
)

// PaymentEvent is an immutable log entry for a payment attempt
type PaymentEvent struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	AttemptID         *string            `json:"attempt_id,omitempty" db:"attempt_id"`
	BookingID         *string            `json:"booking_id,omitempty" db:"booking_id"`
	ExternalReference *string            `json:"external_reference,omitempty" db:"external_reference"`
	EventType         PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource       PaymentEventSource `json:"event_source" db:"event_source"`
	Method            *string            `json:"method,omitempty" db:"method"`
	ExpectedAmount    *int64             `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount    *int64             `json:"received_amount,omitempty" db:"received_amount"`
	Currency          *string            `json:"currency,omitempty" db:"currency"`
	Payload           JSONB              `json:"payload,omitempty" db:"payload"`
	ErrorMessage      *string            `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate       bool               `json:"is_duplicate" db:"is_duplicate"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// NewPaymentEvent creates a log entry with required fields
func NewPaymentEvent(eventType PaymentEventType, source PaymentEventSource, at time.Time) *PaymentEvent {
	return &PaymentEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   at,
	}
}

// ForAttempt copies identifying fields from the attempt
func (e *PaymentEvent) ForAttempt(a *PaymentAttempt) *PaymentEvent {
	attemptID, bookingID, method, currency := a.ID, a.BookingID, string(a.Method), a.Currency
	e.AttemptID = &attemptID
	e.BookingID = &bookingID
	e.Method = &method
	e.Currency = &currency
	if a.ExternalReference != nil {
		ref := *a.ExternalReference
		e.ExternalReference = &ref
	}
	return e
}

// SetExternalReference sets the provider transaction id
func (e *PaymentEvent) SetExternalReference(ref string) *PaymentEvent {
	e.ExternalReference = &ref
	return e
}

// SetAmounts records expected and received amounts; returns whether they match
func (e *PaymentEvent) SetAmounts(expected, received int64) bool {
	e.ExpectedAmount = &expected
	e.ReceivedAmount = &received
	return expected == received
}

// SetPayload stores the raw provider payload
func (e *PaymentEvent) SetPayload(payload JSONB) *PaymentEvent {
	e.Payload = payload
	return e
}

// SetError stores an error message
func (e *PaymentEvent) SetError(message string) *PaymentEvent {
	e.ErrorMessage = &message
	return e
}

// MarkAsDuplicate flags a replayed callback
func (e *PaymentEvent) MarkAsDuplicate() *PaymentEvent {
	e.IsDuplicate = true
	return e
}
