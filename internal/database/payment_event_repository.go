package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// PaymentEventRepository is the Postgres payment event log
type PaymentEventRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentEventRepository creates a new payment event repository
func NewPaymentEventRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentEventRepository {
	return &PaymentEventRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends an entry. Payment events must never be dropped silently.
func (r *PaymentEventRepository) Log(ctx context.Context, event *models.PaymentEvent) error {
	if event == nil {
		return fmt.Errorf("payment event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO payment_events (
			id, attempt_id, booking_id, external_reference,
			event_type, event_source, method,
			expected_amount, received_amount, currency,
			payload, error_message, is_duplicate, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.AttemptID, event.BookingID, event.ExternalReference,
		event.EventType, event.EventSource, event.Method,
		event.ExpectedAmount, event.ReceivedAmount, event.Currency,
		event.Payload, event.ErrorMessage, event.IsDuplicate, event.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":         event.EventType,
			"external_reference": event.ExternalReference,
		}).Error("Failed to write payment event")
		return fmt.Errorf("failed to log payment event: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
	}).Debug("Payment event logged")

	return nil
}

// ListByBooking returns a booking's payment history oldest first
func (r *PaymentEventRepository) ListByBooking(ctx context.Context, bookingID string) ([]*models.PaymentEvent, error) {
	var events []*models.PaymentEvent
	query := `
		SELECT id, attempt_id, booking_id, external_reference,
			event_type, event_source, method,
			expected_amount, received_amount, currency,
			payload, error_message, is_duplicate, created_at
		FROM payment_events
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &events, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment events: %w", err)
	}
	return events, nil
}
