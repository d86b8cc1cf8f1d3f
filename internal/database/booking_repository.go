package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-engine/internal/models"
)

// BookingRepository handles bookings table operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, reference, user_id, client_platform, trip_snapshot, passengers,
	contact_phone, contact_email, seat_count, amount_minor, currency,
	reservation_id, payment_id, status, status_reason,
	created_at, updated_at, resolved_at`

// Create inserts a new booking
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Reference, b.UserID, b.ClientPlatform, b.Trip, b.Passengers,
		b.ContactPhone, b.ContactEmail, b.SeatCount, b.AmountMinor, b.Currency,
		b.ReservationID, b.PaymentID, b.Status, b.StatusReason,
		b.CreatedAt, b.UpdatedAt, b.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by id
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByReservationID retrieves the booking that owns a reservation
func (r *BookingRepository) GetByReservationID(ctx context.Context, reservationID string) (*models.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE reservation_id = $1`, reservationID)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := r.db.GetContext(ctx, &b, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// Update writes status and payment fields if the row is still in the expected status.
// The trip snapshot, passengers and amount are never rewritten.
func (r *BookingRepository) Update(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $2, status_reason = $3, payment_id = $4, updated_at = $5, resolved_at = $6
		WHERE id = $1 AND status = $7`

	result, err := r.db.ExecContext(ctx, query,
		b.ID, b.Status, b.StatusReason, b.PaymentID, b.UpdatedAt, b.ResolvedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return &models.StateConflictError{
			Entity:    "booking",
			ID:        b.ID,
			State:     string(expected),
			Operation: "update",
			Kind:      models.ErrInvalidTransition,
		}
	}
	return nil
}

// ListOpenBefore returns bookings still waiting on payment that were created before createdBefore
func (r *BookingRepository) ListOpenBefore(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status IN ('pending', 'awaiting_payment') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &bookings, query, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list open bookings: %w", err)
	}
	return bookings, nil
}
