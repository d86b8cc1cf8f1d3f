package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/booking-engine/internal/models"
)

const openAttemptIndex = "idx_payment_attempts_open"

// PaymentAttemptRepository handles payment_attempts table operations
type PaymentAttemptRepository struct {
	db *sqlx.DB
}

// NewPaymentAttemptRepository creates a new PaymentAttemptRepository
func NewPaymentAttemptRepository(db *sqlx.DB) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{db: db}
}

const attemptColumns = `
	id, booking_id, sequence, method, family, status, external_reference,
	amount_minor, currency, payer_reference, redirect_url, failure_reason,
	created_at, pending_at, resolved_at`

// Create inserts a new attempt. The partial unique index rejects a second open attempt.
func (r *PaymentAttemptRepository) Create(ctx context.Context, a *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.BookingID, a.Sequence, a.Method, a.Family, a.Status, a.ExternalReference,
		a.AmountMinor, a.Currency, a.PayerReference, a.RedirectURL, a.FailureReason,
		a.CreatedAt, a.PendingAt, a.ResolvedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == openAttemptIndex {
			return fmt.Errorf("booking %s: %w", a.BookingID, models.ErrAttemptInProgress)
		}
		return fmt.Errorf("failed to create payment attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by id
func (r *PaymentAttemptRepository) GetByID(ctx context.Context, id string) (*models.PaymentAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id)
}

// GetByExternalReference matches a provider callback to its attempt
func (r *PaymentAttemptRepository) GetByExternalReference(ctx context.Context, ref string) (*models.PaymentAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE external_reference = $1`, ref)
}

func (r *PaymentAttemptRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	err := r.db.GetContext(ctx, &a, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	return &a, nil
}

// ListByBooking returns a booking's attempts in sequence order
func (r *PaymentAttemptRepository) ListByBooking(ctx context.Context, bookingID string) ([]*models.PaymentAttempt, error) {
	var attempts []*models.PaymentAttempt
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE booking_id = $1 ORDER BY sequence ASC`

	if err := r.db.SelectContext(ctx, &attempts, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	return attempts, nil
}

// Update writes mutable fields if the attempt is still in the expected status
func (r *PaymentAttemptRepository) Update(ctx context.Context, a *models.PaymentAttempt, expected models.AttemptStatus) error {
	query := `
		UPDATE payment_attempts
		SET status = $2, external_reference = $3, redirect_url = $4, failure_reason = $5,
			pending_at = $6, resolved_at = $7
		WHERE id = $1 AND status = $8`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.Status, a.ExternalReference, a.RedirectURL, a.FailureReason,
		a.PendingAt, a.ResolvedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return &models.StateConflictError{
			Entity:    "payment attempt",
			ID:        a.ID,
			State:     string(expected),
			Operation: "update",
			Kind:      models.ErrAlreadyResolved,
		}
	}
	return nil
}

// ListPending returns attempts of one family stuck in pending_confirmation since before cutoff
func (r *PaymentAttemptRepository) ListPending(ctx context.Context, family models.MethodFamily, cutoff time.Time, limit int) ([]*models.PaymentAttempt, error) {
	var attempts []*models.PaymentAttempt
	query := `
		SELECT ` + attemptColumns + `
		FROM payment_attempts
		WHERE status = 'pending_confirmation' AND family = $1 AND pending_at < $2
		ORDER BY pending_at ASC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &attempts, query, family, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending attempts: %w", err)
	}
	return attempts, nil
}
