package database

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

var inventoryRowColumns = []string{"trip_id", "total_seats", "held", "committed", "version", "halted", "created_at", "updated_at"}

func TestInventoryRepository_GetInventory(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM seat_inventories WHERE trip_id = \$1`).
			WithArgs("busco:T1").
			WillReturnRows(sqlmock.NewRows(inventoryRowColumns).
				AddRow("busco:T1", 49, 2, 5, 7, false, now, now))

		inv, err := repo.GetInventory(ctx, "busco:T1")
		require.NoError(t, err)
		require.NotNil(t, inv)
		assert.Equal(t, 49, inv.TotalSeats)
		assert.Equal(t, 2, inv.Held)
		assert.Equal(t, 5, inv.Committed)
		assert.Equal(t, int64(7), inv.Version)
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM seat_inventories`).
			WithArgs("busco:NOPE").
			WillReturnRows(sqlmock.NewRows(inventoryRowColumns))

		inv, err := repo.GetInventory(ctx, "busco:NOPE")
		require.NoError(t, err)
		assert.Nil(t, inv)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryRepository_SaveReservation(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	inv := &models.SeatInventory{TripID: "busco:T1", TotalSeats: 49, Held: 2, Version: 1, CreatedAt: now, UpdatedAt: now}
	res := &models.Reservation{
		ID: uuid.NewString(), TripID: "busco:T1", SeatCount: 2,
		Status: models.ReservationActive, CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute),
	}

	t.Run("First reservation creates the ledger", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInventoryRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO seat_inventories`).
			WithArgs("busco:T1", 49, 2, 0, int64(1), false, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO reservations`).
			WithArgs(res.ID, "busco:T1", 2, models.ReservationActive, now, res.ExpiresAt, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.SaveReservation(ctx, inv, 0, res))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Stale version is a conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInventoryRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE seat_inventories`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.SaveReservation(ctx, inv, 3, res)
		assert.ErrorIs(t, err, models.ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Reservation write failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewInventoryRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE seat_inventories`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO reservations`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.SaveReservation(ctx, inv, 1, res)
		assert.ErrorContains(t, err, "failed to save reservation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInventoryRepository_ReservationTotals(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInventoryRepository(db)

	mock.ExpectQuery(`FROM reservations\s+WHERE trip_id = \$1`).
		WithArgs("busco:T1").
		WillReturnRows(sqlmock.NewRows([]string{"held", "committed"}).AddRow(3, 10))

	held, committed, err := repo.ReservationTotals(context.Background(), "busco:T1")
	require.NoError(t, err)
	assert.Equal(t, 3, held)
	assert.Equal(t, 10, committed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_Update(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	now := time.Now().UTC()
	booking := &models.Booking{ID: uuid.NewString(), Status: models.BookingConfirmed, UpdatedAt: now, ResolvedAt: &now}

	t.Run("Applied", func(t *testing.T) {
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(booking.ID, models.BookingConfirmed, nil, nil, now, &now, models.BookingAwaitingPayment).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(context.Background(), booking, models.BookingAwaitingPayment))
	})

	t.Run("Status moved on", func(t *testing.T) {
		mock.ExpectExec(`UPDATE bookings`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(context.Background(), booking, models.BookingAwaitingPayment)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		assert.True(t, models.IsStateConflictError(err))
	})

	t.Run("Not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM bookings WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		b, err := repo.GetByID(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepository_ListOpenBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)
	cutoff := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM bookings\s+WHERE status IN \('pending', 'awaiting_payment'\) AND created_at < \$1\s+ORDER BY created_at ASC\s+LIMIT \$2`).
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "reservation_id", "created_at"}).
			AddRow("bk-1", "awaiting_payment", "res-1", cutoff.Add(-time.Hour)).
			AddRow("bk-2", "pending", "res-2", cutoff.Add(-time.Minute)))

	bookings, err := repo.ListOpenBefore(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, "bk-1", bookings[0].ID)
	assert.Equal(t, models.BookingAwaitingPayment, bookings[0].Status)
	assert.Equal(t, "res-2", bookings[1].ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAttemptRepository_ListPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentAttemptRepository(db)
	cutoff := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM payment_attempts\s+WHERE status = 'pending_confirmation' AND family = \$1 AND pending_at < \$2`).
		WithArgs(models.FamilyMobileMoney, cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "family", "status"}).
			AddRow("att-1", "bk-1", "mobile_money", "pending_confirmation"))

	attempts, err := repo.ListPending(context.Background(), models.FamilyMobileMoney, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.FamilyMobileMoney, attempts[0].Family)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAttemptRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentAttemptRepository(db)
	attempt := &models.PaymentAttempt{
		ID: uuid.NewString(), BookingID: uuid.NewString(), Sequence: 2,
		Method: models.MethodMpesa, Family: models.FamilyMobileMoney, Status: models.AttemptInitiated,
		AmountMinor: 300000, Currency: "KES", CreatedAt: time.Now().UTC(),
	}

	t.Run("Inserted", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_attempts`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.Create(context.Background(), attempt))
	})

	t.Run("Second open attempt", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_attempts`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: openAttemptIndex})

		err := repo.Create(context.Background(), attempt)
		assert.ErrorIs(t, err, models.ErrAttemptInProgress)
	})

	t.Run("Other failure", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO payment_attempts`).
			WillReturnError(errors.New("connection reset"))

		err := repo.Create(context.Background(), attempt)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrAttemptInProgress)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentAttemptRepository_Update(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentAttemptRepository(db)
	attempt := &models.PaymentAttempt{ID: uuid.NewString(), Status: models.AttemptSucceeded}

	mock.ExpectExec(`UPDATE payment_attempts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), attempt, models.AttemptPendingConfirmation)
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentEventRepository_Log(t *testing.T) {
	db, mock := newMockDB(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	repo := NewPaymentEventRepository(db, logger)

	event := models.NewPaymentEvent(models.PaymentEventCallbackReceived, models.PaymentSourceCallback, time.Now().UTC())
	event.MarkAsDuplicate()

	mock.ExpectExec(`INSERT INTO payment_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Log(context.Background(), event))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.True(t, event.IsDuplicate)

	assert.Error(t, repo.Log(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
