package database

import (
	"context"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// Lookups return (nil, nil) when the row does not exist.

// InventoryStore persists seat ledgers and the reservations held against them
type InventoryStore interface {
	GetInventory(ctx context.Context, tripID string) (*models.SeatInventory, error)
	ListInventories(ctx context.Context) ([]*models.SeatInventory, error)
	// SaveInventory writes counters guarded by expectedVersion (0 creates the row).
	// Returns models.ErrVersionConflict when another writer got there first.
	SaveInventory(ctx context.Context, inv *models.SeatInventory, expectedVersion int64) error
	// SaveReservation is SaveInventory plus an upsert of res in the same transaction
	SaveReservation(ctx context.Context, inv *models.SeatInventory, expectedVersion int64, res *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error)
	// ReservationTotals sums active and committed seats for a trip
	ReservationTotals(ctx context.Context, tripID string) (held, committed int, err error)
}

// BookingStore persists bookings
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetByReservationID(ctx context.Context, reservationID string) (*models.Booking, error)
	// Update writes mutable fields only if the stored status still equals expected.
	// Returns models.ErrInvalidTransition otherwise.
	Update(ctx context.Context, booking *models.Booking, expected models.BookingStatus) error
	// ListOpenBefore returns pending or awaiting_payment bookings created before
	// createdBefore, oldest first
	ListOpenBefore(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
}

// PaymentAttemptStore persists payment attempts
type PaymentAttemptStore interface {
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	GetByID(ctx context.Context, id string) (*models.PaymentAttempt, error)
	GetByExternalReference(ctx context.Context, ref string) (*models.PaymentAttempt, error)
	ListByBooking(ctx context.Context, bookingID string) ([]*models.PaymentAttempt, error)
	// Update writes mutable fields only if the stored status still equals expected
	Update(ctx context.Context, attempt *models.PaymentAttempt, expected models.AttemptStatus) error
	// ListPending returns pending_confirmation attempts of one method family
	// that went pending before cutoff, oldest first
	ListPending(ctx context.Context, family models.MethodFamily, cutoff time.Time, limit int) ([]*models.PaymentAttempt, error)
}

// PaymentEventStore is the append-only payment event log
type PaymentEventStore interface {
	Log(ctx context.Context, event *models.PaymentEvent) error
	ListByBooking(ctx context.Context, bookingID string) ([]*models.PaymentEvent, error)
}
