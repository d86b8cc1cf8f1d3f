package memory

import (
	"context"
	"testing"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestInventoryStore_Versioning(t *testing.T) {
	store := NewInventoryStore()
	ctx := context.Background()

	inv := &models.SeatInventory{TripID: "busco:T1", TotalSeats: 10, Version: 1}
	require.NoError(t, store.SaveInventory(ctx, inv, 0))

	// creating twice conflicts
	assert.ErrorIs(t, store.SaveInventory(ctx, inv, 0), models.ErrVersionConflict)

	res := &models.Reservation{ID: "res-1", TripID: "busco:T1", SeatCount: 3, Status: models.ReservationActive, ExpiresAt: epoch.Add(15 * time.Minute)}
	next := &models.SeatInventory{TripID: "busco:T1", TotalSeats: 10, Held: 3, Version: 2}
	require.NoError(t, store.SaveReservation(ctx, next, 1, res))

	// stale writers lose and leave nothing behind
	stale := &models.SeatInventory{TripID: "busco:T1", TotalSeats: 10, Held: 5, Version: 2}
	other := &models.Reservation{ID: "res-2", TripID: "busco:T1", SeatCount: 2, Status: models.ReservationActive}
	assert.ErrorIs(t, store.SaveReservation(ctx, stale, 1, other), models.ErrVersionConflict)

	got, err := store.GetInventory(ctx, "busco:T1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Held)
	assert.Equal(t, int64(2), got.Version)

	missing, err := store.GetReservation(ctx, "res-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInventoryStore_ExpiredAndTotals(t *testing.T) {
	store := NewInventoryStore()
	ctx := context.Background()

	inv := &models.SeatInventory{TripID: "busco:T1", TotalSeats: 10, Version: 1}
	require.NoError(t, store.SaveInventory(ctx, inv, 0))

	reservations := []*models.Reservation{
		{ID: "late", TripID: "busco:T1", SeatCount: 1, Status: models.ReservationActive, ExpiresAt: epoch.Add(-time.Minute)},
		{ID: "early", TripID: "busco:T1", SeatCount: 2, Status: models.ReservationActive, ExpiresAt: epoch.Add(-time.Hour)},
		{ID: "live", TripID: "busco:T1", SeatCount: 3, Status: models.ReservationActive, ExpiresAt: epoch.Add(time.Hour)},
		{ID: "paid", TripID: "busco:T1", SeatCount: 4, Status: models.ReservationCommitted, ExpiresAt: epoch.Add(-time.Hour)},
	}
	version := int64(1)
	for _, r := range reservations {
		inv.Version = version + 1
		require.NoError(t, store.SaveReservation(ctx, inv, version, r))
		version++
	}

	expired, err := store.ListExpiredReservations(ctx, epoch, 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "early", expired[0].ID)
	assert.Equal(t, "late", expired[1].ID)

	limited, err := store.ListExpiredReservations(ctx, epoch, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	held, committed, err := store.ReservationTotals(ctx, "busco:T1")
	require.NoError(t, err)
	assert.Equal(t, 6, held)
	assert.Equal(t, 4, committed)
}

func TestBookingStore(t *testing.T) {
	store := NewBookingStore()
	ctx := context.Background()

	booking := &models.Booking{
		ID:            "bk-1",
		ReservationID: "res-1",
		Status:        models.BookingAwaitingPayment,
		Passengers:    models.Passengers{{FullName: "Amina Njeri"}},
	}
	require.NoError(t, store.Create(ctx, booking))

	dup := &models.Booking{ID: "bk-2", ReservationID: "res-1"}
	assert.True(t, models.IsStateConflictError(store.Create(ctx, dup)))

	// returned values are copies
	got, err := store.GetByID(ctx, "bk-1")
	require.NoError(t, err)
	got.Passengers[0].FullName = "changed"
	again, _ := store.GetByID(ctx, "bk-1")
	assert.Equal(t, "Amina Njeri", again.Passengers[0].FullName)

	byRes, err := store.GetByReservationID(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", byRes.ID)

	reason := "paid"
	got.Status = models.BookingConfirmed
	got.StatusReason = &reason
	require.NoError(t, store.Update(ctx, got, models.BookingAwaitingPayment))

	// the second writer expected the old status
	err = store.Update(ctx, got, models.BookingAwaitingPayment)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	final, _ := store.GetByID(ctx, "bk-1")
	assert.Equal(t, models.BookingConfirmed, final.Status)
	assert.Equal(t, "Amina Njeri", final.Passengers[0].FullName)

	none, err := store.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBookingStore_ListOpenBefore(t *testing.T) {
	store := NewBookingStore()
	ctx := context.Background()

	bookings := []*models.Booking{
		{ID: "late", ReservationID: "res-1", Status: models.BookingAwaitingPayment, CreatedAt: epoch.Add(-time.Minute)},
		{ID: "early", ReservationID: "res-2", Status: models.BookingPending, CreatedAt: epoch.Add(-time.Hour)},
		{ID: "fresh", ReservationID: "res-3", Status: models.BookingAwaitingPayment, CreatedAt: epoch.Add(time.Minute)},
		{ID: "done", ReservationID: "res-4", Status: models.BookingConfirmed, CreatedAt: epoch.Add(-time.Hour)},
	}
	for _, b := range bookings {
		require.NoError(t, store.Create(ctx, b))
	}

	open, err := store.ListOpenBefore(ctx, epoch, 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "early", open[0].ID)
	assert.Equal(t, "late", open[1].ID)

	limited, err := store.ListOpenBefore(ctx, epoch, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPaymentAttemptStore(t *testing.T) {
	store := NewPaymentAttemptStore()
	ctx := context.Background()

	ref := "MM-123"
	first := &models.PaymentAttempt{ID: "att-1", BookingID: "bk-1", Sequence: 1, Family: models.FamilyMobileMoney, Status: models.AttemptInitiated}
	require.NoError(t, store.Create(ctx, first))

	// one open attempt per booking
	second := &models.PaymentAttempt{ID: "att-2", BookingID: "bk-1", Sequence: 2, Status: models.AttemptInitiated}
	assert.ErrorIs(t, store.Create(ctx, second), models.ErrAttemptInProgress)

	pendingAt := epoch
	first.Status = models.AttemptPendingConfirmation
	first.ExternalReference = &ref
	first.PendingAt = &pendingAt
	require.NoError(t, store.Update(ctx, first, models.AttemptInitiated))

	byRef, err := store.GetByExternalReference(ctx, "MM-123")
	require.NoError(t, err)
	assert.Equal(t, "att-1", byRef.ID)

	pending, err := store.ListPending(ctx, models.FamilyMobileMoney, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	notYet, err := store.ListPending(ctx, models.FamilyMobileMoney, epoch, 10)
	require.NoError(t, err)
	assert.Empty(t, notYet)
	otherFamily, err := store.ListPending(ctx, models.FamilyCard, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, otherFamily)

	first.Status = models.AttemptFailed
	require.NoError(t, store.Update(ctx, first, models.AttemptPendingConfirmation))
	assert.ErrorIs(t, store.Update(ctx, first, models.AttemptPendingConfirmation), models.ErrAlreadyResolved)

	// a terminal attempt frees the booking for a retry
	require.NoError(t, store.Create(ctx, second))

	list, err := store.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].Sequence)
	assert.Equal(t, 2, list[1].Sequence)
}

func TestPaymentEventStore(t *testing.T) {
	store := NewPaymentEventStore()
	ctx := context.Background()
	bk1, bk2 := "bk-1", "bk-2"

	require.NoError(t, store.Log(ctx, &models.PaymentEvent{BookingID: &bk1, EventSource: models.PaymentSourceOrchestrator}))
	require.NoError(t, store.Log(ctx, &models.PaymentEvent{BookingID: &bk2, EventSource: models.PaymentSourceCallback}))
	require.NoError(t, store.Log(ctx, &models.PaymentEvent{BookingID: &bk1, EventSource: models.PaymentSourceCallback}))

	events, err := store.ListByBooking(ctx, "bk-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.PaymentSourceOrchestrator, events[0].EventSource)
	assert.Equal(t, models.PaymentSourceCallback, events[1].EventSource)
}
