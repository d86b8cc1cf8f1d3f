package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/database/memory"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []models.DomainEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DomainEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []string
}

func (n *recordingNotifier) BookingConfirmed(_ context.Context, b *models.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.ID)
	return nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event models.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// flakyBookingStore fails the next failures updates that move a booking to status
type flakyBookingStore struct {
	*memory.BookingStore
	mu       sync.Mutex
	status   models.BookingStatus
	failures int
}

func newFlakyBookingStore(status models.BookingStatus, failures int) *flakyBookingStore {
	return &flakyBookingStore{BookingStore: memory.NewBookingStore(), status: status, failures: failures}
}

func (s *flakyBookingStore) Update(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	s.mu.Lock()
	if b.Status == s.status && s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("db blip")
	}
	s.mu.Unlock()
	return s.BookingStore.Update(ctx, b, expected)
}

type bookingFixture struct {
	bookings  *BookingService
	inventory *SeatInventoryService
	clock     *utils.ManualClock
	events    *recordingPublisher
	notifier  *recordingNotifier
}

func setupBookingTest(t *testing.T) *bookingFixture {
	t.Helper()
	return setupBookingTestWithStore(t, memory.NewBookingStore())
}

func setupBookingTestWithStore(t *testing.T, store database.BookingStore) *bookingFixture {
	t.Helper()
	clock := utils.NewManualClock(testEpoch)
	locker := utils.NewKeyedMutex()
	logger := newTestLogger()

	inventory := NewSeatInventoryService(memory.NewInventoryStore(), locker, clock, DefaultSeatInventoryConfig(), logger)
	events := &recordingPublisher{}
	notifier := &recordingNotifier{}
	bookings := NewBookingService(store, inventory, locker, clock, events, notifier,
		BookingConfig{MaxSeatsPerBooking: 10}, logger)

	return &bookingFixture{bookings: bookings, inventory: inventory, clock: clock, events: events, notifier: notifier}
}

func sampleTrip(totalSeats int) models.Trip {
	departs := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	return models.Trip{
		ID:             "busco:T1",
		ProviderID:     "busco",
		Mode:           models.ModeBus,
		Origin:         "Nairobi",
		Destination:    "Mombasa",
		DepartureTime:  departs,
		ArrivalTime:    departs.Add(8 * time.Hour),
		PriceMinor:     150000,
		Currency:       "KES",
		TotalSeats:     totalSeats,
		AvailableSeats: totalSeats,
	}
}

func sampleInput(trip models.Trip, seats int) models.CreateBookingInput {
	return models.CreateBookingInput{
		Trip:         trip,
		SeatCount:    seats,
		Passengers:   []models.Passenger{{FullName: "Amina Njeri"}},
		ContactPhone: "+254712345678",
	}
}

func TestCreateBooking(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()

	booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 2))
	require.NoError(t, err)

	assert.Equal(t, models.BookingAwaitingPayment, booking.Status)
	assert.Equal(t, int64(300000), booking.AmountMinor)
	assert.Equal(t, "KES", booking.Currency)
	assert.Regexp(t, `^ST-[0-9A-Z]{8}$`, booking.Reference)
	assert.NotEmpty(t, booking.ReservationID)

	res, err := f.inventory.GetReservation(ctx, booking.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SeatCount)
	assert.Equal(t, []models.DomainEventType{models.EventBookingCreated}, f.events.types())
}

func TestCreateBooking_Validation(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(in *models.CreateBookingInput)
	}{
		{"no passengers", func(in *models.CreateBookingInput) { in.Passengers = nil }},
		{"more passengers than seats", func(in *models.CreateBookingInput) {
			in.Passengers = []models.Passenger{{FullName: "A"}, {FullName: "B"}, {FullName: "C"}}
		}},
		{"blank passenger name", func(in *models.CreateBookingInput) { in.Passengers = []models.Passenger{{FullName: " "}} }},
		{"missing contact phone", func(in *models.CreateBookingInput) { in.ContactPhone = "" }},
		{"too many seats", func(in *models.CreateBookingInput) { in.SeatCount = 11 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput(sampleTrip(49), 2)
			tt.mutate(&in)
			_, err := f.bookings.CreateBooking(ctx, in)
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
		})
	}
}

func TestCreateBooking_ConcurrentLastSeats(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()
	trip := sampleTrip(2)

	var wg sync.WaitGroup
	results := make([]error, 2)
	bookings := make([]*models.Booking, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bookings[i], results[i] = f.bookings.CreateBooking(ctx, sampleInput(trip, 2))
		}(i)
	}
	wg.Wait()

	succeeded, refused := 0, 0
	for i, err := range results {
		switch {
		case err == nil:
			succeeded++
			assert.Equal(t, models.BookingAwaitingPayment, bookings[i].Status)
		case errors.Is(err, models.ErrSeatsUnavailable):
			refused++
			assert.Nil(t, bookings[i])
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)
}

func TestResolvePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("success confirms and commits seats", func(t *testing.T) {
		f := setupBookingTest(t)
		booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 2))
		require.NoError(t, err)

		resolved, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess, AttemptID: "att-1"})
		require.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, resolved.Status)
		require.NotNil(t, resolved.PaymentID)
		assert.Equal(t, "att-1", *resolved.PaymentID)

		inv, _ := f.inventory.GetInventory(ctx, "busco:T1")
		assert.Equal(t, 2, inv.Committed)
		assert.Equal(t, 0, inv.Held)
		assert.Equal(t, []string{booking.ID}, f.notifier.confirmed)

		// duplicate delivery is a no-op
		again, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess, AttemptID: "att-1"})
		require.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, again.Status)
		inv, _ = f.inventory.GetInventory(ctx, "busco:T1")
		assert.Equal(t, 2, inv.Committed)
		assert.Len(t, f.notifier.confirmed, 1)
	})

	t.Run("failure releases seats", func(t *testing.T) {
		f := setupBookingTest(t)
		booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 2))
		require.NoError(t, err)

		resolved, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeFailure, Reason: "insufficient funds"})
		require.NoError(t, err)
		assert.Equal(t, models.BookingFailed, resolved.Status)
		assert.Equal(t, "insufficient funds", *resolved.StatusReason)

		inv, _ := f.inventory.GetInventory(ctx, "busco:T1")
		assert.Equal(t, 0, inv.Held)
	})

	t.Run("success after the hold elapsed expires and asks for a refund", func(t *testing.T) {
		f := setupBookingTest(t)
		booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 2))
		require.NoError(t, err)

		f.clock.Advance(16 * time.Minute)
		resolved, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess})
		require.NoError(t, err)
		assert.Equal(t, models.BookingExpired, resolved.Status)
		assert.Contains(t, f.events.types(), models.EventBookingRefundRequired)

		inv, _ := f.inventory.GetInventory(ctx, "busco:T1")
		assert.Equal(t, 0, inv.Committed)
		assert.Equal(t, 0, inv.Held)
	})

	t.Run("timeout expires the booking", func(t *testing.T) {
		f := setupBookingTest(t)
		booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 1))
		require.NoError(t, err)

		resolved, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeTimeout})
		require.NoError(t, err)
		assert.Equal(t, models.BookingExpired, resolved.Status)
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := setupBookingTest(t)
		_, err := f.bookings.ResolvePayment(ctx, "missing", models.PaymentOutcome{Kind: models.OutcomeSuccess})
		assert.ErrorIs(t, err, models.ErrBookingNotFound)
	})
}

func TestCancel(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()

	booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 3))
	require.NoError(t, err)

	cancelled, err := f.bookings.Cancel(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ResolvedAt)

	inv, _ := f.inventory.GetInventory(ctx, "busco:T1")
	assert.Equal(t, 0, inv.Held)

	// terminal bookings cannot be cancelled again
	_, err = f.bookings.Cancel(ctx, booking.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.True(t, models.IsStateConflictError(err))

	// a late payment success on a cancelled booking changes nothing but asks for a refund
	late, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess})
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, late.Status)
	assert.Contains(t, f.events.types(), models.EventBookingRefundRequired)
}

func TestExpireByReservation(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()

	booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 1))
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	expired, err := f.inventory.ExpireDue(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	updated, err := f.bookings.ExpireByReservation(ctx, expired[0].ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.BookingExpired, updated.Status)

	// second delivery finds a terminal booking
	again, err := f.bookings.ExpireByReservation(ctx, expired[0].ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	stored, err := f.bookings.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingExpired, stored.Status)
}

func TestResolvePayment_PublishesConfirmation(t *testing.T) {
	ctx := context.Background()
	clock := utils.NewManualClock(testEpoch)
	locker := utils.NewKeyedMutex()
	logger := newTestLogger()

	events := &mockPublisher{}
	events.On("Publish", mock.Anything, mock.Anything).Return(nil)

	inventory := NewSeatInventoryService(memory.NewInventoryStore(), locker, clock, DefaultSeatInventoryConfig(), logger)
	bookings := NewBookingService(memory.NewBookingStore(), inventory, locker, clock, events, nil,
		BookingConfig{MaxSeatsPerBooking: 10}, logger)

	booking, err := bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 1))
	require.NoError(t, err)
	_, err = bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess, AttemptID: "att-1"})
	require.NoError(t, err)

	events.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventBookingConfirmed && e.BookingID == booking.ID
	}))
	events.AssertNotCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e models.DomainEvent) bool {
		return e.Type == models.EventBookingRefundRequired
	}))
}

func TestResolvePayment_StoreErrorLeavesBookingOpen(t *testing.T) {
	store := newFlakyBookingStore(models.BookingConfirmed, 1)
	f := setupBookingTestWithStore(t, store)
	ctx := context.Background()

	booking, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 2))
	require.NoError(t, err)

	_, err = f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess, AttemptID: "att-1"})
	require.Error(t, err)

	stored, _ := f.bookings.GetBooking(ctx, booking.ID)
	assert.Equal(t, models.BookingAwaitingPayment, stored.Status)

	// the seats were committed before the write failed; resolving again is safe
	resolved, err := f.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{Kind: models.OutcomeSuccess, AttemptID: "att-1"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, resolved.Status)

	inv, _ := f.inventory.GetInventory(ctx, "busco:T1")
	assert.Equal(t, 2, inv.Committed)
}

func TestListOverdue(t *testing.T) {
	f := setupBookingTest(t)
	ctx := context.Background()

	old, err := f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 1))
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = f.bookings.CreateBooking(ctx, sampleInput(sampleTrip(49), 1))
	require.NoError(t, err)

	overdue, err := f.bookings.ListOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	f.clock.Advance(6 * time.Minute)
	overdue, err = f.bookings.ListOverdue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, old.ID, overdue[0].ID)
}
