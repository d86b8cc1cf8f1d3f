package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/database/memory"
	"github.com/smarttransit/booking-engine/internal/gateway"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blippingBookingStore fails the first confirmation write
type blippingBookingStore struct {
	*memory.BookingStore
	mu      sync.Mutex
	blipped bool
}

func (s *blippingBookingStore) Update(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	s.mu.Lock()
	if b.Status == models.BookingConfirmed && !s.blipped {
		s.blipped = true
		s.mu.Unlock()
		return errors.New("db blip")
	}
	s.mu.Unlock()
	return s.BookingStore.Update(ctx, b, expected)
}

func TestCallbackRouter_RedeliveryConfirmsBooking(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()
	epoch := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := utils.NewManualClock(epoch)
	locker := utils.NewKeyedMutex()

	inventory := services.NewSeatInventoryService(memory.NewInventoryStore(), locker, clock, services.DefaultSeatInventoryConfig(), logger)
	store := &blippingBookingStore{BookingStore: memory.NewBookingStore()}
	bookings := services.NewBookingService(store, inventory, locker, clock, nil, nil,
		services.BookingConfig{MaxSeatsPerBooking: 10}, logger)
	registry := gateway.NewRegistry(gateway.NewMobileMoneyAdapter(&config.MobileMoneyConfig{}, logger))
	payments := services.NewPaymentOrchestrator(memory.NewPaymentAttemptStore(), memory.NewPaymentEventStore(),
		bookings, inventory, registry, locker, clock, nil, services.DefaultPaymentOrchestratorConfig(), logger)

	booking, err := bookings.CreateBooking(ctx, models.CreateBookingInput{
		Trip: models.Trip{
			ID:             "busco:T1",
			ProviderID:     "busco",
			Mode:           models.ModeBus,
			Origin:         "Nairobi",
			Destination:    "Mombasa",
			DepartureTime:  epoch,
			ArrivalTime:    epoch.Add(8 * time.Hour),
			PriceMinor:     150000,
			Currency:       "KES",
			TotalSeats:     49,
			AvailableSeats: 49,
		},
		SeatCount:    1,
		Passengers:   []models.Passenger{{FullName: "Amina Njeri"}},
		ContactPhone: "+254712345678",
	})
	require.NoError(t, err)

	started, err := payments.Initiate(ctx, booking.ID, models.InitiatePaymentRequest{Method: models.MethodMpesa, PayerReference: "0712345678"})
	require.NoError(t, err)

	router := startRouter(t, payments)
	amount := int64(150000)
	msg := callback(*started.Attempt.ExternalReference)
	msg.AmountMinor = &amount
	require.NoError(t, router.Enqueue(ctx, msg))

	assert.Eventually(t, func() bool {
		stored, err := bookings.GetBooking(ctx, booking.ID)
		return err == nil && stored.Status == models.BookingConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	res, err := inventory.GetReservation(ctx, booking.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCommitted, res.Status)

	attempts, err := payments.ListAttempts(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptSucceeded, attempts[0].Status)
}
