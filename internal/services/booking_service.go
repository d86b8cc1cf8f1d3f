package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
)

// EventPublisher delivers domain events to downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Notifier tells the traveller about a confirmed booking
type Notifier interface {
	BookingConfirmed(ctx context.Context, booking *models.Booking) error
}

// BookingConfig holds booking limits
type BookingConfig struct {
	MaxSeatsPerBooking int
}

// BookingService owns the booking state machine.
// Resolutions of one booking are serialised on the booking's lock; the first
// to get it wins and later ones find a terminal booking and do nothing.
type BookingService struct {
	store     database.BookingStore
	inventory *SeatInventoryService
	locker    utils.Locker
	clock     utils.Clock
	events    EventPublisher
	notifier  Notifier
	config    BookingConfig
	logger    *logrus.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(
	store database.BookingStore,
	inventory *SeatInventoryService,
	locker utils.Locker,
	clock utils.Clock,
	events EventPublisher,
	notifier Notifier,
	config BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		inventory: inventory,
		locker:    locker,
		clock:     clock,
		events:    events,
		notifier:  notifier,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking reserves seats and records a booking awaiting payment.
// Not enough seats fails with ErrSeatsUnavailable and nothing is stored.
func (s *BookingService) CreateBooking(ctx context.Context, input models.CreateBookingInput) (*models.Booking, error) {
	if err := input.Validate(s.config.MaxSeatsPerBooking); err != nil {
		return nil, err
	}

	trip := input.Trip
	reservation, err := s.inventory.Reserve(ctx, trip.ID, input.SeatCount, trip.TotalSeats)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientSeats) {
			s.logger.WithFields(logrus.Fields{
				"trip_id": trip.ID,
				"seats":   input.SeatCount,
			}).Info("Booking refused, seats unavailable")
			return nil, fmt.Errorf("%w: %w", models.ErrSeatsUnavailable, err)
		}
		return nil, err
	}

	now := s.clock.Now()
	booking := &models.Booking{
		ID:             uuid.NewString(),
		Reference:      newBookingReference(),
		UserID:         input.UserID,
		ClientPlatform: input.ClientPlatform,
		Trip:           trip,
		Passengers:     models.Passengers(input.Passengers),
		ContactPhone:   strings.TrimSpace(input.ContactPhone),
		SeatCount:      input.SeatCount,
		AmountMinor:    trip.PriceMinor * int64(input.SeatCount),
		Currency:       trip.Currency,
		ReservationID:  reservation.ID,
		Status:         models.BookingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if email := strings.TrimSpace(input.ContactEmail); email != "" {
		booking.ContactEmail = &email
	}

	if err := s.store.Create(ctx, booking); err != nil {
		s.releaseQuietly(ctx, reservation.ID)
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	// seats are already held, so the booking moves straight on
	if err := s.transition(ctx, booking, models.BookingAwaitingPayment, ""); err != nil {
		s.releaseQuietly(ctx, reservation.ID)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"reference":      booking.Reference,
		"trip_id":        trip.ID,
		"reservation_id": reservation.ID,
		"seats":          booking.SeatCount,
		"amount":         booking.AmountMinor,
		"currency":       booking.Currency,
	}).Info("Booking created")

	s.publish(ctx, models.NewBookingEvent(models.EventBookingCreated, booking, now))
	return booking, nil
}

// ============================================================================
// RESOLUTION
// ============================================================================

// ResolvePayment applies a payment outcome. A booking that is already terminal
// is returned unchanged; a duplicate delivery is not an error.
func (s *BookingService) ResolvePayment(ctx context.Context, bookingID string, outcome models.PaymentOutcome) (*models.Booking, error) {
	unlock, err := s.locker.Lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking %s: %w", bookingID, err)
	}
	defer unlock()

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"attempt_id": outcome.AttemptID,
		"outcome":    outcome.Kind,
	})

	if booking.Status.IsTerminal() {
		log.WithField("status", booking.Status).Info("Booking already resolved, ignoring payment outcome")
		if outcome.Kind == models.OutcomeSuccess && booking.Status != models.BookingConfirmed {
			// money was taken for a booking that can no longer be honoured
			s.publish(ctx, models.NewBookingEvent(models.EventBookingRefundRequired, booking, s.clock.Now()))
		}
		return booking, nil
	}

	if outcome.AttemptID != "" {
		attemptID := outcome.AttemptID
		booking.PaymentID = &attemptID
	}

	switch outcome.Kind {
	case models.OutcomeSuccess:
		err := s.inventory.Commit(ctx, booking.ReservationID)
		switch {
		case err == nil:
			if err := s.transition(ctx, booking, models.BookingConfirmed, ""); err != nil {
				return nil, err
			}
			log.Info("Booking confirmed")
			s.publish(ctx, models.NewBookingEvent(models.EventBookingConfirmed, booking, s.clock.Now()))
			s.notify(ctx, booking)

		case errors.Is(err, models.ErrReservationExpired), errors.Is(err, models.ErrAlreadyResolved):
			if err := s.transition(ctx, booking, models.BookingExpired, "payment succeeded after the seat hold expired"); err != nil {
				return nil, err
			}
			log.Warn("Payment succeeded after reservation expired, refund required")
			now := s.clock.Now()
			s.publish(ctx, models.NewBookingEvent(models.EventBookingExpired, booking, now))
			s.publish(ctx, models.NewBookingEvent(models.EventBookingRefundRequired, booking, now))

		default:
			return nil, fmt.Errorf("failed to commit reservation: %w", err)
		}

	case models.OutcomeFailure:
		if err := s.inventory.Release(ctx, booking.ReservationID); err != nil {
			return nil, fmt.Errorf("failed to release reservation: %w", err)
		}
		if err := s.transition(ctx, booking, models.BookingFailed, reasonOr(outcome.Reason, "payment failed")); err != nil {
			return nil, err
		}
		log.Info("Booking failed")
		s.publish(ctx, models.NewBookingEvent(models.EventBookingFailed, booking, s.clock.Now()))

	case models.OutcomeTimeout:
		// usually a no-op: the sweep has normally reclaimed the seats already
		if err := s.inventory.Release(ctx, booking.ReservationID); err != nil {
			return nil, fmt.Errorf("failed to release reservation: %w", err)
		}
		if err := s.transition(ctx, booking, models.BookingExpired, reasonOr(outcome.Reason, "payment timed out")); err != nil {
			return nil, err
		}
		log.Info("Booking expired on payment timeout")
		s.publish(ctx, models.NewBookingEvent(models.EventBookingExpired, booking, s.clock.Now()))

	default:
		return nil, models.NewValidationError("outcome", "unknown payment outcome "+string(outcome.Kind))
	}

	return booking, nil
}

// Cancel releases the seats of a booking that has not resolved yet
func (s *BookingService) Cancel(ctx context.Context, bookingID string) (*models.Booking, error) {
	unlock, err := s.locker.Lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking %s: %w", bookingID, err)
	}
	defer unlock()

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !booking.Status.CanTransitionTo(models.BookingCancelled) {
		return nil, &models.StateConflictError{
			Entity:    "booking",
			ID:        bookingID,
			State:     string(booking.Status),
			Operation: "cancel",
			Kind:      models.ErrInvalidTransition,
		}
	}

	if err := s.inventory.Release(ctx, booking.ReservationID); err != nil {
		return nil, fmt.Errorf("failed to release reservation: %w", err)
	}
	if err := s.transition(ctx, booking, models.BookingCancelled, "cancelled by user"); err != nil {
		return nil, err
	}

	s.logger.WithField("booking_id", bookingID).Info("Booking cancelled")
	s.publish(ctx, models.NewBookingEvent(models.EventBookingCancelled, booking, s.clock.Now()))
	return booking, nil
}

// ExpireByReservation moves the booking holding an expired reservation to expired.
// Returns nil when no booking owns the reservation or it already resolved.
func (s *BookingService) ExpireByReservation(ctx context.Context, reservationID string) (*models.Booking, error) {
	found, err := s.store.GetByReservationID(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find booking for reservation: %w", err)
	}
	if found == nil {
		return nil, nil
	}

	unlock, err := s.locker.Lock(ctx, bookingLockKey(found.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking %s: %w", found.ID, err)
	}
	defer unlock()

	booking, err := s.GetBooking(ctx, found.ID)
	if err != nil {
		return nil, err
	}
	if booking.Status.IsTerminal() {
		return nil, nil
	}

	if err := s.transition(ctx, booking, models.BookingExpired, "seat hold expired before payment"); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"reservation_id": reservationID,
	}).Info("Booking expired")
	s.publish(ctx, models.NewBookingEvent(models.EventBookingExpired, booking, s.clock.Now()))
	return booking, nil
}

// AttachPayment records the latest payment attempt on a live booking
func (s *BookingService) AttachPayment(ctx context.Context, bookingID, attemptID string) error {
	unlock, err := s.locker.Lock(ctx, bookingLockKey(bookingID))
	if err != nil {
		return fmt.Errorf("failed to lock booking %s: %w", bookingID, err)
	}
	defer unlock()

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status.IsTerminal() {
		return nil
	}

	booking.PaymentID = &attemptID
	booking.UpdatedAt = s.clock.Now()
	return s.store.Update(ctx, booking, booking.Status)
}

// GetBooking returns a booking or ErrBookingNotFound
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID, models.ErrBookingNotFound)
	}
	return booking, nil
}

// ListOverdue returns open bookings older than one hold window. Their seat hold
// has ended, so each should already have resolved.
func (s *BookingService) ListOverdue(ctx context.Context, limit int) ([]*models.Booking, error) {
	cutoff := s.clock.Now().Add(-s.inventory.HoldWindow())
	bookings, err := s.store.ListOpenBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// INTERNALS
// ============================================================================

// transition moves booking to next if the graph allows it and persists conditionally
func (s *BookingService) transition(ctx context.Context, booking *models.Booking, next models.BookingStatus, reason string) error {
	current := booking.Status
	if !current.CanTransitionTo(next) {
		return &models.StateConflictError{
			Entity:    "booking",
			ID:        booking.ID,
			State:     string(current),
			Operation: "move to " + string(next),
			Kind:      models.ErrInvalidTransition,
		}
	}

	now := s.clock.Now()
	booking.Status = next
	booking.UpdatedAt = now
	if reason != "" {
		booking.StatusReason = &reason
	}
	if next.IsTerminal() {
		booking.ResolvedAt = &now
	}

	if err := s.store.Update(ctx, booking, current); err != nil {
		booking.Status = current
		return fmt.Errorf("failed to update booking: %w", err)
	}
	return nil
}

func (s *BookingService) releaseQuietly(ctx context.Context, reservationID string) {
	if err := s.inventory.Release(ctx, reservationID); err != nil {
		s.logger.WithError(err).WithField("reservation_id", reservationID).Error("Failed to release reservation after booking error")
	}
}

func (s *BookingService) publish(ctx context.Context, event models.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event":      event.Type,
			"booking_id": event.BookingID,
		}).Warn("Failed to publish domain event")
	}
}

func (s *BookingService) notify(ctx context.Context, booking *models.Booking) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BookingConfirmed(ctx, booking); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to send booking confirmation")
	}
}

// newBookingReference returns a short code travellers can read out, e.g. ST-7KQ2M9XA
func newBookingReference() string {
	return "ST-" + strings.ToUpper(shortuuid.New()[:8])
}

func bookingLockKey(bookingID string) string {
	return "booking:" + bookingID
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
