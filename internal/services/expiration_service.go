package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// overdueBatch caps how many stranded bookings one pass looks at
const overdueBatch = 200

// SweepReport counts what one expiration pass changed
type SweepReport struct {
	ReservationsExpired int `json:"reservations_expired"`
	BookingsExpired     int `json:"bookings_expired"`
	BookingsConfirmed   int `json:"bookings_confirmed"`
	PaymentsTimedOut    int `json:"payments_timed_out"`
}

// ExpirationService reclaims abandoned holds and stale payment attempts
type ExpirationService struct {
	inventory *SeatInventoryService
	bookings  *BookingService
	payments  *PaymentOrchestrator
	logger    *logrus.Logger
}

// NewExpirationService creates a new expiration service
func NewExpirationService(inventory *SeatInventoryService, bookings *BookingService, payments *PaymentOrchestrator, logger *logrus.Logger) *ExpirationService {
	return &ExpirationService{
		inventory: inventory,
		bookings:  bookings,
		payments:  payments,
		logger:    logger,
	}
}

// ExpireReservations releases elapsed holds and expires the bookings that owned
// them, then settles open bookings left behind by an earlier failed write
func (s *ExpirationService) ExpireReservations(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	expired, err := s.inventory.ExpireDue(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to expire reservations: %w", err)
	}
	report.ReservationsExpired = len(expired)

	for _, res := range expired {
		booking, err := s.bookings.ExpireByReservation(ctx, res.ID)
		if err != nil {
			// picked up by settleOverdue once the booking is a hold window old
			s.logger.WithError(err).WithField("reservation_id", res.ID).Error("Failed to expire booking")
			continue
		}
		if booking != nil {
			report.BookingsExpired++
		}
	}

	if err := s.settleOverdue(ctx, &report); err != nil {
		return report, err
	}
	return report, nil
}

// settleOverdue resolves open bookings whose reservation is no longer active
func (s *ExpirationService) settleOverdue(ctx context.Context, report *SweepReport) error {
	overdue, err := s.bookings.ListOverdue(ctx, overdueBatch)
	if err != nil {
		return err
	}

	for _, booking := range overdue {
		log := s.logger.WithFields(logrus.Fields{
			"booking_id":     booking.ID,
			"reservation_id": booking.ReservationID,
		})
		if booking.ReservationID == "" {
			continue
		}
		res, err := s.inventory.GetReservation(ctx, booking.ReservationID)
		if err != nil {
			log.WithError(err).Error("Failed to load reservation of overdue booking")
			continue
		}
		if res.Status == models.ReservationActive {
			// the reservation sweep releases it first
			continue
		}

		settled, err := s.payments.ResumeSettlement(ctx, booking.ID)
		if err != nil {
			log.WithError(err).Error("Failed to resume payment settlement")
			continue
		}
		if settled != nil && settled.Status.IsTerminal() {
			s.count(report, settled)
			continue
		}

		if res.Status == models.ReservationCommitted {
			log.Warn("Seats sold for a booking with no successful payment")
			continue
		}
		expired, err := s.bookings.ExpireByReservation(ctx, res.ID)
		if err != nil {
			log.WithError(err).Error("Failed to expire overdue booking")
			continue
		}
		if expired != nil {
			report.BookingsExpired++
		}
	}
	return nil
}

func (s *ExpirationService) count(report *SweepReport, booking *models.Booking) {
	switch booking.Status {
	case models.BookingConfirmed:
		report.BookingsConfirmed++
	case models.BookingExpired:
		report.BookingsExpired++
	}
	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"status":     booking.Status,
	}).Warn("Settled a stranded booking")
}

// TimeOutPayments runs the payment timeout sweep
func (s *ExpirationService) TimeOutPayments(ctx context.Context) (int, error) {
	return s.payments.TimeoutSweep(ctx)
}

// RunOnce runs both sweeps, reservations first
func (s *ExpirationService) RunOnce(ctx context.Context) (SweepReport, error) {
	report, err := s.ExpireReservations(ctx)
	if err != nil {
		return report, err
	}

	report.PaymentsTimedOut, err = s.TimeOutPayments(ctx)
	if err != nil {
		return report, err
	}

	if report != (SweepReport{}) {
		s.logger.WithFields(logrus.Fields{
			"reservations_expired": report.ReservationsExpired,
			"bookings_expired":     report.BookingsExpired,
			"bookings_confirmed":   report.BookingsConfirmed,
			"payments_timed_out":   report.PaymentsTimedOut,
		}).Info("Expiration sweep finished")
	}
	return report, nil
}
