package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/sms"
	"github.com/smarttransit/booking-engine/pkg/validator"
)

// SMSNotifier texts the booking contact when a booking is confirmed
type SMSNotifier struct {
	sender sms.Sender
	phones *validator.PhoneValidator
	logger *logrus.Logger
}

// NewSMSNotifier creates a notifier backed by an SMS sender
func NewSMSNotifier(sender sms.Sender, logger *logrus.Logger) *SMSNotifier {
	return &SMSNotifier{
		sender: sender,
		phones: validator.NewPhoneValidator(),
		logger: logger,
	}
}

// BookingConfirmed sends the confirmation text
func (n *SMSNotifier) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	msisdn, err := n.phones.Validate(booking.ContactPhone, models.CountryForCurrency(booking.Currency))
	if err != nil {
		return fmt.Errorf("contact phone %q: %w", booking.ContactPhone, err)
	}

	id, err := n.sender.Send(ctx, msisdn, confirmationMessage(booking))
	if err != nil {
		return fmt.Errorf("%s: %w", n.sender.Name(), err)
	}

	n.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"gateway":    n.sender.Name(),
		"message_id": id,
	}).Info("Booking confirmation SMS sent")
	return nil
}

func confirmationMessage(b *models.Booking) string {
	return fmt.Sprintf("SmartTransit: booking %s confirmed. %s to %s, %s, %d seat(s), %s %s paid.",
		b.Reference,
		b.Trip.Origin,
		b.Trip.Destination,
		b.Trip.DepartureTime.Format("02 Jan 15:04"),
		b.SeatCount,
		b.Currency,
		models.FormatMinor(b.AmountMinor, b.Currency),
	)
}
