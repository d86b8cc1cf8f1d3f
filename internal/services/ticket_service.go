package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/phpdave11/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// TicketService renders e-tickets for confirmed bookings
type TicketService struct {
	bookings *BookingService
	logger   *logrus.Logger
}

// NewTicketService creates a new ticket service
func NewTicketService(bookings *BookingService, logger *logrus.Logger) *TicketService {
	return &TicketService{bookings: bookings, logger: logger}
}

// Render returns the PDF e-ticket and a download file name
func (s *TicketService) Render(ctx context.Context, bookingID string) ([]byte, string, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, "", err
	}
	if booking.Status != models.BookingConfirmed {
		return nil, "", &models.StateConflictError{
			Entity:    "booking",
			ID:        bookingID,
			State:     string(booking.Status),
			Operation: "issue a ticket for",
			Kind:      models.ErrInvalidTransition,
		}
	}

	data, err := renderTicket(booking)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to render e-ticket")
		return nil, "", err
	}
	return data, strings.ToLower(booking.Reference) + ".pdf", nil
}

func renderTicket(b *models.Booking) ([]byte, error) {
	trip := b.Trip

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket "+b.Reference, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "SMARTTRANSIT E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Booking reference: "+b.Reference)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Route        : %s -> %s", trip.Origin, trip.Destination),
		fmt.Sprintf("Provider     : %s", trip.ProviderID),
		fmt.Sprintf("Mode         : %s", trip.Mode),
		fmt.Sprintf("Departure    : %s", trip.DepartureTime.Format("Mon 02 Jan 2006 15:04 MST")),
		fmt.Sprintf("Arrival      : %s", trip.ArrivalTime.Format("Mon 02 Jan 2006 15:04 MST")),
		fmt.Sprintf("Seats        : %d", b.SeatCount),
		fmt.Sprintf("Amount paid  : %s %s", b.Currency, models.FormatMinor(b.AmountMinor, b.Currency)),
		fmt.Sprintf("Contact      : %s", b.ContactPhone),
	}
	for _, line := range lines {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Passengers:")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 12)
	for i, p := range b.Passengers {
		line := fmt.Sprintf("%d) %s", i+1, safe(p.FullName, "-"))
		if p.DocumentNumber != "" {
			line += " (" + p.DocumentNumber + ")"
		}
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Show this ticket and a valid ID when boarding. Tickets are not transferable.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render ticket: %w", err)
	}
	return buf.Bytes(), nil
}

func safe(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
