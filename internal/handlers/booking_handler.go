package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/cache"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/internal/utils"
)

// BookingHandler handles booking, payment and ticket requests
type BookingHandler struct {
	bookings *services.BookingService
	payments *services.PaymentOrchestrator
	tickets  *services.TicketService
	trips    cache.TripCache
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(
	bookings *services.BookingService,
	payments *services.PaymentOrchestrator,
	tickets *services.TicketService,
	trips cache.TripCache,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		payments: payments,
		tickets:  tickets,
		trips:    trips,
		logger:   logger,
	}
}

// CreateBooking handles POST /api/v1/bookings
// The trip must have been returned by a recent search.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	trip, err := h.trips.GetTrip(ctx, req.TripID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if trip == nil {
		respondError(c, h.logger, fmt.Errorf("trip %s is not in recent search results: %w", req.TripID, models.ErrTripNotFound))
		return
	}

	booking, err := h.bookings.CreateBooking(ctx, models.CreateBookingInput{
		Trip:           *trip,
		Passengers:     req.Passengers,
		SeatCount:      req.SeatCount,
		ContactPhone:   req.ContactPhone,
		ContactEmail:   req.ContactEmail,
		UserID:         middleware.UserIDPtr(c),
		ClientPlatform: utils.ParseClientPlatform(c.Request.UserAgent()),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookings.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	booking, err := h.bookings.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// Pay handles POST /api/v1/bookings/:id/pay
// The response only says the payment started; the outcome arrives by webhook.
func (h *BookingHandler) Pay(c *gin.Context) {
	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}

	initiation, err := h.payments.Initiate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, initiation)
}

// ListPayments handles GET /api/v1/bookings/:id/payments
func (h *BookingHandler) ListPayments(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.bookings.GetBooking(ctx, c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	attempts, err := h.payments.ListAttempts(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// Ticket handles GET /api/v1/bookings/:id/ticket
func (h *BookingHandler) Ticket(c *gin.Context) {
	pdf, filename, err := h.tickets.Render(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
