package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/services"
)

// AdminHandler exposes operator views of inventory and payment history
type AdminHandler struct {
	inventory *services.SeatInventoryService
	payments  *services.PaymentOrchestrator
	sweeps    *services.ExpirationService
	logger    *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	inventory *services.SeatInventoryService,
	payments *services.PaymentOrchestrator,
	sweeps *services.ExpirationService,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		inventory: inventory,
		payments:  payments,
		sweeps:    sweeps,
		logger:    logger,
	}
}

// GetInventory handles GET /api/v1/admin/inventory/:tripId
func (h *AdminHandler) GetInventory(c *gin.Context) {
	inv, err := h.inventory.GetInventory(c.Request.Context(), c.Param("tripId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Reconcile handles POST /api/v1/admin/inventory/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	corrected, err := h.inventory.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"corrected":   corrected,
		"operator_id": middleware.MustGetUserContext(c).UserID,
	}).Info("Inventory reconciled on operator request")
	c.JSON(http.StatusOK, gin.H{"corrected": corrected})
}

// RunSweep handles POST /api/v1/admin/sweep
func (h *AdminHandler) RunSweep(c *gin.Context) {
	report, err := h.sweeps.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"operator_id":          middleware.MustGetUserContext(c).UserID,
		"reservations_expired": report.ReservationsExpired,
		"bookings_confirmed":   report.BookingsConfirmed,
	}).Info("Expiration sweep run on operator request")
	c.JSON(http.StatusOK, report)
}

// PaymentEvents handles GET /api/v1/admin/bookings/:id/payment-events
func (h *AdminHandler) PaymentEvents(c *gin.Context) {
	events, err := h.payments.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
