package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/pkg/jwt"
)

// Handlers groups every HTTP handler the server mounts
type Handlers struct {
	Search  *SearchHandler
	Booking *BookingHandler
	Webhook *WebhookHandler
	Admin   *AdminHandler
	Health  *HealthHandler
}

// RegisterRoutes mounts the public API under /api/v1. Guests may book;
// a bearer token only attaches the caller to the booking.
func RegisterRoutes(router *gin.Engine, h Handlers, jwtService *jwt.Service) {
	router.GET("/health", h.Health.Health)

	v1 := router.Group("/api/v1")
	v1.POST("/search", h.Search.SearchTrips)

	bookings := v1.Group("/bookings")
	bookings.Use(middleware.OptionalAuth(jwtService))
	{
		bookings.POST("", h.Booking.CreateBooking)
		bookings.GET("/:id", h.Booking.GetBooking)
		bookings.POST("/:id/cancel", h.Booking.CancelBooking)
		bookings.POST("/:id/pay", h.Booking.Pay)
		bookings.GET("/:id/payments", h.Booking.ListPayments)
		bookings.GET("/:id/ticket", h.Booking.Ticket)
	}

	// provider callbacks authenticate by signature, never by bearer token
	v1.POST("/webhooks/payments/:method", h.Webhook.PaymentCallback)

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole("admin", "operator"))
	{
		admin.GET("/inventory/:tripId", h.Admin.GetInventory)
		admin.POST("/inventory/reconcile", h.Admin.Reconcile)
		admin.POST("/sweep", h.Admin.RunSweep)
		admin.GET("/bookings/:id/payment-events", h.Admin.PaymentEvents)
	}
}
