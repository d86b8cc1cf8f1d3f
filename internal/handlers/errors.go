package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// statusFor maps a domain error to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	switch {
	case models.IsValidationError(err), errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrBookingNotFound),
		errors.Is(err, models.ErrTripNotFound),
		errors.Is(err, models.ErrReservationNotFound),
		errors.Is(err, models.ErrPaymentAttemptNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInsufficientSeats), errors.Is(err, models.ErrSeatsUnavailable):
		return http.StatusConflict, "seats_unavailable"
	case errors.Is(err, models.ErrReservationExpired):
		return http.StatusGone, "reservation_expired"
	case errors.Is(err, models.ErrMethodNotPermitted):
		return http.StatusUnprocessableEntity, "method_not_permitted"
	case errors.Is(err, models.ErrRetryBudgetExhausted):
		return http.StatusConflict, "retry_budget_exhausted"
	case errors.Is(err, models.ErrAttemptInProgress):
		return http.StatusConflict, "payment_in_progress"
	case models.IsStateConflictError(err),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyResolved):
		return http.StatusConflict, "invalid_state"
	case models.IsDataIntegrityError(err), errors.Is(err, models.ErrTripHalted):
		return http.StatusServiceUnavailable, "trip_unavailable"
	case errors.Is(err, models.ErrProviderUnavailable), models.IsTransientProviderError(err):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, models.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes the error body and logs server-side failures
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		message = "An unexpected error occurred"
	}
	c.Error(err)
	c.JSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}
