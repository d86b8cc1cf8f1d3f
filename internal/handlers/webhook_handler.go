package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/gateway"
	"github.com/smarttransit/booking-engine/internal/models"
)

const maxWebhookBody = 1 << 20

// CallbackQueue accepts verified callbacks for asynchronous handling
type CallbackQueue interface {
	Enqueue(ctx context.Context, msg models.CallbackMessage) error
}

// WebhookHandler receives payment provider notifications
type WebhookHandler struct {
	gateways *gateway.Registry
	queue    CallbackQueue
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(gateways *gateway.Registry, queue CallbackQueue, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateways: gateways,
		queue:    queue,
		logger:   logger,
	}
}

// PaymentCallback handles POST /api/v1/webhooks/payments/:method.
// Once the payload is verified and queued the provider gets 200, whatever
// the outcome of applying it; redelivery is the queue's job.
func (h *WebhookHandler) PaymentCallback(c *gin.Context) {
	method := models.PaymentMethod(c.Param("method"))
	log := h.logger.WithField("method", method)

	adapter, err := h.gateways.ForMethod(method)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "Could not read request body")
		return
	}

	msg, err := adapter.ParseCallback(c.Request.Header, body)
	if err != nil {
		if errors.Is(err, models.ErrInvalidSignature) {
			log.WithError(err).Warn("Rejected payment webhook with invalid signature")
			respondError(c, h.logger, err)
			return
		}
		log.WithError(err).Warn("Rejected unparsable payment webhook")
		badRequest(c, "Invalid callback payload")
		return
	}
	if msg == nil {
		log.Debug("Acknowledged payment webhook without an outcome")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if msg.Method == "" {
		msg.Method = method
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	if err := h.queue.Enqueue(c.Request.Context(), *msg); err != nil {
		log.WithError(err).Error("Failed to queue payment callback")
		// not acknowledged, so the provider redelivers
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "queue_unavailable",
			"message": "Callback could not be accepted, retry later",
		})
		return
	}

	log.WithFields(logrus.Fields{
		"external_reference": msg.ExternalReference,
		"outcome":            msg.Outcome,
	}).Info("Payment callback queued")
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
