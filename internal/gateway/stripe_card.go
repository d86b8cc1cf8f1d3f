package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeSignatureHeader is set by Stripe on every webhook delivery
const StripeSignatureHeader = "Stripe-Signature"

// StripeCardAdapter charges cards through Stripe PaymentIntents.
// The client confirms the intent with the returned client secret; the outcome
// arrives through the payment_intent webhooks.
type StripeCardAdapter struct {
	client        *client.API
	webhookSecret string
	sandbox       bool
	logger        *logrus.Logger
}

// NewStripeCardAdapter creates a card adapter. backends may be nil to use Stripe's API.
// Without a secret key the adapter runs as a sandbox that only issues references.
func NewStripeCardAdapter(cfg *config.StripeConfig, backends *stripe.Backends, logger *logrus.Logger) *StripeCardAdapter {
	a := &StripeCardAdapter{
		webhookSecret: cfg.WebhookSecret,
		sandbox:       cfg.SecretKey == "",
		logger:        logger,
	}
	if !a.sandbox {
		a.client = client.New(cfg.SecretKey, backends)
		logger.Info("Stripe client initialized successfully")
	}
	return a
}

func (a *StripeCardAdapter) Family() models.MethodFamily {
	return models.FamilyCard
}

// Start creates a PaymentIntent keyed on the attempt id
func (a *StripeCardAdapter) Start(ctx context.Context, req models.PaymentStartRequest) (*models.PaymentStartResult, error) {
	if a.sandbox {
		ref := "pi_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		return &models.PaymentStartResult{
			ExternalReference: ref,
			ClientSecret:      ref + "_secret_sandbox",
			Raw:               models.JSONB{"sandbox": true},
		}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("attempt_id", req.AttemptID)
	params.AddMetadata("reference", req.Reference)
	params.SetIdempotencyKey(req.AttemptID)

	pi, err := a.client.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	a.logger.WithFields(logrus.Fields{
		"attempt_id":         req.AttemptID,
		"external_reference": pi.ID,
		"status":             pi.Status,
	}).Info("Stripe payment intent created")

	return &models.PaymentStartResult{
		ExternalReference: pi.ID,
		ClientSecret:      pi.ClientSecret,
		Raw:               models.JSONB{"status": string(pi.Status)},
	}, nil
}

// ParseCallback verifies the Stripe signature and maps payment_intent events
func (a *StripeCardAdapter) ParseCallback(header http.Header, body []byte) (*models.CallbackMessage, error) {
	var event stripe.Event
	if a.webhookSecret != "" {
		verified, err := webhook.ConstructEventWithOptions(body, header.Get(StripeSignatureHeader), a.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return nil, invalidSignature("stripe", err)
		}
		event = verified
	} else {
		a.logger.Warn("Stripe webhook secret not configured, accepting unsigned event")
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, models.NewValidationError("body", "malformed stripe event")
		}
	}

	var outcome models.CallbackOutcome
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome = models.CallbackSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		outcome = models.CallbackFailed
	default:
		return nil, nil
	}

	if event.Data == nil {
		return nil, models.NewValidationError("data", "stripe event has no payload")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, models.NewValidationError("data", "malformed payment intent")
	}
	if pi.ID == "" {
		return nil, models.NewValidationError("data.id", "is required")
	}

	msg := &models.CallbackMessage{
		ExternalReference: pi.ID,
		Outcome:           outcome,
		Raw: models.JSONB{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"status":     string(pi.Status),
		},
	}
	if outcome == models.CallbackSucceeded {
		received := pi.AmountReceived
		msg.AmountMinor = &received
	}
	if pi.LastPaymentError != nil {
		msg.Reason = pi.LastPaymentError.Msg
	}
	if outcome == models.CallbackFailed && msg.Reason == "" {
		msg.Reason = "card payment " + strings.TrimPrefix(string(event.Type), "payment_intent.")
	}
	return msg, nil
}

// classifyStripeError marks Stripe outages and network failures transient
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &models.TransientProviderError{Provider: "stripe", Err: err}
		}
		return fmt.Errorf("stripe rejected payment intent: %w", err)
	}
	return &models.TransientProviderError{Provider: "stripe", Err: err}
}
