// Package messaging moves verified payment callbacks to the orchestrator and
// publishes domain events for downstream consumers.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillSQL "github.com/ThreeDotsLabs/watermill-sql/v2/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jmoiron/sqlx"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

const (
	// CallbackTopic carries verified provider callbacks
	CallbackTopic = "payment_callbacks"
	// PoisonTopic receives callbacks that kept failing after retries
	PoisonTopic = "payment_callbacks_poison"
)

// CallbackHandler applies a callback; implemented by services.PaymentOrchestrator
type CallbackHandler interface {
	HandleCallback(ctx context.Context, msg models.CallbackMessage) (*models.PaymentAttempt, error)
}

// CallbackRouter delivers callbacks at least once: webhooks enqueue, the
// router consumes and retries with backoff
type CallbackRouter struct {
	router     *message.Router
	publisher  message.Publisher
	subscriber message.Subscriber
	handler    CallbackHandler
	logger     *logrus.Logger
}

// RetryPolicy tunes redelivery of failing callbacks
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the production retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// NewSQLPubSub returns a Postgres-backed publisher and subscriber so queued
// callbacks survive a restart
func NewSQLPubSub(db *sqlx.DB, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	publisher, err := watermillSQL.NewPublisher(db, watermillSQL.PublisherConfig{
		SchemaAdapter:        watermillSQL.DefaultPostgreSQLSchema{},
		AutoInitializeSchema: true,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating sql publisher: %w", err)
	}

	subscriber, err := watermillSQL.NewSubscriber(db, watermillSQL.SubscriberConfig{
		ConsumerGroup:    "booking-engine",
		InitializeSchema: true,
		SchemaAdapter:    watermillSQL.DefaultPostgreSQLSchema{},
		OffsetsAdapter:   watermillSQL.DefaultPostgreSQLOffsetsAdapter{},
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating sql subscriber: %w", err)
	}
	return publisher, subscriber, nil
}

// NewGoChannelPubSub returns an in-process pub/sub for single instance and
// in-memory deployments
func NewGoChannelPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
}

// NewCallbackRouter wires the callback handler behind retry and poison queue middleware
func NewCallbackRouter(
	publisher message.Publisher,
	subscriber message.Subscriber,
	handler CallbackHandler,
	policy RetryPolicy,
	logger *logrus.Logger,
) (*CallbackRouter, error) {
	wmLogger := NewLogrusAdapter(logger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	poisonQueue, err := middleware.PoisonQueue(publisher, PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("creating poison queue: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(correlationIDMiddleware)
	router.AddMiddleware(poisonQueue)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      policy.MaxRetries,
		InitialInterval: policy.InitialInterval,
		MaxInterval:     policy.MaxInterval,
		Multiplier:      2,
		Logger:          wmLogger,
	}.Middleware)

	r := &CallbackRouter{
		router:     router,
		publisher:  publisher,
		subscriber: subscriber,
		handler:    handler,
		logger:     logger,
	}
	router.AddNoPublisherHandler("apply-payment-callback", CallbackTopic, subscriber, r.handle)

	return r, nil
}

// Enqueue publishes a verified callback for asynchronous handling
func (r *CallbackRouter) Enqueue(ctx context.Context, cb models.CallbackMessage) error {
	payload, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	middleware.SetCorrelationID("cb_"+shortuuid.New(), msg)
	msg.Metadata.Set("method", string(cb.Method))
	msg.Metadata.Set("external_reference", cb.ExternalReference)

	if err := r.publisher.Publish(CallbackTopic, msg); err != nil {
		return fmt.Errorf("publishing callback: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the router is closed
func (r *CallbackRouter) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once handlers are subscribed
func (r *CallbackRouter) Running() chan struct{} {
	return r.router.Running()
}

// Close stops the router and the underlying pub/sub
func (r *CallbackRouter) Close() error {
	return errors.Join(r.router.Close(), r.subscriber.Close(), r.publisher.Close())
}

func (r *CallbackRouter) handle(msg *message.Message) error {
	log := r.logger.WithFields(logrus.Fields{
		"message_uuid":       msg.UUID,
		"correlation_id":     middleware.MessageCorrelationID(msg),
		"external_reference": msg.Metadata.Get("external_reference"),
	})

	var cb models.CallbackMessage
	if err := json.Unmarshal(msg.Payload, &cb); err != nil {
		// redelivery cannot fix a malformed payload
		log.WithError(err).Error("Dropping malformed callback message")
		return nil
	}

	_, err := r.handler.HandleCallback(msg.Context(), cb)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrPaymentAttemptNotFound):
		log.Warn("Callback for unknown payment reference acknowledged")
		return nil
	case models.IsValidationError(err), models.IsStateConflictError(err):
		log.WithError(err).Warn("Callback rejected, not retrying")
		return nil
	default:
		log.WithError(err).Error("Callback handling failed")
		return err
	}
}

func correlationIDMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID("gen_"+shortuuid.New(), msg)
		}
		return next(msg)
	}
}
