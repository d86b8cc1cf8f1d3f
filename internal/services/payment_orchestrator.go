package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/gateway"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
)

// PaymentOrchestratorConfig holds retry budgets and per-family deadlines
type PaymentOrchestratorConfig struct {
	MaxRetries         int // attempts allowed after the first
	StartAttempts      int // adapter Start calls before giving up
	StartRetryInitial  time.Duration
	MobileMoneyTimeout time.Duration
	RedirectTimeout    time.Duration
	CardTimeout        time.Duration
	SweepBatch         int
}

// DefaultPaymentOrchestratorConfig returns default configuration
func DefaultPaymentOrchestratorConfig() PaymentOrchestratorConfig {
	return PaymentOrchestratorConfig{
		MaxRetries:         2,
		StartAttempts:      3,
		StartRetryInitial:  200 * time.Millisecond,
		MobileMoneyTimeout: 90 * time.Second,
		RedirectTimeout:    5 * time.Minute,
		CardTimeout:        5 * time.Minute,
		SweepBatch:         200,
	}
}

// PaymentOrchestrator drives payment attempts for bookings awaiting payment.
// Work on one booking's payments is serialised on "payment:<booking id>".
type PaymentOrchestrator struct {
	attempts  database.PaymentAttemptStore
	log       database.PaymentEventStore
	bookings  *BookingService
	inventory *SeatInventoryService
	gateways  *gateway.Registry
	locker    utils.Locker
	clock     utils.Clock
	events    EventPublisher
	config    PaymentOrchestratorConfig
	logger    *logrus.Logger
}

// NewPaymentOrchestrator creates a new payment orchestrator
func NewPaymentOrchestrator(
	attempts database.PaymentAttemptStore,
	log database.PaymentEventStore,
	bookings *BookingService,
	inventory *SeatInventoryService,
	gateways *gateway.Registry,
	locker utils.Locker,
	clock utils.Clock,
	events EventPublisher,
	config PaymentOrchestratorConfig,
	logger *logrus.Logger,
) *PaymentOrchestrator {
	if config.StartAttempts < 1 {
		config.StartAttempts = 1
	}
	if config.StartRetryInitial <= 0 {
		config.StartRetryInitial = 200 * time.Millisecond
	}
	if config.SweepBatch <= 0 {
		config.SweepBatch = 200
	}
	return &PaymentOrchestrator{
		attempts:  attempts,
		log:       log,
		bookings:  bookings,
		inventory: inventory,
		gateways:  gateways,
		locker:    locker,
		clock:     clock,
		events:    events,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// INITIATE
// ============================================================================

// Initiate starts a payment attempt for a booking awaiting payment.
// The outcome always arrives later through HandleCallback or TimeoutSweep.
func (o *PaymentOrchestrator) Initiate(ctx context.Context, bookingID string, req models.InitiatePaymentRequest) (*models.PaymentInitiation, error) {
	if !req.Method.IsValid() {
		return nil, models.NewValidationError("method", "unknown payment method "+string(req.Method))
	}

	unlock, err := o.locker.Lock(ctx, paymentLockKey(bookingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock payments for booking %s: %w", bookingID, err)
	}
	defer unlock()

	booking, err := o.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingAwaitingPayment {
		return nil, &models.StateConflictError{
			Entity:    "booking",
			ID:        bookingID,
			State:     string(booking.Status),
			Operation: "pay for",
			Kind:      models.ErrInvalidTransition,
		}
	}

	country := models.CountryForCurrency(booking.Currency)
	if !req.Method.PermittedIn(country) {
		return nil, fmt.Errorf("%s is not available for %s bookings: %w", req.Method, booking.Currency, models.ErrMethodNotPermitted)
	}
	adapter, err := o.gateways.ForMethod(req.Method)
	if err != nil {
		return nil, err
	}

	if err := o.requireLiveReservation(ctx, booking); err != nil {
		return nil, err
	}

	previous, err := o.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	for _, a := range previous {
		if !a.Status.IsTerminal() {
			return nil, &models.StateConflictError{
				Entity:    "booking",
				ID:        bookingID,
				State:     string(a.Status),
				Operation: "open a second payment attempt for",
				Kind:      models.ErrAttemptInProgress,
			}
		}
	}
	if len(previous) >= o.maxAttempts() {
		return nil, fmt.Errorf("booking %s used %d of %d attempts: %w",
			bookingID, len(previous), o.maxAttempts(), models.ErrRetryBudgetExhausted)
	}

	now := o.clock.Now()
	attempt := &models.PaymentAttempt{
		ID:             uuid.NewString(),
		BookingID:      bookingID,
		Sequence:       len(previous) + 1,
		Method:         req.Method,
		Family:         req.Method.Family(),
		Status:         models.AttemptInitiated,
		AmountMinor:    booking.AmountMinor,
		Currency:       booking.Currency,
		PayerReference: req.PayerReference,
		CreatedAt:      now,
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create payment attempt: %w", err)
	}

	log := o.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"attempt_id": attempt.ID,
		"method":     attempt.Method,
		"sequence":   attempt.Sequence,
	})
	log.Info("Payment attempt initiated")
	o.record(ctx, models.NewPaymentEvent(models.PaymentEventInitiated, models.PaymentSourceOrchestrator, now).ForAttempt(attempt))

	var result *models.PaymentStartResult
	startErr := retryTransient(ctx, o.config.StartAttempts, o.config.StartRetryInitial, func(ctx context.Context) error {
		r, err := adapter.Start(ctx, models.PaymentStartRequest{
			AttemptID:      attempt.ID,
			BookingID:      bookingID,
			Reference:      booking.Reference,
			Method:         req.Method,
			AmountMinor:    attempt.AmountMinor,
			Currency:       attempt.Currency,
			PayerReference: req.PayerReference,
			Description:    fmt.Sprintf("%s %s to %s", booking.Reference, booking.Trip.Origin, booking.Trip.Destination),
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if startErr != nil {
		o.failStart(ctx, attempt, startErr)
		log.WithError(startErr).Warn("Payment provider could not start the attempt")
		if models.IsValidationError(startErr) {
			return nil, startErr
		}
		return nil, fmt.Errorf("failed to start %s payment: %w: %v", req.Method, models.ErrProviderUnavailable, startErr)
	}

	pendingAt := o.clock.Now()
	ref := result.ExternalReference
	attempt.Status = models.AttemptPendingConfirmation
	attempt.ExternalReference = &ref
	attempt.PendingAt = &pendingAt
	if result.RedirectURL != "" {
		redirect := result.RedirectURL
		attempt.RedirectURL = &redirect
	}
	if err := o.attempts.Update(ctx, attempt, models.AttemptInitiated); err != nil {
		return nil, fmt.Errorf("failed to update payment attempt: %w", err)
	}

	if err := o.bookings.AttachPayment(ctx, bookingID, attempt.ID); err != nil {
		log.WithError(err).Warn("Failed to attach payment attempt to booking")
	}

	o.record(ctx, models.NewPaymentEvent(models.PaymentEventPending, models.PaymentSourceOrchestrator, pendingAt).
		ForAttempt(attempt).SetPayload(result.Raw))
	o.publish(ctx, models.NewPaymentEventMessage(models.EventPaymentInitiated, attempt, pendingAt))

	log.WithField("external_reference", ref).Info("Payment attempt awaiting confirmation")

	return &models.PaymentInitiation{
		Attempt:      attempt,
		RedirectURL:  result.RedirectURL,
		ClientSecret: result.ClientSecret,
		Instructions: result.Instructions,
	}, nil
}

// failStart closes an attempt whose provider flow never started
func (o *PaymentOrchestrator) failStart(ctx context.Context, attempt *models.PaymentAttempt, cause error) {
	now := o.clock.Now()
	reason := cause.Error()
	attempt.Status = models.AttemptFailed
	attempt.FailureReason = &reason
	attempt.ResolvedAt = &now
	if err := o.attempts.Update(ctx, attempt, models.AttemptInitiated); err != nil {
		o.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to mark payment attempt failed")
	}
	o.record(ctx, models.NewPaymentEvent(models.PaymentEventStartFailed, models.PaymentSourceOrchestrator, now).
		ForAttempt(attempt).SetError(reason))
	o.publish(ctx, models.NewPaymentEventMessage(models.EventPaymentFailed, attempt, now))
}

// ============================================================================
// CALLBACKS
// ============================================================================

// HandleCallback applies a verified provider callback. Delivery is at least
// once: a replay for a resolved attempt is logged, and only finishes the booking
// resolution if an earlier delivery failed before the booking was updated.
func (o *PaymentOrchestrator) HandleCallback(ctx context.Context, msg models.CallbackMessage) (*models.PaymentAttempt, error) {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = o.clock.Now()
	}

	found, err := o.attempts.GetByExternalReference(ctx, msg.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("failed to find payment attempt: %w", err)
	}
	if found == nil {
		o.record(ctx, models.NewPaymentEvent(models.PaymentEventCallbackReceived, models.PaymentSourceCallback, receivedAt).
			SetExternalReference(msg.ExternalReference).SetPayload(msg.Raw).SetError("unknown external reference"))
		return nil, fmt.Errorf("external reference %s: %w", msg.ExternalReference, models.ErrPaymentAttemptNotFound)
	}

	unlock, err := o.locker.Lock(ctx, paymentLockKey(found.BookingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock payments for booking %s: %w", found.BookingID, err)
	}
	defer unlock()

	attempt, err := o.attempts.GetByID(ctx, found.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	if attempt == nil {
		return nil, fmt.Errorf("payment attempt %s: %w", found.ID, models.ErrPaymentAttemptNotFound)
	}

	log := o.logger.WithFields(logrus.Fields{
		"booking_id":         attempt.BookingID,
		"attempt_id":         attempt.ID,
		"external_reference": msg.ExternalReference,
		"outcome":            msg.Outcome,
		"status":             attempt.Status,
	})

	received := models.NewPaymentEvent(models.PaymentEventCallbackReceived, models.PaymentSourceCallback, receivedAt).
		ForAttempt(attempt).SetPayload(msg.Raw)
	if msg.AmountMinor != nil {
		received.SetAmounts(attempt.AmountMinor, *msg.AmountMinor)
	}

	if attempt.Status.IsTerminal() {
		o.record(ctx, received.MarkAsDuplicate())
		if msg.Outcome == models.CallbackSucceeded && attempt.Status != models.AttemptSucceeded &&
			(msg.AmountMinor == nil || *msg.AmountMinor == attempt.AmountMinor) {
			// money arrived after this attempt was written off
			log.Warn("Late payment success on a closed attempt")
			return attempt, o.applyLateSuccess(ctx, attempt)
		}
		return attempt, o.resumeSettlement(ctx, attempt, log)
	}
	o.record(ctx, received)

	switch msg.Outcome {
	case models.CallbackSucceeded:
		if msg.AmountMinor != nil && *msg.AmountMinor != attempt.AmountMinor {
			log.WithFields(logrus.Fields{
				"expected": attempt.AmountMinor,
				"received": *msg.AmountMinor,
			}).Error("Payment amount mismatch")
			mismatch := models.NewPaymentEvent(models.PaymentEventAmountMismatch, models.PaymentSourceCallback, receivedAt).ForAttempt(attempt)
			mismatch.SetAmounts(attempt.AmountMinor, *msg.AmountMinor)
			o.record(ctx, mismatch)
			o.record(ctx, models.NewPaymentEvent(models.PaymentEventRefundRequired, models.PaymentSourceCallback, receivedAt).ForAttempt(attempt))
			return attempt, o.applyFailure(ctx, attempt, "paid amount does not match booking amount", models.PaymentSourceCallback)
		}
		return attempt, o.applySuccess(ctx, attempt)

	case models.CallbackFailed:
		return attempt, o.applyFailure(ctx, attempt, reasonOr(msg.Reason, "payment declined"), models.PaymentSourceCallback)

	default:
		log.Debug("Informational payment callback")
		return attempt, nil
	}
}

func (o *PaymentOrchestrator) applySuccess(ctx context.Context, attempt *models.PaymentAttempt) error {
	expected := attempt.Status
	now := o.clock.Now()
	attempt.Status = models.AttemptSucceeded
	attempt.ResolvedAt = &now
	if err := o.attempts.Update(ctx, attempt, expected); err != nil {
		return fmt.Errorf("failed to update payment attempt: %w", err)
	}

	o.record(ctx, models.NewPaymentEvent(models.PaymentEventSucceeded, models.PaymentSourceCallback, now).ForAttempt(attempt))
	o.publish(ctx, models.NewPaymentEventMessage(models.EventPaymentSucceeded, attempt, now))

	booking, err := o.bookings.ResolvePayment(ctx, attempt.BookingID, models.PaymentOutcome{
		Kind:      models.OutcomeSuccess,
		AttemptID: attempt.ID,
	})
	if err != nil {
		return err
	}
	o.checkDoublePayment(ctx, booking, attempt)

	o.logger.WithFields(logrus.Fields{
		"booking_id": attempt.BookingID,
		"attempt_id": attempt.ID,
		"booking":    booking.Status,
	}).Info("Payment succeeded")
	return nil
}

// applyLateSuccess hands a success for a closed attempt to the booking,
// which confirms it if the seats are still held or asks for a refund
func (o *PaymentOrchestrator) applyLateSuccess(ctx context.Context, attempt *models.PaymentAttempt) error {
	booking, err := o.bookings.ResolvePayment(ctx, attempt.BookingID, models.PaymentOutcome{
		Kind:      models.OutcomeSuccess,
		AttemptID: attempt.ID,
	})
	if err != nil {
		return err
	}
	o.checkDoublePayment(ctx, booking, attempt)
	return nil
}

// checkDoublePayment logs a refund when another attempt already paid for the booking
func (o *PaymentOrchestrator) checkDoublePayment(ctx context.Context, booking *models.Booking, attempt *models.PaymentAttempt) {
	paidBy := ""
	if booking.PaymentID != nil {
		paidBy = *booking.PaymentID
	}
	if booking.Status == models.BookingConfirmed && paidBy == attempt.ID {
		return
	}
	o.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"attempt_id": attempt.ID,
		"booking":    booking.Status,
	}).Warn("Payment captured for a booking it cannot settle, refund required")
	o.record(ctx, models.NewPaymentEvent(models.PaymentEventRefundRequired, models.PaymentSourceOrchestrator, o.clock.Now()).ForAttempt(attempt))
}

// applyFailure closes the attempt and fails the booking unless a retry is still possible
func (o *PaymentOrchestrator) applyFailure(ctx context.Context, attempt *models.PaymentAttempt, reason string, source models.PaymentEventSource) error {
	expected := attempt.Status
	now := o.clock.Now()
	attempt.Status = models.AttemptFailed
	attempt.FailureReason = &reason
	attempt.ResolvedAt = &now
	if err := o.attempts.Update(ctx, attempt, expected); err != nil {
		return fmt.Errorf("failed to update payment attempt: %w", err)
	}

	o.record(ctx, models.NewPaymentEvent(models.PaymentEventFailed, source, now).ForAttempt(attempt).SetError(reason))
	o.publish(ctx, models.NewPaymentEventMessage(models.EventPaymentFailed, attempt, now))

	return o.settleUnpaid(ctx, attempt, models.OutcomeFailure, reason)
}

// settleUnpaid leaves the booking open for another attempt when budget and hold
// allow it, otherwise resolves it with kind
func (o *PaymentOrchestrator) settleUnpaid(ctx context.Context, attempt *models.PaymentAttempt, kind models.OutcomeKind, reason string) error {
	log := o.logger.WithFields(logrus.Fields{
		"booking_id": attempt.BookingID,
		"attempt_id": attempt.ID,
		"outcome":    kind,
	})

	booking, err := o.bookings.GetBooking(ctx, attempt.BookingID)
	if err != nil {
		return err
	}
	if booking.Status.IsTerminal() {
		return nil
	}

	retry, err := o.canRetry(ctx, booking)
	if err != nil {
		return err
	}
	if retry {
		log.Info("Payment attempt unsuccessful, booking stays open for a retry")
		return nil
	}

	if _, err := o.bookings.ResolvePayment(ctx, booking.ID, models.PaymentOutcome{
		Kind:      kind,
		AttemptID: attempt.ID,
		Reason:    reason,
	}); err != nil {
		return err
	}
	log.Info("Payment attempts exhausted, booking resolved")
	return nil
}

// ResumeSettlement re-runs the booking resolution for a booking whose payment
// attempt closed while the booking update failed. It returns the booking as
// left afterwards, or nil when no attempt has closed yet.
func (o *PaymentOrchestrator) ResumeSettlement(ctx context.Context, bookingID string) (*models.Booking, error) {
	unlock, err := o.locker.Lock(ctx, paymentLockKey(bookingID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock payments for booking %s: %w", bookingID, err)
	}
	defer unlock()

	attempts, err := o.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil, nil
	}

	// captured money outranks any later failure
	closed := attempts[len(attempts)-1]
	for _, attempt := range attempts {
		if attempt.Status == models.AttemptSucceeded {
			closed = attempt
			break
		}
	}
	if !closed.Status.IsTerminal() {
		return nil, nil
	}

	log := o.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"attempt_id": closed.ID,
		"status":     closed.Status,
	})
	if err := o.resumeSettlement(ctx, closed, log); err != nil {
		return nil, err
	}
	return o.bookings.GetBooking(ctx, bookingID)
}

// resumeSettlement finishes what a closed attempt started when its booking is
// still open. Callers hold the payment lock.
func (o *PaymentOrchestrator) resumeSettlement(ctx context.Context, attempt *models.PaymentAttempt, log *logrus.Entry) error {
	booking, err := o.bookings.GetBooking(ctx, attempt.BookingID)
	if err != nil {
		return err
	}
	if booking.Status.IsTerminal() {
		log.Info("Duplicate payment callback ignored")
		return nil
	}

	switch attempt.Status {
	case models.AttemptSucceeded:
		log.Warn("Booking still open after a successful payment, resolving again")
		return o.applyLateSuccess(ctx, attempt)

	case models.AttemptFailed, models.AttemptTimedOut:
		latest, err := o.isLatestAttempt(ctx, attempt)
		if err != nil || !latest {
			// a newer attempt owns the booking now
			return err
		}
		kind := models.OutcomeFailure
		reason := "payment declined"
		if attempt.Status == models.AttemptTimedOut {
			kind = models.OutcomeTimeout
			reason = "payment timed out"
		}
		if attempt.FailureReason != nil && kind == models.OutcomeFailure {
			reason = *attempt.FailureReason
		}
		log.Warn("Booking still open after a closed payment attempt, settling again")
		return o.settleUnpaid(ctx, attempt, kind, reason)
	}
	return nil
}

func (o *PaymentOrchestrator) isLatestAttempt(ctx context.Context, attempt *models.PaymentAttempt) (bool, error) {
	attempts, err := o.attempts.ListByBooking(ctx, attempt.BookingID)
	if err != nil {
		return false, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	for _, other := range attempts {
		if other.Sequence > attempt.Sequence {
			return false, nil
		}
	}
	return true, nil
}

// ============================================================================
// TIMEOUTS
// ============================================================================

// sweepFamilies lists every method family with its own timeout deadline
var sweepFamilies = []models.MethodFamily{models.FamilyMobileMoney, models.FamilyCard, models.FamilyWallet}

// TimeoutSweep times out attempts that stayed pending past their family's deadline.
// Each family is listed against its own cutoff so slow families never crowd
// overdue ones out of the batch.
func (o *PaymentOrchestrator) TimeoutSweep(ctx context.Context) (int, error) {
	now := o.clock.Now()

	timedOut := 0
	for _, family := range sweepFamilies {
		cutoff := now.Add(-o.timeoutFor(family))
		stale, err := o.attempts.ListPending(ctx, family, cutoff, o.config.SweepBatch)
		if err != nil {
			return timedOut, fmt.Errorf("failed to list pending %s payment attempts: %w", family, err)
		}

		for _, candidate := range stale {
			ok, err := o.timeOut(ctx, candidate.ID, candidate.BookingID)
			if err != nil {
				o.logger.WithError(err).WithField("attempt_id", candidate.ID).Error("Failed to time out payment attempt")
				continue
			}
			if ok {
				timedOut++
			}
		}
	}

	if timedOut > 0 {
		o.logger.WithField("count", timedOut).Info("Timed out stale payment attempts")
	}
	return timedOut, nil
}

func (o *PaymentOrchestrator) timeOut(ctx context.Context, attemptID, bookingID string) (bool, error) {
	unlock, err := o.locker.Lock(ctx, paymentLockKey(bookingID))
	if err != nil {
		return false, err
	}
	defer unlock()

	attempt, err := o.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return false, err
	}
	// a callback may have won the race for the lock
	if attempt == nil || attempt.Status != models.AttemptPendingConfirmation {
		return false, nil
	}

	now := o.clock.Now()
	reason := "no confirmation from the payment provider"
	attempt.Status = models.AttemptTimedOut
	attempt.FailureReason = &reason
	attempt.ResolvedAt = &now
	if err := o.attempts.Update(ctx, attempt, models.AttemptPendingConfirmation); err != nil {
		return false, err
	}

	o.record(ctx, models.NewPaymentEvent(models.PaymentEventTimedOut, models.PaymentSourceSweep, now).ForAttempt(attempt))
	o.publish(ctx, models.NewPaymentEventMessage(models.EventPaymentTimedOut, attempt, now))

	return true, o.settleUnpaid(ctx, attempt, models.OutcomeTimeout, "payment timed out")
}

// ============================================================================
// QUERIES
// ============================================================================

// ListAttempts returns the attempts made for a booking, oldest first
func (o *PaymentOrchestrator) ListAttempts(ctx context.Context, bookingID string) ([]*models.PaymentAttempt, error) {
	if _, err := o.bookings.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	attempts, err := o.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	if attempts == nil {
		attempts = []*models.PaymentAttempt{}
	}
	return attempts, nil
}

// ListEvents returns the payment event log of a booking
func (o *PaymentOrchestrator) ListEvents(ctx context.Context, bookingID string) ([]*models.PaymentEvent, error) {
	if _, err := o.bookings.GetBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return o.log.ListByBooking(ctx, bookingID)
}

// ============================================================================
// INTERNALS
// ============================================================================

func (o *PaymentOrchestrator) maxAttempts() int {
	return 1 + o.config.MaxRetries
}

func (o *PaymentOrchestrator) canRetry(ctx context.Context, booking *models.Booking) (bool, error) {
	attempts, err := o.attempts.ListByBooking(ctx, booking.ID)
	if err != nil {
		return false, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	if len(attempts) >= o.maxAttempts() {
		return false, nil
	}
	if err := o.requireLiveReservation(ctx, booking); err != nil {
		if errors.Is(err, models.ErrReservationExpired) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (o *PaymentOrchestrator) requireLiveReservation(ctx context.Context, booking *models.Booking) error {
	reservation, err := o.inventory.GetReservation(ctx, booking.ReservationID)
	if err != nil {
		return err
	}
	if !reservation.IsLiveAt(o.clock.Now()) {
		return fmt.Errorf("seat hold for booking %s ended at %s: %w",
			booking.ID, reservation.ExpiresAt.Format(time.RFC3339), models.ErrReservationExpired)
	}
	return nil
}

func (o *PaymentOrchestrator) timeoutFor(family models.MethodFamily) time.Duration {
	switch family {
	case models.FamilyMobileMoney:
		return o.config.MobileMoneyTimeout
	case models.FamilyCard:
		return o.config.CardTimeout
	default:
		return o.config.RedirectTimeout
	}
}

// record appends to the payment event log; failures are logged, never returned
func (o *PaymentOrchestrator) record(ctx context.Context, event *models.PaymentEvent) {
	if err := o.log.Log(ctx, event); err != nil {
		o.logger.WithError(err).WithField("event_type", event.EventType).Error("Failed to write payment event")
	}
}

func (o *PaymentOrchestrator) publish(ctx context.Context, event models.DomainEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.WithError(err).WithField("event", event.Type).Warn("Failed to publish domain event")
	}
}

func paymentLockKey(bookingID string) string {
	return "payment:" + bookingID
}
