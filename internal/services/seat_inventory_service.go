package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
)

// SeatInventoryConfig holds hold-window and sweep settings
type SeatInventoryConfig struct {
	HoldWindow    time.Duration // reservation lifetime
	SweepBatch    int           // expired reservations processed per sweep
	MaxCASRetries int           // reloads after a version conflict from another instance
}

// DefaultSeatInventoryConfig returns default configuration
func DefaultSeatInventoryConfig() SeatInventoryConfig {
	return SeatInventoryConfig{
		HoldWindow:    15 * time.Minute,
		SweepBatch:    500,
		MaxCASRetries: 5,
	}
}

// SeatInventoryService is the only writer of seat ledgers.
// Every mutation of a trip runs under that trip's lock and is persisted with a
// compare-and-swap on the ledger version, so two instances sharing a database
// cannot interleave either.
type SeatInventoryService struct {
	store  database.InventoryStore
	locker utils.Locker
	clock  utils.Clock
	config SeatInventoryConfig
	logger *logrus.Logger

	halted sync.Map // trip id -> struct{}
}

// NewSeatInventoryService creates a new seat inventory service
func NewSeatInventoryService(
	store database.InventoryStore,
	locker utils.Locker,
	clock utils.Clock,
	config SeatInventoryConfig,
	logger *logrus.Logger,
) *SeatInventoryService {
	if config.SweepBatch <= 0 {
		config.SweepBatch = DefaultSeatInventoryConfig().SweepBatch
	}
	if config.MaxCASRetries <= 0 {
		config.MaxCASRetries = DefaultSeatInventoryConfig().MaxCASRetries
	}
	return &SeatInventoryService{
		store:  store,
		locker: locker,
		clock:  clock,
		config: config,
		logger: logger,
	}
}

// HoldWindow is how long a new reservation stays active
func (s *SeatInventoryService) HoldWindow() time.Duration {
	return s.config.HoldWindow
}

// ============================================================================
// RESERVE / COMMIT / RELEASE
// ============================================================================

// Reserve holds seatCount seats on tripID. An unseen trip is initialised from
// providerTotal inside the same locked step as the availability check.
func (s *SeatInventoryService) Reserve(ctx context.Context, tripID string, seatCount, providerTotal int) (*models.Reservation, error) {
	if tripID == "" {
		return nil, models.NewValidationError("trip_id", "is required")
	}
	if seatCount <= 0 {
		return nil, models.NewValidationError("seat_count", "must be greater than zero")
	}
	if providerTotal < 0 {
		return nil, models.NewValidationError("total_seats", "must not be negative")
	}

	var reservation *models.Reservation
	err := s.mutate(ctx, tripID, providerTotal, func(inv *models.SeatInventory, now time.Time) (*models.Reservation, error) {
		if inv.Available() < seatCount {
			return nil, &models.CapacityError{TripID: tripID, Requested: seatCount, Available: inv.Available()}
		}
		inv.Held += seatCount
		reservation = &models.Reservation{
			ID:        uuid.NewString(),
			TripID:    tripID,
			SeatCount: seatCount,
			Status:    models.ReservationActive,
			CreatedAt: now,
			ExpiresAt: now.Add(s.config.HoldWindow),
		}
		return reservation, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":        tripID,
		"reservation_id": reservation.ID,
		"seats":          seatCount,
		"expires_at":     reservation.ExpiresAt,
	}).Info("Seats reserved")

	return reservation, nil
}

// Commit turns an active, unexpired hold into sold seats.
// Committing an already committed reservation is a no-op.
func (s *SeatInventoryService) Commit(ctx context.Context, reservationID string) error {
	res, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}

	var expiredOnAccess bool
	err = s.mutate(ctx, res.TripID, -1, func(inv *models.SeatInventory, now time.Time) (*models.Reservation, error) {
		current, err := s.GetReservation(ctx, reservationID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case models.ReservationCommitted:
			return nil, nil
		case models.ReservationExpired:
			return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrReservationExpired)
		case models.ReservationReleased:
			return nil, &models.StateConflictError{
				Entity: "reservation", ID: reservationID, State: string(current.Status),
				Operation: "commit", Kind: models.ErrAlreadyResolved,
			}
		}

		if current.IsExpiredAt(now) {
			// lazy sweep: reclaim the seats now rather than waiting for the ticker
			inv.Held -= current.SeatCount
			current.Status = models.ReservationExpired
			current.ResolvedAt = &now
			expiredOnAccess = true
			return current, nil
		}

		inv.Held -= current.SeatCount
		inv.Committed += current.SeatCount
		current.Status = models.ReservationCommitted
		current.ResolvedAt = &now
		return current, nil
	})
	if err != nil {
		return err
	}
	if expiredOnAccess {
		s.logger.WithField("reservation_id", reservationID).Info("Reservation expired on commit")
		return fmt.Errorf("reservation %s: %w", reservationID, models.ErrReservationExpired)
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":        res.TripID,
		"reservation_id": reservationID,
	}).Info("Reservation committed")
	return nil
}

// Release gives held seats back. Releasing a reservation that is no longer
// active (released, expired or committed) is a successful no-op, which keeps
// a late cancellation racing the expiry sweep safe.
func (s *SeatInventoryService) Release(ctx context.Context, reservationID string) error {
	res, err := s.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}

	released := false
	err = s.mutate(ctx, res.TripID, -1, func(inv *models.SeatInventory, now time.Time) (*models.Reservation, error) {
		current, err := s.GetReservation(ctx, reservationID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.ReservationActive {
			return nil, nil
		}
		inv.Held -= current.SeatCount
		current.Status = models.ReservationReleased
		current.ResolvedAt = &now
		released = true
		return current, nil
	})
	if err != nil {
		return err
	}

	if released {
		s.logger.WithFields(logrus.Fields{
			"trip_id":        res.TripID,
			"reservation_id": reservationID,
		}).Info("Reservation released")
	}
	return nil
}

// ============================================================================
// EXPIRY SWEEP
// ============================================================================

// SweepExpired reclaims seats from every elapsed hold and reports how many were released
func (s *SeatInventoryService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.ExpireDue(ctx)
	return len(expired), err
}

// ExpireDue marks elapsed active reservations expired and returns the ones it changed
func (s *SeatInventoryService) ExpireDue(ctx context.Context) ([]models.Reservation, error) {
	due, err := s.store.ListExpiredReservations(ctx, s.clock.Now(), s.config.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	var expired []models.Reservation
	for _, res := range due {
		changed, err := s.expireOne(ctx, res)
		if err != nil {
			s.logger.WithError(err).WithField("reservation_id", res.ID).Error("Failed to expire reservation")
			continue
		}
		if changed != nil {
			expired = append(expired, *changed)
		}
	}

	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("Expired reservations released")
	}
	return expired, nil
}

func (s *SeatInventoryService) expireOne(ctx context.Context, res *models.Reservation) (*models.Reservation, error) {
	var changed *models.Reservation
	err := s.mutate(ctx, res.TripID, -1, func(inv *models.SeatInventory, now time.Time) (*models.Reservation, error) {
		current, err := s.GetReservation(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		// resolved or extended since the listing
		if current.Status != models.ReservationActive || !current.IsExpiredAt(now) {
			return nil, nil
		}
		inv.Held -= current.SeatCount
		current.Status = models.ReservationExpired
		current.ResolvedAt = &now
		changed = current
		return current, nil
	})
	return changed, err
}

// ============================================================================
// RECONCILIATION
// ============================================================================

// Reconcile rebuilds held/committed counters from reservation rows at startup.
// Drifted ledgers are corrected; impossible ones halt the trip. Returns the number corrected.
func (s *SeatInventoryService) Reconcile(ctx context.Context) (int, error) {
	inventories, err := s.store.ListInventories(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list inventories: %w", err)
	}

	corrected := 0
	for _, inv := range inventories {
		if inv.Halted {
			s.halted.Store(inv.TripID, struct{}{})
			continue
		}
		fixed, err := s.reconcileTrip(ctx, inv.TripID)
		if err != nil {
			if models.IsDataIntegrityError(err) {
				continue
			}
			return corrected, err
		}
		if fixed {
			corrected++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"inventories": len(inventories),
		"corrected":   corrected,
	}).Info("Seat inventory reconciled")
	return corrected, nil
}

func (s *SeatInventoryService) reconcileTrip(ctx context.Context, tripID string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, tripLockKey(tripID))
	if err != nil {
		return false, fmt.Errorf("failed to lock trip %s: %w", tripID, err)
	}
	defer unlock()

	inv, err := s.store.GetInventory(ctx, tripID)
	if err != nil || inv == nil {
		return false, err
	}
	held, committed, err := s.store.ReservationTotals(ctx, tripID)
	if err != nil {
		return false, err
	}
	if held == inv.Held && committed == inv.Committed {
		return false, nil
	}

	next := *inv
	next.Held, next.Committed = held, committed
	if err := next.CheckInvariant(); err != nil {
		s.halt(ctx, inv, err)
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":         tripID,
		"held_before":     inv.Held,
		"held_after":      held,
		"committed_after": committed,
	}).Warn("Seat inventory drift corrected")

	next.Version = inv.Version + 1
	next.UpdatedAt = s.clock.Now()
	if err := s.store.SaveInventory(ctx, &next, inv.Version); err != nil {
		return false, fmt.Errorf("failed to save reconciled inventory: %w", err)
	}
	return true, nil
}

// ============================================================================
// QUERIES
// ============================================================================

// GetReservation returns a reservation or ErrReservationNotFound
func (s *SeatInventoryService) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrReservationNotFound)
	}
	return res, nil
}

// GetInventory returns a trip's ledger or ErrTripNotFound
func (s *SeatInventoryService) GetInventory(ctx context.Context, tripID string) (*models.SeatInventory, error) {
	inv, err := s.store.GetInventory(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("trip %s: %w", tripID, models.ErrTripNotFound)
	}
	return inv, nil
}

// ============================================================================
// INTERNALS
// ============================================================================

type inventoryMutation func(inv *models.SeatInventory, now time.Time) (*models.Reservation, error)

// mutate loads the trip ledger under the trip lock, applies fn and persists the
// result. providerTotal >= 0 allows creating an unseen ledger. fn returning a nil
// reservation and nil error means "nothing to write".
func (s *SeatInventoryService) mutate(ctx context.Context, tripID string, providerTotal int, fn inventoryMutation) error {
	if _, halted := s.halted.Load(tripID); halted {
		return fmt.Errorf("trip %s: %w", tripID, models.ErrTripHalted)
	}

	unlock, err := s.locker.Lock(ctx, tripLockKey(tripID))
	if err != nil {
		return fmt.Errorf("failed to lock trip %s: %w", tripID, err)
	}
	defer unlock()

	for attempt := 0; attempt < s.config.MaxCASRetries; attempt++ {
		now := s.clock.Now()

		stored, err := s.store.GetInventory(ctx, tripID)
		if err != nil {
			return fmt.Errorf("failed to load inventory: %w", err)
		}

		var expected int64
		var next models.SeatInventory
		switch {
		case stored != nil:
			expected = stored.Version
			next = *stored
		case providerTotal >= 0:
			next = models.SeatInventory{TripID: tripID, TotalSeats: providerTotal, CreatedAt: now}
		default:
			return fmt.Errorf("trip %s: %w", tripID, models.ErrTripNotFound)
		}

		if next.Halted {
			s.halted.Store(tripID, struct{}{})
			return fmt.Errorf("trip %s: %w", tripID, models.ErrTripHalted)
		}
		if err := next.CheckInvariant(); err != nil {
			s.halt(ctx, stored, err)
			return err
		}

		res, err := fn(&next, now)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}

		if err := next.CheckInvariant(); err != nil {
			s.halt(ctx, stored, err)
			return err
		}

		next.Version = expected + 1
		next.UpdatedAt = now
		err = s.store.SaveReservation(ctx, &next, expected, res)
		if errors.Is(err, models.ErrVersionConflict) {
			s.logger.WithFields(logrus.Fields{
				"trip_id": tripID,
				"attempt": attempt + 1,
			}).Debug("Inventory version conflict, reloading")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save inventory: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to update inventory for trip %s: %w", tripID, models.ErrVersionConflict)
}

// halt stops all further mutation of a trip and alerts an operator
func (s *SeatInventoryService) halt(ctx context.Context, stored *models.SeatInventory, cause error) {
	var integrity *models.DataIntegrityError
	errors.As(cause, &integrity)

	tripID := ""
	if integrity != nil {
		tripID = integrity.TripID
	}
	if stored != nil {
		tripID = stored.TripID
	}
	s.halted.Store(tripID, struct{}{})

	s.logger.WithError(cause).WithFields(logrus.Fields{
		"trip_id": tripID,
		"alert":   "operator",
	}).Error("Seat inventory invariant violated, trip halted")

	if stored == nil {
		return
	}
	next := *stored
	next.Halted = true
	next.Version = stored.Version + 1
	next.UpdatedAt = s.clock.Now()
	if err := s.store.SaveInventory(ctx, &next, stored.Version); err != nil {
		s.logger.WithError(err).WithField("trip_id", tripID).Error("Failed to persist trip halt")
	}
}

func tripLockKey(tripID string) string {
	return "trip:" + tripID
}
