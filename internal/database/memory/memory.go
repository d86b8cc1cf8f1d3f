// Package memory provides in-process implementations of the database stores.
// It backs development runs without DATABASE_URL and isolated service tests.
// Values are copied on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smarttransit/booking-engine/internal/models"
)

// ============================================================================
// INVENTORY
// ============================================================================

// InventoryStore keeps seat ledgers and reservations in maps
type InventoryStore struct {
	mu           sync.RWMutex
	inventories  map[string]models.SeatInventory
	reservations map[string]models.Reservation
}

// NewInventoryStore creates an empty InventoryStore
func NewInventoryStore() *InventoryStore {
	return &InventoryStore{
		inventories:  make(map[string]models.SeatInventory),
		reservations: make(map[string]models.Reservation),
	}
}

func (s *InventoryStore) GetInventory(_ context.Context, tripID string) (*models.SeatInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.inventories[tripID]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *InventoryStore) ListInventories(_ context.Context) ([]*models.SeatInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SeatInventory, 0, len(s.inventories))
	for _, inv := range s.inventories {
		inv := inv
		out = append(out, &inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out, nil
}

func (s *InventoryStore) SaveInventory(ctx context.Context, inv *models.SeatInventory, expectedVersion int64) error {
	return s.SaveReservation(ctx, inv, expectedVersion, nil)
}

func (s *InventoryStore) SaveReservation(_ context.Context, inv *models.SeatInventory, expectedVersion int64, res *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.inventories[inv.TripID]
	switch {
	case expectedVersion == 0 && exists:
		return models.ErrVersionConflict
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return models.ErrVersionConflict
	}

	s.inventories[inv.TripID] = *inv
	if res != nil {
		s.reservations[res.ID] = copyReservation(*res)
	}
	return nil
}

func (s *InventoryStore) GetReservation(_ context.Context, id string) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, nil
	}
	res = copyReservation(res)
	return &res, nil
}

func (s *InventoryStore) ListExpiredReservations(_ context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Reservation
	for _, res := range s.reservations {
		res := res
		if res.Status == models.ReservationActive && res.ExpiresAt.Before(now) {
			res = copyReservation(res)
			out = append(out, &res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InventoryStore) ReservationTotals(_ context.Context, tripID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var held, committed int
	for _, res := range s.reservations {
		if res.TripID != tripID {
			continue
		}
		switch res.Status {
		case models.ReservationActive:
			held += res.SeatCount
		case models.ReservationCommitted:
			committed += res.SeatCount
		}
	}
	return held, committed, nil
}

func copyReservation(r models.Reservation) models.Reservation {
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		r.ResolvedAt = &t
	}
	return r
}

// ============================================================================
// BOOKINGS
// ============================================================================

// BookingStore keeps bookings in a map
type BookingStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
}

// NewBookingStore creates an empty BookingStore
func NewBookingStore() *BookingStore {
	return &BookingStore{bookings: make(map[string]models.Booking)}
}

func (s *BookingStore) Create(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bookings {
		if existing.ReservationID == b.ReservationID {
			return &models.StateConflictError{Entity: "reservation", ID: b.ReservationID, State: "booked", Operation: "book"}
		}
	}
	s.bookings[b.ID] = copyBooking(*b)
	return nil
}

func (s *BookingStore) GetByID(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	b = copyBooking(b)
	return &b, nil
}

func (s *BookingStore) GetByReservationID(_ context.Context, reservationID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bookings {
		if b.ReservationID == reservationID {
			b = copyBooking(b)
			return &b, nil
		}
	}
	return nil, nil
}

// Update only touches status and payment fields, like the SQL implementation
func (s *BookingStore) Update(_ context.Context, b *models.Booking, expected models.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.bookings[b.ID]
	if !ok || current.Status != expected {
		return &models.StateConflictError{
			Entity:    "booking",
			ID:        b.ID,
			State:     string(expected),
			Operation: "update",
			Kind:      models.ErrInvalidTransition,
		}
	}
	updated := copyBooking(*b)
	current.Status = updated.Status
	current.StatusReason = updated.StatusReason
	current.PaymentID = updated.PaymentID
	current.UpdatedAt = updated.UpdatedAt
	current.ResolvedAt = updated.ResolvedAt
	s.bookings[b.ID] = current
	return nil
}

func (s *BookingStore) ListOpenBefore(_ context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Booking
	for _, b := range s.bookings {
		b := b
		if b.Status.IsTerminal() || !b.CreatedAt.Before(createdBefore) {
			continue
		}
		b = copyBooking(b)
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyBooking(b models.Booking) models.Booking {
	b.Passengers = append(models.Passengers(nil), b.Passengers...)
	if b.Trip.Attributes != nil {
		attrs := make(models.JSONB, len(b.Trip.Attributes))
		for k, v := range b.Trip.Attributes {
			attrs[k] = v
		}
		b.Trip.Attributes = attrs
	}
	b.UserID = copyString(b.UserID)
	b.ContactEmail = copyString(b.ContactEmail)
	b.PaymentID = copyString(b.PaymentID)
	b.StatusReason = copyString(b.StatusReason)
	b.ResolvedAt = copyTime(b.ResolvedAt)
	return b
}

// ============================================================================
// PAYMENT ATTEMPTS
// ============================================================================

// PaymentAttemptStore keeps payment attempts in a map
type PaymentAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]models.PaymentAttempt
}

// NewPaymentAttemptStore creates an empty PaymentAttemptStore
func NewPaymentAttemptStore() *PaymentAttemptStore {
	return &PaymentAttemptStore{attempts: make(map[string]models.PaymentAttempt)}
}

func (s *PaymentAttemptStore) Create(_ context.Context, a *models.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts {
		if existing.BookingID == a.BookingID && !existing.Status.IsTerminal() {
			return &models.StateConflictError{
				Entity:    "booking",
				ID:        a.BookingID,
				State:     string(existing.Status),
				Operation: "open a second payment attempt for",
				Kind:      models.ErrAttemptInProgress,
			}
		}
	}
	s.attempts[a.ID] = copyAttempt(*a)
	return nil
}

func (s *PaymentAttemptStore) GetByID(_ context.Context, id string) (*models.PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	a = copyAttempt(a)
	return &a, nil
}

func (s *PaymentAttemptStore) GetByExternalReference(_ context.Context, ref string) (*models.PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.attempts {
		if a.ExternalReference != nil && *a.ExternalReference == ref {
			a = copyAttempt(a)
			return &a, nil
		}
	}
	return nil, nil
}

func (s *PaymentAttemptStore) ListByBooking(_ context.Context, bookingID string) ([]*models.PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PaymentAttempt
	for _, a := range s.attempts {
		a := a
		if a.BookingID == bookingID {
			a = copyAttempt(a)
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *PaymentAttemptStore) Update(_ context.Context, a *models.PaymentAttempt, expected models.AttemptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[a.ID]
	if !ok || current.Status != expected {
		return &models.StateConflictError{
			Entity:    "payment attempt",
			ID:        a.ID,
			State:     string(expected),
			Operation: "update",
			Kind:      models.ErrAlreadyResolved,
		}
	}
	s.attempts[a.ID] = copyAttempt(*a)
	return nil
}

func (s *PaymentAttemptStore) ListPending(_ context.Context, family models.MethodFamily, cutoff time.Time, limit int) ([]*models.PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PaymentAttempt
	for _, a := range s.attempts {
		a := a
		if a.Status == models.AttemptPendingConfirmation && a.Family == family && a.PendingAt != nil && a.PendingAt.Before(cutoff) {
			a = copyAttempt(a)
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PendingAt.Before(*out[j].PendingAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyAttempt(a models.PaymentAttempt) models.PaymentAttempt {
	a.ExternalReference = copyString(a.ExternalReference)
	a.RedirectURL = copyString(a.RedirectURL)
	a.FailureReason = copyString(a.FailureReason)
	a.PendingAt = copyTime(a.PendingAt)
	a.ResolvedAt = copyTime(a.ResolvedAt)
	return a
}

// ============================================================================
// PAYMENT EVENTS
// ============================================================================

// PaymentEventStore is an append-only slice
type PaymentEventStore struct {
	mu     sync.RWMutex
	events []models.PaymentEvent
}

// NewPaymentEventStore creates an empty PaymentEventStore
func NewPaymentEventStore() *PaymentEventStore {
	return &PaymentEventStore{}
}

func (s *PaymentEventStore) Log(_ context.Context, e *models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *PaymentEventStore) ListByBooking(_ context.Context, bookingID string) ([]*models.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PaymentEvent
	for _, e := range s.events {
		if e.BookingID != nil && *e.BookingID == bookingID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
