package models

import (
	"time"
)

// ============================================================================
// SEAT INVENTORY (seat_inventories table)
// ============================================================================

// SeatInventory is the authoritative per-trip seat ledger.
// Invariant: Held + Committed <= TotalSeats.
type SeatInventory struct {
	TripID     string    `json:"trip_id" db:"trip_id"`
	TotalSeats int       `json:"total_seats" db:"total_seats"`
	Held       int       `json:"held" db:"held"`
	Committed  int       `json:"committed" db:"committed"`
	Version    int64     `json:"version" db:"version"`
	Halted     bool      `json:"halted" db:"halted"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Available is the number of seats that can still be reserved
func (inv *SeatInventory) Available() int {
	return inv.TotalSeats - inv.Held - inv.Committed
}

// CheckInvariant returns a DataIntegrityError when the ledger is inconsistent
func (inv *SeatInventory) CheckInvariant() error {
	if inv.Held < 0 || inv.Committed < 0 || inv.Held+inv.Committed > inv.TotalSeats {
		return &DataIntegrityError{
			TripID:    inv.TripID,
			Held:      inv.Held,
			Committed: inv.Committed,
			Total:     inv.TotalSeats,
		}
	}
	return nil
}

// ============================================================================
// RESERVATION (reservations table)
// ============================================================================

// ReservationStatus tracks a seat hold
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"    // Seats held, awaiting payment
	ReservationCommitted ReservationStatus = "committed" // Payment succeeded, seats sold
	ReservationReleased  ReservationStatus = "released"  // Payment failed or booking cancelled
	ReservationExpired   ReservationStatus = "expired"   // Hold window elapsed
)

// IsTerminal reports whether the reservation no longer holds seats
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationActive
}

// Reservation is a time-boxed hold against a trip's inventory
type Reservation struct {
	ID         string            `json:"id" db:"id"`
	TripID     string            `json:"trip_id" db:"trip_id"`
	SeatCount  int               `json:"seat_count" db:"seat_count"`
	Status     ReservationStatus `json:"status" db:"status"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at" db:"expires_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsExpiredAt reports whether the hold window has elapsed at now
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsLiveAt reports whether the reservation still holds seats at now
func (r *Reservation) IsLiveAt(now time.Time) bool {
	return r.Status == ReservationActive && !r.IsExpiredAt(now)
}
