package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-engine/internal/models"
)

// InventoryRepository handles seat_inventories and reservations
type InventoryRepository struct {
	db *sqlx.DB
}

// NewInventoryRepository creates a new InventoryRepository
func NewInventoryRepository(db *sqlx.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

const inventoryColumns = `trip_id, total_seats, held, committed, version, halted, created_at, updated_at`

const reservationColumns = `id, trip_id, seat_count, status, created_at, expires_at, resolved_at`

// ============================================================================
// SEAT INVENTORY
// ============================================================================

// GetInventory retrieves a trip's ledger
func (r *InventoryRepository) GetInventory(ctx context.Context, tripID string) (*models.SeatInventory, error) {
	var inv models.SeatInventory
	query := `SELECT ` + inventoryColumns + ` FROM seat_inventories WHERE trip_id = $1`

	err := r.db.GetContext(ctx, &inv, query, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return &inv, nil
}

// ListInventories returns every ledger (startup reconciliation)
func (r *InventoryRepository) ListInventories(ctx context.Context) ([]*models.SeatInventory, error) {
	var inventories []*models.SeatInventory
	query := `SELECT ` + inventoryColumns + ` FROM seat_inventories ORDER BY trip_id`

	if err := r.db.SelectContext(ctx, &inventories, query); err != nil {
		return nil, fmt.Errorf("failed to list inventories: %w", err)
	}
	return inventories, nil
}

// SaveInventory writes counters guarded by the version column
func (r *InventoryRepository) SaveInventory(ctx context.Context, inv *models.SeatInventory, expectedVersion int64) error {
	return r.SaveReservation(ctx, inv, expectedVersion, nil)
}

// SaveReservation writes the ledger and (optionally) a reservation in one transaction
func (r *InventoryRepository) SaveReservation(
	ctx context.Context,
	inv *models.SeatInventory,
	expectedVersion int64,
	res *models.Reservation,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	if expectedVersion == 0 {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO seat_inventories (`+inventoryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (trip_id) DO NOTHING`,
			inv.TripID, inv.TotalSeats, inv.Held, inv.Committed, inv.Version, inv.Halted, inv.CreatedAt, inv.UpdatedAt,
		)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE seat_inventories
			SET total_seats = $2, held = $3, committed = $4, version = $5, halted = $6, updated_at = $7
			WHERE trip_id = $1 AND version = $8`,
			inv.TripID, inv.TotalSeats, inv.Held, inv.Committed, inv.Version, inv.Halted, inv.UpdatedAt, expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return models.ErrVersionConflict
	}

	if res != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (`+reservationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, resolved_at = EXCLUDED.resolved_at`,
			res.ID, res.TripID, res.SeatCount, res.Status, res.CreatedAt, res.ExpiresAt, res.ResolvedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save reservation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inventory: %w", err)
	}
	return nil
}

// ============================================================================
// RESERVATIONS
// ============================================================================

// GetReservation retrieves a reservation by id
func (r *InventoryRepository) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	err := r.db.GetContext(ctx, &res, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

// ListExpiredReservations finds active holds whose window has elapsed
func (r *InventoryRepository) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &reservations, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	return reservations, nil
}

// ReservationTotals recomputes held and committed seats from reservation rows
func (r *InventoryRepository) ReservationTotals(ctx context.Context, tripID string) (int, int, error) {
	var totals struct {
		Held      int `db:"held"`
		Committed int `db:"committed"`
	}
	query := `
		SELECT
			COALESCE(SUM(seat_count) FILTER (WHERE status = 'active'), 0)    AS held,
			COALESCE(SUM(seat_count) FILTER (WHERE status = 'committed'), 0) AS committed
		FROM reservations
		WHERE trip_id = $1`

	if err := r.db.GetContext(ctx, &totals, query, tripID); err != nil {
		return 0, 0, fmt.Errorf("failed to total reservations: %w", err)
	}
	return totals.Held, totals.Committed, nil
}
