package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Repository persists movements and reservations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional stock operations.
type TxRepository interface {
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	DeleteReservations(ctx context.Context, quoteID int64) (int64, error)
	CancelPlannedMovements(ctx context.Context, quoteID int64) (int64, error)
	InsertPlannedMovement(ctx context.Context, mv Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ReservationsForQuote lists active reservations tagged with the quote.
func (r *Repository) ReservationsForQuote(ctx context.Context, quoteID int64) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, qty, quote_id, quote_number, created_at
FROM stock_reservations WHERE quote_id=$1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Reservation{}
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.ItemID, &res.Qty, &res.QuoteID, &res.QuoteNumber, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// PlannedMovementsForQuote lists still-planned movements of the quote.
func (r *Repository) PlannedMovementsForQuote(ctx context.Context, quoteID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, item_id, qty, status, quote_id, scheduled_at, created_at
FROM stock_movements WHERE quote_id=$1 AND status=$2 ORDER BY id`, quoteID, MovementPlanned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.Code, &mv.ItemID, &mv.Qty, &mv.Status, &mv.QuoteID, &mv.ScheduledAt, &mv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// Snapshot loads the on-hand and reserved quantities for one item.
// Reservations are date-less holds and always count. When the query
// carries a window, planned outbound movements scheduled inside it count
// too, except those of quotes whose reservation is already in the sum.
// The quote-id exclusion is used when the holding quote re-checks itself.
func (r *Repository) Snapshot(ctx context.Context, q AvailabilityQuery) (onHand, reserved float64, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(qty_on_hand, 0) FROM stock_items WHERE id=$1`, q.ItemID).Scan(&onHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, shared.ErrNotFound
		}
		return 0, 0, err
	}

	query := `SELECT COALESCE(SUM(qty), 0) FROM stock_reservations WHERE item_id=$1`
	args := []interface{}{q.ItemID}
	if q.ExcludeQuoteID != nil {
		query += ` AND quote_id <> $2`
		args = append(args, *q.ExcludeQuoteID)
	}
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&reserved); err != nil {
		return 0, 0, err
	}

	if !q.From.IsZero() || !q.To.IsZero() {
		planned, err := r.plannedDemand(ctx, q)
		if err != nil {
			return 0, 0, err
		}
		reserved += planned
	}
	return onHand, reserved, nil
}

// plannedDemand sums the planned outbound quantities scheduled inside the
// window. Movements store outbound as negative qty, so the sum is negated.
func (r *Repository) plannedDemand(ctx context.Context, q AvailabilityQuery) (float64, error) {
	query := `SELECT COALESCE(SUM(-m.qty), 0) FROM stock_movements m
WHERE m.item_id=$1 AND m.status=$2 AND m.qty < 0
AND NOT EXISTS (SELECT 1 FROM stock_reservations r WHERE r.quote_id = m.quote_id AND r.item_id = m.item_id)`
	args := []interface{}{q.ItemID, MovementPlanned}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(" AND m.scheduled_at >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(" AND m.scheduled_at < $%d", len(args))
	}
	if q.ExcludeQuoteID != nil {
		args = append(args, *q.ExcludeQuoteID)
		query += fmt.Sprintf(" AND (m.quote_id IS NULL OR m.quote_id <> $%d)", len(args))
	}

	var demand float64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&demand)
	return demand, err
}

// ExportRows returns the flat stock listing used by the xlsx export.
func (r *Repository) ExportRows(ctx context.Context) ([]ExportRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.reference, i.label, i.unit, COALESCE(i.qty_on_hand, 0), COALESCE(r.reserved, 0), i.unit_price_ht
FROM stock_items i
LEFT JOIN (SELECT item_id, SUM(qty) AS reserved FROM stock_reservations GROUP BY item_id) r ON r.item_id = i.id
ORDER BY i.reference`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ExportRow{}
	for rows.Next() {
		var row ExportRow
		if err := rows.Scan(&row.ItemID, &row.Reference, &row.Label, &row.Unit, &row.OnHand, &row.Reserved, &row.UnitPriceHT); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reservations (item_id, qty, quote_id, quote_number, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, res.ItemID, res.Qty, res.QuoteID, res.QuoteNumber).Scan(&id)
	return id, err
}

func (r *txRepository) DeleteReservations(ctx context.Context, quoteID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_reservations WHERE quote_id=$1`, quoteID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) CancelPlannedMovements(ctx context.Context, quoteID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements SET status=$1 WHERE quote_id=$2 AND status=$3`,
		MovementCanceled, quoteID, MovementPlanned)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) InsertPlannedMovement(ctx context.Context, mv Movement) (int64, error) {
	if mv.Code == "" {
		mv.Code = "MVT-" + uuid.NewString()
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (code, item_id, qty, status, quote_id, scheduled_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		mv.Code, mv.ItemID, mv.Qty, MovementPlanned, mv.QuoteID, mv.ScheduledAt).Scan(&id)
	return id, err
}
