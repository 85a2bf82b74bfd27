package agenda

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Repository persists agenda events in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional agenda operations.
type TxRepository interface {
	Create(ctx context.Context, e Event) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	MarkToday(ctx context.Context, dayStart, dayEnd time.Time) (int64, error)
	CloseElapsed(ctx context.Context, now time.Time) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("agenda repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const eventColumns = `id, title, intervention_id, employee_id, status, starts_at, ends_at, created_at, updated_at`

// Get loads one event.
func (r *Repository) Get(ctx context.Context, id int64) (*Event, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM agenda_events WHERE id=$1`, id)
	var e Event
	err := row.Scan(&e.ID, &e.Title, &e.InterventionID, &e.EmployeeID, &e.Status, &e.StartsAt, &e.EndsAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Range lists events overlapping [from, to).
func (r *Repository) Range(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM agenda_events
WHERE starts_at < $2 AND ends_at >= $1 ORDER BY starts_at ASC, id ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Title, &e.InterventionID, &e.EmployeeID, &e.Status, &e.StartsAt, &e.EndsAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *txRepository) Create(ctx context.Context, e Event) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO agenda_events (title, intervention_id, employee_id, status, starts_at, ends_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		e.Title, e.InterventionID, e.EmployeeID, e.Status, e.StartsAt, e.EndsAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE agenda_events SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkToday flips upcoming events starting within the day window.
func (r *txRepository) MarkToday(ctx context.Context, dayStart, dayEnd time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE agenda_events SET status=$1, updated_at=NOW()
WHERE status=$2 AND starts_at >= $3 AND starts_at < $4`, StatusToday, StatusUpcoming, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CloseElapsed finishes every event whose end has passed and that is not
// cancelled or already finished.
func (r *txRepository) CloseElapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE agenda_events SET status=$1, updated_at=NOW()
WHERE ends_at < $2 AND status IN ($3, $4)`, StatusFinished, now, StatusUpcoming, StatusToday)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
