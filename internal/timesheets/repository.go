package timesheets

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
)

// Repository persists punches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional punch operations.
type TxRepository interface {
	Insert(ctx context.Context, p Punch) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("timesheets repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ForDay lists an employee's punches over the day, oldest first.
func (r *Repository) ForDay(ctx context.Context, employeeID int64, from, to time.Time) ([]Punch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, employee_id, intervention_id, kind, punched_at, created_at
FROM timesheet_punches WHERE employee_id=$1 AND punched_at >= $2 AND punched_at < $3 ORDER BY punched_at ASC, id ASC`,
		employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	punches := []Punch{}
	for rows.Next() {
		var p Punch
		if err := rows.Scan(&p.ID, &p.EmployeeID, &p.InterventionID, &p.Kind, &p.At, &p.CreatedAt); err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

// LastPause returns the most recent pause start without a matching end.
func (r *Repository) LastPause(ctx context.Context, employeeID int64, before time.Time) (*Punch, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, employee_id, intervention_id, kind, punched_at, created_at
FROM timesheet_punches WHERE employee_id=$1 AND kind=$2 AND punched_at < $3 ORDER BY punched_at DESC LIMIT 1`,
		employeeID, "debut_pause", before)
	var p Punch
	if err := row.Scan(&p.ID, &p.EmployeeID, &p.InterventionID, &p.Kind, &p.At, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *txRepository) Insert(ctx context.Context, p Punch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO timesheet_punches (employee_id, intervention_id, kind, punched_at, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, p.EmployeeID, p.InterventionID, p.Kind, p.At).Scan(&id)
	return id, err
}
