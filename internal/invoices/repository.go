package invoices

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/shared"
)

// ListRequest filters invoice listings.
type ListRequest struct {
	Status   *Status
	ClientID *int64
	Limit    int
	Offset   int
}

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional invoice operations.
type TxRepository interface {
	NextNumber(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, inv Invoice) (int64, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []Line) error
	UpdateStatus(ctx context.Context, id int64, status Status, paid bool) error
	Delete(ctx context.Context, id int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("invoices repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const invoiceColumns = `id, number, client_id, intervention_id, status, total_ht, total_vat, total_ttc, issued_at, due_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.InterventionID, &inv.Status,
		&inv.TotalHT, &inv.TotalVAT, &inv.TotalTTC, &inv.IssuedAt, &inv.DueAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// Get loads one invoice with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, kind, item_id, label, qty, unit, unit_price_ht, vat_rate, total_ht, total_ttc
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Kind, &l.ItemID, &l.Label, &l.Qty, &l.Unit,
			&l.UnitPriceHT, &l.VATRate, &l.TotalHT, &l.TotalTTC); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

// List returns invoice headers matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *req.Status)
		argPos++
	}
	if req.ClientID != nil {
		where += fmt.Sprintf(" AND client_id = $%d", argPos)
		args = append(args, *req.ClientID)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NormalizePage(req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices %s ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *inv)
	}
	return items, total, rows.Err()
}

// NextNumber reserves the next invoice sequence for the year. The upsert
// with RETURNING allocates atomically; concurrent generations never share
// a number.
func (r *txRepository) NextNumber(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, year, seq)
VALUES ('invoice', $1, 1)
ON CONFLICT (doc_type, year) DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, year).Scan(&seq)
	return seq, err
}

func (r *txRepository) Create(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (number, client_id, intervention_id, status, total_ht, total_vat, total_ttc, issued_at, due_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		inv.Number, inv.ClientID, inv.InterventionID, inv.Status,
		inv.TotalHT, inv.TotalVAT, inv.TotalTTC, inv.IssuedAt, inv.DueAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, invoiceID int64, lines []Line) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, kind, item_id, label, qty, unit, unit_price_ht, vat_rate, total_ht, total_ttc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			invoiceID, l.Kind, l.ItemID, l.Label, l.Qty, l.Unit, l.UnitPriceHT, l.VATRate, l.TotalHT, l.TotalTTC); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id=$1`, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id=$1`, id)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, paid bool) error {
	var tagQuery string
	if paid {
		tagQuery = `UPDATE invoices SET status=$1, paid_at=NOW(), updated_at=NOW() WHERE id=$2`
	} else {
		tagQuery = `UPDATE invoices SET status=$1, updated_at=NOW() WHERE id=$2`
	}
	tag, err := r.tx.Exec(ctx, tagQuery, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
