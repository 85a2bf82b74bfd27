package quotes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/shared"
)

// ListRequest filters quote listings.
type ListRequest struct {
	Status   *Status
	ClientID *int64
	Limit    int
	Offset   int
}

// Repository persists quotes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional quote operations.
type TxRepository interface {
	NextNumber(ctx context.Context, year int) (int, error)
	Create(ctx context.Context, q Quote) (int64, error)
	UpdateHeader(ctx context.Context, q Quote) error
	ReplaceLines(ctx context.Context, quoteID int64, lines []Line, packages []Package) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetIntervention(ctx context.Context, quoteID, interventionID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("quotes repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const quoteColumns = `id, number, client_id, title, status, global_discount_pct, deposit_pct, total_ht, total_vat, total_ttc, deposit_amount, balance_due, intervention_id, valid_until, created_at, updated_at`

func scanQuote(row pgx.Row) (*Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.Number, &q.ClientID, &q.Title, &q.Status, &q.GlobalDiscount, &q.DepositPct,
		&q.TotalHT, &q.TotalVAT, &q.TotalTTC, &q.DepositAmount, &q.BalanceDue,
		&q.InterventionID, &q.ValidUntil, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// Get loads one quote with its lines and packages.
func (r *Repository) Get(ctx context.Context, id int64) (*Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}

	packages, err := r.packages(ctx, id)
	if err != nil {
		return nil, err
	}
	byPackage := map[int64]*Package{}
	for i := range packages {
		byPackage[packages[i].ID] = &packages[i]
	}

	rows, err := r.pool.Query(ctx, `SELECT id, quote_id, package_id, type, item_id, label, qty, unit, unit_price_ht, discount_pct, vat_rate, optional, included, total_ht, total_vat, total_ttc
FROM quote_lines WHERE quote_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.PackageID, &l.Type, &l.ItemID, &l.Label, &l.Qty, &l.Unit,
			&l.UnitPriceHT, &l.DiscountPct, &l.VATRate, &l.Optional, &l.Included, &l.TotalHT, &l.TotalVAT, &l.TotalTTC); err != nil {
			return nil, err
		}
		if l.PackageID != nil {
			if pkg, ok := byPackage[*l.PackageID]; ok {
				pkg.Lines = append(pkg.Lines, l)
				continue
			}
		}
		q.Lines = append(q.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	q.Packages = packages
	return q, nil
}

func (r *Repository) packages(ctx context.Context, quoteID int64) ([]Package, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, quote_id, label, selected FROM quote_packages WHERE quote_id=$1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Package{}
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.QuoteID, &p.Label, &p.Selected); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns quote headers matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quotes "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NormalizePage(req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT `+quoteColumns+` FROM quotes %s ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *q)
	}
	return items, total, rows.Err()
}

// NextNumber reserves the next quote sequence for the year. The upsert
// with RETURNING makes the allocation atomic, so concurrent writers never
// share a number.
func (r *txRepository) NextNumber(ctx context.Context, year int) (int, error) {
	var seq int
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, year, seq)
VALUES ('quote', $1, 1)
ON CONFLICT (doc_type, year) DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, year).Scan(&seq)
	return seq, err
}

func (r *txRepository) Create(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO quotes (number, client_id, title, status, global_discount_pct, deposit_pct, total_ht, total_vat, total_ttc, deposit_amount, balance_due, valid_until, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW()) RETURNING id`,
		q.Number, q.ClientID, q.Title, q.Status, q.GlobalDiscount, q.DepositPct,
		q.TotalHT, q.TotalVAT, q.TotalTTC, q.DepositAmount, q.BalanceDue, q.ValidUntil).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateHeader(ctx context.Context, q Quote) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET title=$1, global_discount_pct=$2, deposit_pct=$3, total_ht=$4, total_vat=$5, total_ttc=$6, deposit_amount=$7, balance_due=$8, valid_until=$9, updated_at=NOW()
WHERE id=$10`, q.Title, q.GlobalDiscount, q.DepositPct, q.TotalHT, q.TotalVAT, q.TotalTTC, q.DepositAmount, q.BalanceDue, q.ValidUntil, q.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, quoteID int64, lines []Line, packages []Package) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM quote_lines WHERE quote_id=$1`, quoteID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM quote_packages WHERE quote_id=$1`, quoteID); err != nil {
		return err
	}
	for _, l := range lines {
		if err := r.insertLine(ctx, quoteID, nil, l); err != nil {
			return err
		}
	}
	for _, p := range packages {
		var packageID int64
		if err := r.tx.QueryRow(ctx, `INSERT INTO quote_packages (quote_id, label, selected) VALUES ($1,$2,$3) RETURNING id`,
			quoteID, p.Label, p.Selected).Scan(&packageID); err != nil {
			return err
		}
		for _, l := range p.Lines {
			if err := r.insertLine(ctx, quoteID, &packageID, l); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *txRepository) insertLine(ctx context.Context, quoteID int64, packageID *int64, l Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO quote_lines (quote_id, package_id, type, item_id, label, qty, unit, unit_price_ht, discount_pct, vat_rate, optional, included, total_ht, total_vat, total_ttc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		quoteID, packageID, l.Type, l.ItemID, l.Label, l.Qty, l.Unit, l.UnitPriceHT, l.DiscountPct, l.VATRate,
		l.Optional, l.Included, l.TotalHT, l.TotalVAT, l.TotalTTC)
	return err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) SetIntervention(ctx context.Context, quoteID, interventionID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET intervention_id=$1, updated_at=NOW() WHERE id=$2 AND intervention_id IS NULL`, interventionID, quoteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConverted
	}
	return nil
}

// ErrAlreadyConverted indicates the quote already produced an intervention.
var ErrAlreadyConverted = errors.New("quote already converted to an intervention")
