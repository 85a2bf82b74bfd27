package interventions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/shared"
)

// ListRequest filters intervention listings.
type ListRequest struct {
	Status   *Status
	ClientID *int64
	Limit    int
	Offset   int
}

// Repository persists interventions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	Create(ctx context.Context, iv Intervention) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	InsertConsumables(ctx context.Context, interventionID int64, rows []ConsumableRecord) error
	InsertServices(ctx context.Context, interventionID int64, rows []ServiceRecord) error
	LinkInvoice(ctx context.Context, interventionID, invoiceID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrAlreadyLinked indicates the intervention already carries an invoice.
var ErrAlreadyLinked = errors.New("intervention already linked to an invoice")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("interventions repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads one intervention.
func (r *Repository) Get(ctx context.Context, id int64) (*Intervention, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, client_id, quote_id, title, description, status, scheduled_at, invoice_id, gps_lat, gps_lng, signature_ref, created_at, updated_at
FROM interventions WHERE id=$1`, id)
	var iv Intervention
	err := row.Scan(&iv.ID, &iv.ClientID, &iv.QuoteID, &iv.Title, &iv.Description, &iv.Status, &iv.ScheduledAt, &iv.InvoiceID, &iv.GPSLat, &iv.GPSLng, &iv.SignRef, &iv.CreatedAt, &iv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &iv, nil
}

// List returns interventions matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]Intervention, int, error) {
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
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM interventions "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.NormalizePage(req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT id, client_id, quote_id, title, description, status, scheduled_at, invoice_id, gps_lat, gps_lng, signature_ref, created_at, updated_at
FROM interventions %s ORDER BY scheduled_at NULLS LAST, id DESC LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, page.Limit, page.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Intervention{}
	for rows.Next() {
		var iv Intervention
		if err := rows.Scan(&iv.ID, &iv.ClientID, &iv.QuoteID, &iv.Title, &iv.Description, &iv.Status, &iv.ScheduledAt, &iv.InvoiceID, &iv.GPSLat, &iv.GPSLng, &iv.SignRef, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, iv)
	}
	return items, total, rows.Err()
}

// HasConsumables reports whether any consumable rows exist for the intervention.
func (r *Repository) HasConsumables(ctx context.Context, interventionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM intervention_consumables WHERE intervention_id=$1)`, interventionID).Scan(&exists)
	return exists, err
}

// Consumables lists consumable records of one intervention.
func (r *Repository) Consumables(ctx context.Context, interventionID int64) ([]ConsumableRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, intervention_id, item_id, label, qty, unit, unit_price_ht, vat_rate, total_ht, total_ttc
FROM intervention_consumables WHERE intervention_id=$1 ORDER BY id`, interventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []ConsumableRecord{}
	for rows.Next() {
		var c ConsumableRecord
		if err := rows.Scan(&c.ID, &c.InterventionID, &c.ItemID, &c.Label, &c.Qty, &c.Unit, &c.UnitPriceHT, &c.VATRate, &c.TotalHT, &c.TotalTTC); err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// Services lists service records of one intervention.
func (r *Repository) Services(ctx context.Context, interventionID int64) ([]ServiceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, intervention_id, label, qty, unit_price_ht, vat_rate, total_ht, total_ttc
FROM intervention_services WHERE intervention_id=$1 ORDER BY id`, interventionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []ServiceRecord{}
	for rows.Next() {
		var s ServiceRecord
		if err := rows.Scan(&s.ID, &s.InterventionID, &s.Label, &s.Qty, &s.UnitPriceHT, &s.VATRate, &s.TotalHT, &s.TotalTTC); err != nil {
			return nil, err
		}
		records = append(records, s)
	}
	return records, rows.Err()
}

func (r *txRepository) Create(ctx context.Context, iv Intervention) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO interventions (client_id, quote_id, title, description, status, scheduled_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		iv.ClientID, iv.QuoteID, iv.Title, iv.Description, iv.Status, iv.ScheduledAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE interventions SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertConsumables(ctx context.Context, interventionID int64, rows []ConsumableRecord) error {
	for _, c := range rows {
		if _, err := r.tx.Exec(ctx, `INSERT INTO intervention_consumables (intervention_id, item_id, label, qty, unit, unit_price_ht, vat_rate, total_ht, total_ttc)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, interventionID, c.ItemID, c.Label, c.Qty, c.Unit, c.UnitPriceHT, c.VATRate, c.TotalHT, c.TotalTTC); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertServices(ctx context.Context, interventionID int64, rows []ServiceRecord) error {
	for _, s := range rows {
		if _, err := r.tx.Exec(ctx, `INSERT INTO intervention_services (intervention_id, label, qty, unit_price_ht, vat_rate, total_ht, total_ttc)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, interventionID, s.Label, s.Qty, s.UnitPriceHT, s.VATRate, s.TotalHT, s.TotalTTC); err != nil {
			return err
		}
	}
	return nil
}

// LinkInvoice writes the invoice id only when none is set yet. The linkage
// is one-directional and permanent; there is no unlink.
func (r *txRepository) LinkInvoice(ctx context.Context, interventionID, invoiceID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE interventions SET invoice_id=$1, updated_at=NOW() WHERE id=$2 AND invoice_id IS NULL`, invoiceID, interventionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyLinked
	}
	return nil
}
