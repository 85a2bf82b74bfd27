package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, int, error)
}

// InterventionPort is the intervention surface used during generation.
type InterventionPort interface {
	Get(ctx context.Context, id int64) (*interventions.Intervention, error)
	Consumables(ctx context.Context, id int64) ([]interventions.ConsumableRecord, error)
	Services(ctx context.Context, id int64) ([]interventions.ServiceRecord, error)
	LinkInvoice(ctx context.Context, interventionID, invoiceID int64, invoiceNumber string, totalTTC float64, actor string) error
}

// PaymentTermDays is the default due delay for generated invoices.
const PaymentTermDays = 30

// Service generates and manages invoices.
type Service struct {
	repo          RepositoryPort
	interventions InterventionPort
	logger        *slog.Logger
	generated     prometheus.Counter
	now           func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, iv InterventionPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, interventions: iv, logger: logger, now: time.Now}
}

// SetGeneratedCounter wires the counter incremented per generated
// invoice. May stay unset.
func (s *Service) SetGeneratedCounter(c prometheus.Counter) {
	s.generated = c
}

// CreateFromIntervention builds the invoice of a finished intervention.
// Lines copy the stored record amounts as-is. The intervention linkage is
// written through the conditional update, so a concurrent double
// generation fails with ErrAlreadyInvoiced instead of producing two
// invoices for the same job.
func (s *Service) CreateFromIntervention(ctx context.Context, interventionID int64, actor string) (*Invoice, error) {
	iv, err := s.interventions.Get(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	if iv.Status != interventions.StatusDone {
		return nil, fmt.Errorf("invoices: seule une intervention terminée peut être facturée (statut %s)", iv.Status)
	}
	if iv.InvoiceID != nil {
		return nil, ErrAlreadyInvoiced
	}

	consumables, err := s.interventions.Consumables(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("invoices: load consumables: %w", err)
	}
	services, err := s.interventions.Services(ctx, interventionID)
	if err != nil {
		return nil, fmt.Errorf("invoices: load services: %w", err)
	}
	lines := buildLines(consumables, services)
	if len(lines) == 0 {
		return nil, errors.New("invoices: aucune ligne à facturer")
	}

	var totalHT, totalTTC float64
	for _, l := range lines {
		totalHT += l.TotalHT
		totalTTC += l.TotalTTC
	}
	totalHT = shared.RoundCents(totalHT)
	totalTTC = shared.RoundCents(totalTTC)

	issued := s.now()
	inv := Invoice{
		ClientID:       iv.ClientID,
		InterventionID: &interventionID,
		Status:         StatusDraft,
		TotalHT:        totalHT,
		TotalVAT:       shared.RoundCents(totalTTC - totalHT),
		TotalTTC:       totalTTC,
		IssuedAt:       issued,
		DueAt:          issued.AddDate(0, 0, PaymentTermDays),
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		year := issued.Year()
		seq, err := tx.NextNumber(ctx, year)
		if err != nil {
			return fmt.Errorf("next invoice number: %w", err)
		}
		inv.Number = fmt.Sprintf("FAC-%d-%04d", year, seq)

		id, err = tx.Create(ctx, inv)
		if err != nil {
			return err
		}
		return tx.InsertLines(ctx, id, lines)
	})
	if err != nil {
		return nil, fmt.Errorf("invoices: create: %w", err)
	}

	if err := s.interventions.LinkInvoice(ctx, interventionID, id, inv.Number, inv.TotalTTC, actor); err != nil {
		if errors.Is(err, interventions.ErrAlreadyLinked) {
			// Lost a race with a concurrent generation; the row created
			// above would otherwise survive as an orphan draft.
			s.discard(ctx, id, inv.Number)
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInvoiced, inv.Number)
		}
		return nil, fmt.Errorf("invoices: link intervention: %w", err)
	}

	if s.generated != nil {
		s.generated.Inc()
	}
	s.logger.Info("facture générée", "invoice_id", id, "number", inv.Number,
		"intervention_id", interventionID, "total_ttc", inv.TotalTTC)
	return s.repo.Get(ctx, id)
}

func (s *Service) discard(ctx context.Context, id int64, number string) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		s.logger.Error("suppression de la facture orpheline impossible",
			"invoice_id", id, "number", number, "error", err)
	}
}

func buildLines(consumables []interventions.ConsumableRecord, services []interventions.ServiceRecord) []Line {
	lines := make([]Line, 0, len(consumables)+len(services))
	for _, c := range consumables {
		lines = append(lines, Line{
			Kind:        LineKindConsumable,
			ItemID:      c.ItemID,
			Label:       c.Label,
			Qty:         c.Qty,
			Unit:        c.Unit,
			UnitPriceHT: c.UnitPriceHT,
			VATRate:     c.VATRate,
			TotalHT:     c.TotalHT,
			TotalTTC:    c.TotalTTC,
		})
	}
	for _, sv := range services {
		lines = append(lines, Line{
			Kind:        LineKindService,
			Label:       sv.Label,
			Qty:         sv.Qty,
			UnitPriceHT: sv.UnitPriceHT,
			VATRate:     sv.VATRate,
			TotalHT:     sv.TotalHT,
			TotalTTC:    sv.TotalTTC,
		})
	}
	return lines
}

// ChangeStatus applies a lifecycle transition. Paid sets the payment date.
func (s *Service) ChangeStatus(ctx context.Context, id int64, target Status) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(existing.Status, target); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, target, target == StatusPaid)
	})
	if err != nil {
		return nil, fmt.Errorf("invoices: update status %d: %w", id, err)
	}
	s.logger.Info("statut de facture modifié", "invoice_id", id, "from", existing.Status, "to", target)
	return s.repo.Get(ctx, id)
}

// Get loads one invoice.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Invoice, int, error) {
	return s.repo.List(ctx, req)
}
