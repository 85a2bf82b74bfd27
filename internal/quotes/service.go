package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/inventory"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Quote, error)
	List(ctx context.Context, req ListRequest) ([]Quote, int, error)
}

// StockPort is the inventory surface the quote lifecycle drives.
type StockPort interface {
	ReserveForQuote(ctx context.Context, quote inventory.QuoteRef, lines []inventory.Line) error
	ReleaseForQuote(ctx context.Context, quoteID int64) (int64, error)
	SyncQuotePlanning(ctx context.Context, quote inventory.QuoteRef, lines []inventory.Line, scheduledAt time.Time) error
	CancelQuotePlannedMovements(ctx context.Context, quoteID int64) (int64, error)
}

// InterventionPort is the intervention surface used by conversion.
type InterventionPort interface {
	Create(ctx context.Context, input interventions.CreateInput, actor string) (*interventions.Intervention, error)
	AttachQuoteLines(ctx context.Context, interventionID int64, consumables []interventions.ConsumableRecord, services []interventions.ServiceRecord) (bool, error)
}

// Notifier is told when a quote goes out to the client. Delivery is
// best-effort; failures never block the status change.
type Notifier interface {
	QuoteSent(ctx context.Context, q *Quote)
}

// Service coordinates the quote lifecycle: numbering, totals, status
// transitions with their stock side effects, and conversion.
type Service struct {
	repo          RepositoryPort
	stock         StockPort
	interventions InterventionPort
	policy        PropagationPolicy
	notifier      Notifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, stock StockPort, iv InterventionPort, policy PropagationPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, interventions: iv, policy: policy, logger: logger, now: time.Now}
}

// SetNotifier wires outbound notifications. May stay unset.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// LineInput describes one submitted quote line.
type LineInput struct {
	Type        string  `json:"type"`
	ItemID      *int64  `json:"item_id"`
	Label       string  `json:"label"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	UnitPriceHT float64 `json:"unit_price_ht"`
	DiscountPct float64 `json:"discount_pct"`
	VATRate     float64 `json:"vat_rate"`
	Optional    bool    `json:"optional"`
	Included    bool    `json:"included"`
}

// PackageInput describes one submitted package.
type PackageInput struct {
	Label    string      `json:"label"`
	Selected bool        `json:"selected"`
	Lines    []LineInput `json:"lines"`
}

// SaveInput describes a quote create or update.
type SaveInput struct {
	ClientID       int64          `json:"client_id"`
	Title          string         `json:"title"`
	GlobalDiscount float64        `json:"global_discount_pct"`
	DepositPct     float64        `json:"deposit_pct"`
	ValidUntil     *time.Time     `json:"valid_until"`
	Lines          []LineInput    `json:"lines"`
	Packages       []PackageInput `json:"packages"`
}

func toLine(in LineInput) Line {
	return Line{
		Type:        in.Type,
		ItemID:      in.ItemID,
		Label:       in.Label,
		Qty:         in.Qty,
		Unit:        in.Unit,
		UnitPriceHT: in.UnitPriceHT,
		DiscountPct: in.DiscountPct,
		VATRate:     in.VATRate,
		Optional:    in.Optional,
		Included:    in.Included,
	}
}

func buildQuote(input SaveInput) Quote {
	q := Quote{
		ClientID:       input.ClientID,
		Title:          input.Title,
		GlobalDiscount: input.GlobalDiscount,
		DepositPct:     input.DepositPct,
		ValidUntil:     input.ValidUntil,
	}
	for _, in := range input.Lines {
		q.Lines = append(q.Lines, toLine(in))
	}
	for _, p := range input.Packages {
		pkg := Package{Label: p.Label, Selected: p.Selected}
		for _, in := range p.Lines {
			pkg.Lines = append(pkg.Lines, toLine(in))
		}
		q.Packages = append(q.Packages, pkg)
	}
	return q
}

// Create numbers and stores a new draft. Totals are computed once here and
// stored with the document.
func (s *Service) Create(ctx context.Context, input SaveInput) (*Quote, error) {
	if input.ClientID == 0 {
		return nil, errors.New("quotes: client required")
	}
	q := buildQuote(input)
	q.Status = StatusDraft
	q.ComputeTotals()

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		year := s.now().Year()
		seq, err := tx.NextNumber(ctx, year)
		if err != nil {
			return fmt.Errorf("next quote number: %w", err)
		}
		q.Number = fmt.Sprintf("DEV-%d-%04d", year, seq)

		id, err = tx.Create(ctx, q)
		if err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, id, q.Lines, q.Packages)
	})
	if err != nil {
		return nil, fmt.Errorf("quotes: create: %w", err)
	}
	s.logger.Info("devis créé", "quote_id", id, "number", q.Number)
	return s.repo.Get(ctx, id)
}

// Update rewrites the content of an editable quote and recomputes totals.
func (s *Service) Update(ctx context.Context, id int64, input SaveInput) (*Quote, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.Editable() {
		return nil, fmt.Errorf("quotes: « %s » n'est plus modifiable (statut %s)", existing.Number, existing.Status)
	}

	q := buildQuote(input)
	q.ID = existing.ID
	q.ComputeTotals()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, q); err != nil {
			return err
		}
		return tx.ReplaceLines(ctx, id, q.Lines, q.Packages)
	})
	if err != nil {
		return nil, fmt.Errorf("quotes: update %d: %w", id, err)
	}
	return s.repo.Get(ctx, id)
}

// ChangeStatus applies a lifecycle transition and its stock side effects.
// The status write commits first; reservation errors then surface to the
// caller while the quote stays accepted, and the reserve key is already
// cleaned up for a retry.
func (s *Service) ChangeStatus(ctx context.Context, id int64, target Status) (*Quote, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(existing.Status, target); err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, target)
	})
	if err != nil {
		return nil, fmt.Errorf("quotes: update status %d: %w", id, err)
	}
	s.logger.Info("statut de devis modifié", "quote_id", id, "from", existing.Status, "to", target)

	if s.stock != nil {
		if err := s.applyStockEffects(ctx, existing, target); err != nil {
			return nil, err
		}
	}
	if target == StatusSent && s.notifier != nil {
		s.notifier.QuoteSent(ctx, existing)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) applyStockEffects(ctx context.Context, q *Quote, target Status) error {
	ref := inventory.QuoteRef{ID: q.ID, Number: q.Number}
	stockLines := make([]inventory.Line, 0, len(q.Lines))
	for _, l := range q.StockLines() {
		stockLines = append(stockLines, inventory.Line{ItemID: l.ItemID, Qty: l.Qty})
	}

	switch target {
	case StatusAccepted:
		if len(stockLines) == 0 {
			return nil
		}
		if err := s.stock.ReserveForQuote(ctx, ref, stockLines); err != nil {
			return fmt.Errorf("quotes: reserve stock: %w", err)
		}
	case StatusRefused, StatusCancelled:
		if _, err := s.stock.ReleaseForQuote(ctx, q.ID); err != nil {
			return fmt.Errorf("quotes: release stock: %w", err)
		}
		if _, err := s.stock.CancelQuotePlannedMovements(ctx, q.ID); err != nil {
			return fmt.Errorf("quotes: cancel planned movements: %w", err)
		}
	}
	return nil
}

// ConvertToIntervention creates the job for an accepted quote and
// propagates its lines. A second call returns the existing intervention id
// without writing anything; if line propagation previously failed halfway
// the attach call itself skips when consumables already exist.
func (s *Service) ConvertToIntervention(ctx context.Context, id int64, scheduledAt *time.Time, actor string) (int64, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if q.Status != StatusAccepted {
		return 0, fmt.Errorf("quotes: seul un devis accepté peut être converti (statut %s)", q.Status)
	}
	if q.InterventionID != nil {
		return *q.InterventionID, nil
	}

	iv, err := s.interventions.Create(ctx, interventions.CreateInput{
		ClientID:    q.ClientID,
		QuoteID:     &q.ID,
		Title:       q.Title,
		ScheduledAt: scheduledAt,
	}, actor)
	if err != nil {
		return 0, fmt.Errorf("quotes: create intervention: %w", err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetIntervention(ctx, q.ID, iv.ID)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyConverted) {
			// Lost a race; the stored id wins.
			fresh, getErr := s.repo.Get(ctx, id)
			if getErr == nil && fresh.InterventionID != nil {
				return *fresh.InterventionID, nil
			}
		}
		return 0, fmt.Errorf("quotes: link intervention: %w", err)
	}

	consumables, services := Propagate(q, s.policy)
	attached, err := s.interventions.AttachQuoteLines(ctx, iv.ID, consumables, services)
	if err != nil {
		return 0, fmt.Errorf("quotes: propagate lines: %w", err)
	}
	if attached {
		s.logger.Info("lignes de devis propagées", "quote_id", q.ID, "intervention_id", iv.ID,
			"consumables", len(consumables), "services", len(services))
	}

	if s.stock != nil {
		if lines := q.StockLines(); len(lines) > 0 {
			// Unscheduled conversions stamp the plan with the current time.
			when := s.now()
			if scheduledAt != nil {
				when = *scheduledAt
			}
			invLines := make([]inventory.Line, 0, len(lines))
			for _, l := range lines {
				invLines = append(invLines, inventory.Line{ItemID: l.ItemID, Qty: l.Qty})
			}
			if err := s.stock.SyncQuotePlanning(ctx, inventory.QuoteRef{ID: q.ID, Number: q.Number}, invLines, when); err != nil {
				return 0, fmt.Errorf("quotes: sync planning: %w", err)
			}
		}
	}
	return iv.ID, nil
}

// Reschedule re-syncs the planned movements of a converted quote after its
// intervention moves to a new date.
func (s *Service) Reschedule(ctx context.Context, id int64, scheduledAt time.Time) error {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if q.InterventionID == nil {
		return errors.New("quotes: devis non converti")
	}
	lines := q.StockLines()
	if len(lines) == 0 {
		return nil
	}
	invLines := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		invLines = append(invLines, inventory.Line{ItemID: l.ItemID, Qty: l.Qty})
	}
	return s.stock.SyncQuotePlanning(ctx, inventory.QuoteRef{ID: q.ID, Number: q.Number}, invLines, scheduledAt)
}

// Get loads one quote.
func (s *Service) Get(ctx context.Context, id int64) (*Quote, error) {
	return s.repo.Get(ctx, id)
}

// List returns quotes matching the filter.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Quote, int, error) {
	return s.repo.List(ctx, req)
}
