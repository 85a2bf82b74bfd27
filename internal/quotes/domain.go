package quotes

import (
	"fmt"
	"time"

	"github.com/gestix-erp/gestix/internal/billing"
	"github.com/gestix-erp/gestix/internal/shared"
)

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft     Status = "Brouillon"
	StatusSent      Status = "Envoyé"
	StatusAccepted  Status = "Accepté"
	StatusRefused   Status = "Refusé"
	StatusCancelled Status = "Annulé"
)

// Transitions is the allowed-transition table. A refused quote can be
// reworked and sent again; an accepted quote can still be refused or
// cancelled, which releases its stock holds. A cancelled quote reopens
// only as a draft.
var Transitions = map[Status][]Status{
	StatusDraft:     {StatusSent, StatusCancelled},
	StatusSent:      {StatusAccepted, StatusRefused, StatusCancelled},
	StatusAccepted:  {StatusRefused, StatusCancelled},
	StatusRefused:   {StatusSent},
	StatusCancelled: {StatusDraft},
}

// Known reports whether the status value exists.
func Known(s Status) bool {
	_, ok := Transitions[s]
	return ok
}

// CanTransition reports whether from→to is listed.
func CanTransition(from, to Status) bool {
	for _, allowed := range Transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error when from→to is not allowed.
func ValidateTransition(from, to Status) error {
	if !Known(to) {
		return fmt.Errorf("%w: statut inconnu « %s »", shared.ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: passage « %s » → « %s » refusé", shared.ErrInvalidTransition, from, to)
	}
	return nil
}

// Line type tags. Untyped lines without an item reference count as labour.
const (
	LineTypeSupply = "fourniture"
	LineTypeLabour = "main_doeuvre"
)

// Line is one quote line. Stored totals are the rounded amounts computed
// at write time; they are never recomputed on read.
type Line struct {
	ID          int64   `json:"id"`
	QuoteID     int64   `json:"quote_id"`
	PackageID   *int64  `json:"package_id,omitempty"`
	Type        string  `json:"type"`
	ItemID      *int64  `json:"item_id,omitempty"`
	Label       string  `json:"label"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	UnitPriceHT float64 `json:"unit_price_ht"`
	DiscountPct float64 `json:"discount_pct"`
	VATRate     float64 `json:"vat_rate"`
	Optional    bool    `json:"optional"`
	Included    bool    `json:"included"`
	TotalHT     float64 `json:"total_ht"`
	TotalVAT    float64 `json:"total_vat"`
	TotalTTC    float64 `json:"total_ttc"`
}

// IsSupply reports whether the line references physical stock.
func (l Line) IsSupply() bool {
	return l.Type == LineTypeSupply || l.ItemID != nil
}

// Counted reports whether the line enters the totals of the document.
func (l Line) Counted() bool {
	return !l.Optional || l.Included
}

// Package groups alternative lines. Only selected packages count.
type Package struct {
	ID       int64  `json:"id"`
	QuoteID  int64  `json:"quote_id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
	Lines    []Line `json:"lines"`
}

// Quote is the commercial document.
type Quote struct {
	ID              int64      `json:"id"`
	Number          string     `json:"number"`
	ClientID        int64      `json:"client_id"`
	Title           string     `json:"title"`
	Status          Status     `json:"status"`
	GlobalDiscount  float64    `json:"global_discount_pct"`
	DepositPct      float64    `json:"deposit_pct"`
	TotalHT         float64    `json:"total_ht"`
	TotalVAT        float64    `json:"total_vat"`
	TotalTTC        float64    `json:"total_ttc"`
	DepositAmount   float64    `json:"deposit_amount"`
	BalanceDue      float64    `json:"balance_due"`
	InterventionID  *int64     `json:"intervention_id,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Lines    []Line    `json:"lines,omitempty"`
	Packages []Package `json:"packages,omitempty"`
}

// Editable reports whether the document content may still change.
func (q *Quote) Editable() bool {
	return q.Status == StatusDraft || q.Status == StatusRefused
}

// billingLine converts to the calculator representation.
func billingLine(l Line) billing.Line {
	return billing.Line{
		Qty:         l.Qty,
		UnitPriceHT: l.UnitPriceHT,
		DiscountPct: l.DiscountPct,
		VATRate:     l.VATRate,
		Optional:    l.Optional,
		Included:    l.Included,
	}
}

// ComputeTotals fills line amounts and document totals in place.
func (q *Quote) ComputeTotals() {
	for i := range q.Lines {
		amounts := billing.LineTotal(q.Lines[i].Qty, q.Lines[i].UnitPriceHT, q.Lines[i].DiscountPct, q.Lines[i].VATRate)
		q.Lines[i].TotalHT = amounts.TotalHT
		q.Lines[i].TotalVAT = amounts.TotalVAT
		q.Lines[i].TotalTTC = amounts.TotalTTC
	}
	for pi := range q.Packages {
		for i := range q.Packages[pi].Lines {
			l := &q.Packages[pi].Lines[i]
			amounts := billing.LineTotal(l.Qty, l.UnitPriceHT, l.DiscountPct, l.VATRate)
			l.TotalHT = amounts.TotalHT
			l.TotalVAT = amounts.TotalVAT
			l.TotalTTC = amounts.TotalTTC
		}
	}

	bLines := make([]billing.Line, 0, len(q.Lines))
	for _, l := range q.Lines {
		bLines = append(bLines, billingLine(l))
	}
	bPackages := make([]billing.Package, 0, len(q.Packages))
	for _, p := range q.Packages {
		bp := billing.Package{Selected: p.Selected, Lines: make([]billing.Line, 0, len(p.Lines))}
		for _, l := range p.Lines {
			bp.Lines = append(bp.Lines, billingLine(l))
		}
		bPackages = append(bPackages, bp)
	}

	totals := billing.DocumentTotalsWithPackages(bLines, bPackages, q.GlobalDiscount, 0)
	q.TotalHT = totals.TotalHT
	q.TotalVAT = totals.TotalVAT
	q.TotalTTC = totals.TotalTTC
	q.DepositAmount = shared.RoundCents(q.TotalTTC * q.DepositPct / 100)
	q.BalanceDue = shared.RoundCents(q.TotalTTC - q.DepositAmount)
}

// CountedLines returns the lines entering totals. Selected packages fold
// in wholesale, matching the totals computation.
func (q *Quote) CountedLines() []Line {
	out := []Line{}
	for _, l := range q.Lines {
		if l.Counted() {
			out = append(out, l)
		}
	}
	for _, p := range q.Packages {
		if !p.Selected {
			continue
		}
		out = append(out, p.Lines...)
	}
	return out
}
