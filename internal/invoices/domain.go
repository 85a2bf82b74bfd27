package invoices

import (
	"errors"
	"fmt"
	"time"

	"github.com/gestix-erp/gestix/internal/shared"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "Brouillon"
	StatusSent      Status = "Envoyée"
	StatusPaid      Status = "Payée"
	StatusCancelled Status = "Annulée"
)

// Transitions is the allowed-transition table. Paid invoices are final;
// cancellation is only possible before payment.
var Transitions = map[Status][]Status{
	StatusDraft:     {StatusSent, StatusCancelled},
	StatusSent:      {StatusPaid, StatusCancelled},
	StatusPaid:      {},
	StatusCancelled: {},
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

// Line is one invoice line. Amounts are copied from the source records at
// generation time, never recomputed afterwards.
type Line struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"invoice_id"`
	Kind        string  `json:"kind"`
	ItemID      *int64  `json:"item_id,omitempty"`
	Label       string  `json:"label"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	UnitPriceHT float64 `json:"unit_price_ht"`
	VATRate     float64 `json:"vat_rate"`
	TotalHT     float64 `json:"total_ht"`
	TotalTTC    float64 `json:"total_ttc"`
}

// Line kinds.
const (
	LineKindConsumable = "fourniture"
	LineKindService    = "main_doeuvre"
)

// Invoice is the billing document generated from a finished intervention.
type Invoice struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	ClientID       int64      `json:"client_id"`
	InterventionID *int64     `json:"intervention_id,omitempty"`
	Status         Status     `json:"status"`
	TotalHT        float64    `json:"total_ht"`
	TotalVAT       float64    `json:"total_vat"`
	TotalTTC       float64    `json:"total_ttc"`
	IssuedAt       time.Time  `json:"issued_at"`
	DueAt          time.Time  `json:"due_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Lines []Line `json:"lines,omitempty"`
}

// ErrAlreadyInvoiced indicates the intervention was billed before.
var ErrAlreadyInvoiced = errors.New("intervention already invoiced")
