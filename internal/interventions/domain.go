package interventions

import (
	"fmt"
	"time"

	"github.com/gestix-erp/gestix/internal/shared"
)

// Status enumerates intervention lifecycle states. Values match what the
// client application displays and what historic rows already store.
type Status string

const (
	StatusToPlan     Status = "À planifier"
	StatusTodo       Status = "À faire"
	StatusInProgress Status = "En cours"
	StatusDone       Status = "Terminée"
	StatusCancelled  Status = "Annulée"
)

// Transitions is the single source of truth for allowed status changes.
// Terminée is terminal. Annulée can be re-opened, which deviates from the
// usual cancelled-is-final rule on purpose: field jobs get cancelled and
// rescheduled all the time.
var Transitions = map[Status][]Status{
	StatusToPlan:     {StatusTodo, StatusInProgress, StatusCancelled},
	StatusTodo:       {StatusInProgress, StatusToPlan, StatusCancelled},
	StatusInProgress: {StatusDone, StatusTodo, StatusCancelled},
	StatusDone:       {},
	StatusCancelled:  {StatusToPlan, StatusTodo},
}

// Known reports whether s is a registered status.
func Known(s Status) bool {
	_, ok := Transitions[s]
	return ok
}

// CanTransition reports whether from may move to target.
func CanTransition(from, target Status) bool {
	for _, next := range Transitions[from] {
		if next == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns a user-facing error when the change is not in
// the transition table. Every status write goes through here; nothing is
// applied silently.
func ValidateTransition(from, target Status) error {
	if !Known(target) {
		return fmt.Errorf("%w: statut inconnu %q", shared.ErrInvalidTransition, target)
	}
	if !CanTransition(from, target) {
		return fmt.Errorf("%w: %s → %s", shared.ErrInvalidTransition, from, target)
	}
	return nil
}

// Intervention is a scheduled field-service job at a client site.
type Intervention struct {
	ID          int64      `json:"id"`
	ClientID    int64      `json:"client_id"`
	QuoteID     *int64     `json:"quote_id,omitempty"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	InvoiceID   *int64     `json:"invoice_id,omitempty"`
	GPSLat      *float64   `json:"gps_lat,omitempty"`
	GPSLng      *float64   `json:"gps_lng,omitempty"`
	SignRef     *string    `json:"signature_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReadOnly reports whether the intervention can no longer be mutated.
func (iv *Intervention) ReadOnly() bool {
	return iv != nil && iv.Status == StatusDone
}

// ConsumableRecord is a consumable or material used on an intervention,
// typically propagated from the accepted quote.
type ConsumableRecord struct {
	ID             int64   `json:"id"`
	InterventionID int64   `json:"intervention_id"`
	ItemID         *int64  `json:"item_id,omitempty"`
	Label          string  `json:"label"`
	Qty            float64 `json:"qty"`
	Unit           string  `json:"unit"`
	UnitPriceHT    float64 `json:"unit_price_ht"`
	VATRate        float64 `json:"vat_rate"`
	TotalHT        float64 `json:"total_ht"`
	TotalTTC       float64 `json:"total_ttc"`
}

// ServiceRecord is a labour/service line performed on an intervention.
type ServiceRecord struct {
	ID             int64   `json:"id"`
	InterventionID int64   `json:"intervention_id"`
	Label          string  `json:"label"`
	Qty            float64 `json:"qty"`
	UnitPriceHT    float64 `json:"unit_price_ht"`
	VATRate        float64 `json:"vat_rate"`
	TotalHT        float64 `json:"total_ht"`
	TotalTTC       float64 `json:"total_ttc"`
}
