package quotes

import (
	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/shared"
)

// PropagationPolicy controls how quote lines become intervention records.
// With ApplyLineDiscounts off the unit price carries over as quoted and the
// line discount is dropped; the invoice built later from the intervention
// then bills the undiscounted price. Billing directly from the quote keeps
// the discount.
type PropagationPolicy struct {
	ApplyLineDiscounts bool
}

func (p PropagationPolicy) unitPrice(l Line) float64 {
	if p.ApplyLineDiscounts {
		return shared.RoundCents(l.UnitPriceHT * (1 - l.DiscountPct/100))
	}
	return l.UnitPriceHT
}

// Propagate partitions the counted lines of the quote into consumable and
// service records. Supply lines, meaning typed "fourniture" or carrying a
// stock item reference, become consumables; everything else is labour.
func Propagate(q *Quote, policy PropagationPolicy) (consumables []interventions.ConsumableRecord, services []interventions.ServiceRecord) {
	for _, l := range q.CountedLines() {
		unitPrice := policy.unitPrice(l)
		totalHT := shared.RoundCents(l.Qty * unitPrice)
		totalTTC := shared.RoundCents(totalHT * (1 + l.VATRate/100))

		if l.IsSupply() {
			consumables = append(consumables, interventions.ConsumableRecord{
				ItemID:      l.ItemID,
				Label:       l.Label,
				Qty:         l.Qty,
				Unit:        l.Unit,
				UnitPriceHT: unitPrice,
				VATRate:     l.VATRate,
				TotalHT:     totalHT,
				TotalTTC:    totalTTC,
			})
			continue
		}
		services = append(services, interventions.ServiceRecord{
			Label:       l.Label,
			Qty:         l.Qty,
			UnitPriceHT: unitPrice,
			VATRate:     l.VATRate,
			TotalHT:     totalHT,
			TotalTTC:    totalTTC,
		})
	}
	return consumables, services
}

// StockLines projects the supply lines with an item reference into the
// inventory view used for reservations and planned movements.
func (q *Quote) StockLines() []StockLine {
	out := []StockLine{}
	for _, l := range q.CountedLines() {
		if l.ItemID == nil || l.Qty <= 0 {
			continue
		}
		out = append(out, StockLine{ItemID: *l.ItemID, Qty: l.Qty})
	}
	return out
}

// StockLine is the stock-relevant projection of a quote line.
type StockLine struct {
	ItemID int64
	Qty    float64
}
