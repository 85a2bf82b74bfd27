// Package billing computes document line and header amounts for quotes and
// invoices. All functions are pure; invalid numeric inputs coerce to zero
// and no errors are returned.
package billing

import (
	"math"

	"github.com/gestix-erp/gestix/internal/shared"
)

// LineAmounts carries the computed amounts of a single document line.
type LineAmounts struct {
	TotalHT  float64
	TotalVAT float64
	TotalTTC float64
}

// Line is the billing view of a document line.
type Line struct {
	Qty         float64
	UnitPriceHT float64
	DiscountPct float64
	VATRate     float64

	// Optional lines are excluded from totals unless marked included.
	Optional bool
	Included bool
}

// Package groups a set of lines sold as one selectable bundle.
type Package struct {
	Selected bool
	Lines    []Line
}

// Totals aggregates a whole document.
type Totals struct {
	TotalHT           float64
	TotalVAT          float64
	TotalTTC          float64
	GlobalDiscountPct float64
	DepositAmount     float64
	BalanceDue        float64
}

// LineTotal computes HT, VAT and TTC amounts for one line. Each step is
// rounded to the cent so stored values match what the client displays.
func LineTotal(qty, unitPriceHT, discountPct, vatRate float64) LineAmounts {
	qty = sanitize(qty)
	unitPriceHT = sanitize(unitPriceHT)
	discountPct = sanitize(discountPct)
	vatRate = sanitize(vatRate)

	totalHT := shared.RoundCents(qty * unitPriceHT * (1 - discountPct/100))
	totalVAT := shared.RoundCents(totalHT * vatRate / 100)
	return LineAmounts{
		TotalHT:  totalHT,
		TotalVAT: totalVAT,
		TotalTTC: totalHT + totalVAT,
	}
}

// DocumentTotals sums line amounts and applies the document-level discount.
// The global discount reduces the HT sum; the VAT sum is then rescaled by
// the post-discount/pre-discount HT ratio rather than recomputed per rate
// bucket. When the pre-discount HT is zero the ratio is one.
func DocumentTotals(lines []Line, globalDiscountPct, depositAmount float64) Totals {
	globalDiscountPct = sanitize(globalDiscountPct)
	depositAmount = sanitize(depositAmount)

	var sumHT, sumVAT float64
	for _, line := range lines {
		amounts := LineTotal(line.Qty, line.UnitPriceHT, line.DiscountPct, line.VATRate)
		sumHT += amounts.TotalHT
		sumVAT += amounts.TotalVAT
	}

	discountedHT := shared.RoundCents(sumHT * (1 - globalDiscountPct/100))
	ratio := 1.0
	if sumHT != 0 {
		ratio = discountedHT / sumHT
	}
	scaledVAT := shared.RoundCents(sumVAT * ratio)
	totalTTC := discountedHT + scaledVAT

	return Totals{
		TotalHT:           discountedHT,
		TotalVAT:          scaledVAT,
		TotalTTC:          totalTTC,
		GlobalDiscountPct: globalDiscountPct,
		DepositAmount:     depositAmount,
		BalanceDue:        shared.RoundCents(totalTTC - depositAmount),
	}
}

// DocumentTotalsWithPackages filters out optional lines that were not
// included and folds the line sets of every selected package into the sum.
func DocumentTotalsWithPackages(lines []Line, packages []Package, globalDiscountPct, depositAmount float64) Totals {
	effective := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.Optional && !line.Included {
			continue
		}
		effective = append(effective, line)
	}
	for _, pkg := range packages {
		if !pkg.Selected {
			continue
		}
		effective = append(effective, pkg.Lines...)
	}
	return DocumentTotals(effective, globalDiscountPct, depositAmount)
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
