package billing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTotalDiscountAndVAT(t *testing.T) {
	// 2 x 100 with 10% discount and 20% VAT.
	amounts := LineTotal(2, 100, 10, 20)
	assert.Equal(t, 180.00, amounts.TotalHT)
	assert.Equal(t, 36.00, amounts.TotalVAT)
	assert.Equal(t, 216.00, amounts.TotalTTC)
}

func TestLineTotalInvariants(t *testing.T) {
	cases := []struct {
		qty, price, discount, vat float64
	}{
		{0, 0, 0, 0},
		{1, 99.99, 0, 20},
		{3, 33.33, 15, 5.5},
		{7, 12.345, 100, 10},
		{2.5, 40, 33.33, 20},
	}
	for _, tc := range cases {
		amounts := LineTotal(tc.qty, tc.price, tc.discount, tc.vat)
		assert.Equal(t, amounts.TotalHT+amounts.TotalVAT, amounts.TotalTTC)
		assert.LessOrEqual(t, amounts.TotalHT, tc.qty*tc.price+0.005)
		assert.GreaterOrEqual(t, amounts.TotalVAT, 0.0)
	}
}

func TestLineTotalCoercesInvalidInputs(t *testing.T) {
	amounts := LineTotal(math.NaN(), math.Inf(1), math.NaN(), math.Inf(-1))
	assert.Equal(t, LineAmounts{}, amounts)
}

func TestDocumentTotalsEmpty(t *testing.T) {
	totals := DocumentTotals(nil, 25, 100)
	assert.Equal(t, 0.0, totals.TotalHT)
	assert.Equal(t, 0.0, totals.TotalVAT)
	assert.Equal(t, 0.0, totals.TotalTTC)
	assert.Equal(t, -100.0, totals.BalanceDue)
}

func TestDocumentTotalsGlobalDiscountScalesVAT(t *testing.T) {
	// Lines sum to HT=1000, VAT=200.
	lines := []Line{
		{Qty: 5, UnitPriceHT: 100, VATRate: 20},
		{Qty: 1, UnitPriceHT: 500, VATRate: 20},
	}

	totals := DocumentTotals(lines, 10, 0)
	assert.Equal(t, 900.00, totals.TotalHT)
	assert.Equal(t, 180.00, totals.TotalVAT)
	assert.Equal(t, 1080.00, totals.TotalTTC)
}

func TestDocumentTotalsZeroDiscountKeepsLineVAT(t *testing.T) {
	lines := []Line{
		{Qty: 2, UnitPriceHT: 100, DiscountPct: 10, VATRate: 20},
		{Qty: 1, UnitPriceHT: 50, VATRate: 5.5},
	}
	var wantVAT float64
	for _, l := range lines {
		wantVAT += LineTotal(l.Qty, l.UnitPriceHT, l.DiscountPct, l.VATRate).TotalVAT
	}

	totals := DocumentTotals(lines, 0, 0)
	assert.Equal(t, wantVAT, totals.TotalVAT)
}

func TestDocumentTotalsDeposit(t *testing.T) {
	lines := []Line{{Qty: 1, UnitPriceHT: 1000, VATRate: 20}}
	totals := DocumentTotals(lines, 0, 300)
	assert.Equal(t, 1200.00, totals.TotalTTC)
	assert.Equal(t, 900.00, totals.BalanceDue)
}

func TestDocumentTotalsWithPackages(t *testing.T) {
	lines := []Line{
		{Qty: 1, UnitPriceHT: 100, VATRate: 20},
		{Qty: 1, UnitPriceHT: 999, VATRate: 20, Optional: true}, // not included
		{Qty: 1, UnitPriceHT: 50, VATRate: 20, Optional: true, Included: true},
	}
	packages := []Package{
		{Selected: true, Lines: []Line{{Qty: 2, UnitPriceHT: 25, VATRate: 20}}},
		{Selected: false, Lines: []Line{{Qty: 9, UnitPriceHT: 1000, VATRate: 20}}},
	}

	totals := DocumentTotalsWithPackages(lines, packages, 0, 0)
	require.Equal(t, 200.00, totals.TotalHT) // 100 + 50 + 50
	assert.Equal(t, 40.00, totals.TotalVAT)
	assert.Equal(t, 240.00, totals.TotalTTC)
}

func TestDocumentTotalsRoundingPerStep(t *testing.T) {
	// 3 x 33.333 = 99.999 -> rounded per line to 100.00 before VAT.
	lines := []Line{{Qty: 3, UnitPriceHT: 33.333, VATRate: 20}}
	totals := DocumentTotals(lines, 0, 0)
	assert.Equal(t, 100.00, totals.TotalHT)
	assert.Equal(t, 20.00, totals.TotalVAT)
}
