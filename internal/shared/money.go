package shared

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var frPrinter = message.NewPrinter(language.French)

// RoundCents rounds an amount to two decimal places. Document totals are
// rounded at every step so stored values match currency display exactly.
func RoundCents(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

// FormatEUR renders an amount for user-facing log details, French style
// (space-grouped thousands, comma decimal separator).
func FormatEUR(v float64) string {
	return frPrinter.Sprintf("%.2f €", RoundCents(v))
}
