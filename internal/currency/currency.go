// Package currency formats monetary amounts for display.
package currency

import (
	"math"

	"github.com/dustin/go-humanize"
)

const DefaultSymbol = "$"

func Format(amount float64) string {
	return FormatWith(DefaultSymbol, amount)
}

// FormatWith renders amount with thousands separators and two decimals,
// placing the sign before the symbol: -$1,234.50.
func FormatWith(symbol string, amount float64) string {
	cents := math.Round(amount * 100)
	sign := ""
	if cents < 0 {
		sign = "-"
	}

	return sign + symbol + humanize.FormatFloat("#,###.##", math.Abs(cents)/100)
}
