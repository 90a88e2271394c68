package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

const defaultCurrency = "eur"

// formatMinor renders an amount in minor units as "250.00 EUR".
func formatMinor(amount int64, currency string) string {
	return formatDecimal(decimal.New(amount, -2), currency)
}

func formatDecimal(d decimal.Decimal, currency string) string {
	if currency == "" {
		currency = defaultCurrency
	}
	return d.StringFixed(2) + " " + strings.ToUpper(currency)
}
