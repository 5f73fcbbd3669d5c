package payment

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountTolerance is the largest absolute difference accepted between the
// order total and the amount a provider reports.
var AmountTolerance = decimal.RequireFromString("0.01")

// CurrencyPrecision is the number of minor-unit digits providers settle in.
func CurrencyPrecision(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "AMD", "JPY", "KRW":
		return 0
	default:
		return 2
	}
}

// roundingSlack bounds the settlement rounding match, so a provider that
// reports fractions of a whole-unit currency is not credited half a unit.
var roundingSlack = decimal.RequireFromString("0.05")

// AmountsMatch reports whether received settles expected. Amounts within
// AmountTolerance match, as do amounts less than roundingSlack apart that are
// equal once rounded to the currency's settlement precision.
func AmountsMatch(expected, received decimal.Decimal, currency string) bool {
	diff := expected.Sub(received).Abs()
	if diff.LessThanOrEqual(AmountTolerance) {
		return true
	}
	if !diff.LessThan(roundingSlack) {
		return false
	}
	p := CurrencyPrecision(currency)
	return expected.Round(p).Equal(received.Round(p))
}

func CurrenciesMatch(expected, received string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(received))
}

// FormatAmount renders an amount with two decimals, the form every provider
// accepts on initiation.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ParseAmount parses a provider supplied amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, ErrMalformedCallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrMalformedCallback
	}
	return d, nil
}
