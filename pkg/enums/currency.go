package enums

import (
	"slices"
	"strings"
)

// Currency is the ISO 4217 code a payment link settles in. Links are USD only.
type Currency string

const CurrencyUSD Currency = "USD"

var validCurrencies = []Currency{CurrencyUSD}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return slices.Contains(validCurrencies, c) }

// ParseCurrency ignores case and surrounding space.
func ParseCurrency(value string) (Currency, error) {
	return parse("currency", strings.ToUpper(strings.TrimSpace(value)), validCurrencies)
}
