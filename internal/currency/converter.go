package currency

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Converter converts submitted amounts into a company's base currency
// using a configured rate table. Rates are expressed as units of base
// currency per one unit of the foreign currency.
type Converter struct {
	rates  map[string]float64
	logger *zap.Logger
}

// NewConverter creates a converter from a rate table keyed by upper-case
// ISO currency codes
func NewConverter(rates map[string]float64, logger *zap.Logger) *Converter {
	normalized := make(map[string]float64, len(rates))
	for code, rate := range rates {
		normalized[strings.ToUpper(code)] = rate
	}
	return &Converter{rates: normalized, logger: logger}
}

// ToBase converts an amount in the given currency into the base
// currency, returning the converted amount and the rate applied.
// Same-currency conversion is the identity.
func (c *Converter) ToBase(amount float64, currency, base string) (float64, float64, error) {
	currency = strings.ToUpper(currency)
	base = strings.ToUpper(base)

	if currency == base {
		return amount, 1, nil
	}

	rate, ok := c.rates[currency]
	if !ok || rate <= 0 {
		return 0, 0, fmt.Errorf("no exchange rate configured for %s", currency)
	}

	baseRate, ok := c.rates[base]
	if !ok || baseRate <= 0 {
		return 0, 0, fmt.Errorf("no exchange rate configured for base currency %s", base)
	}

	effective := rate / baseRate
	converted := amount * effective

	c.logger.Debug("Converted currency",
		zap.String("from", currency),
		zap.String("to", base),
		zap.Float64("rate", effective))

	return converted, effective, nil
}
