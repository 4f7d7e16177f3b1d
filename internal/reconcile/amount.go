package reconcile

import (
	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/shopspring/decimal"
)

// FromMinor converts a provider amount in minor units into a decimal in the
// currency's major unit.
func FromMinor(amount int64, currency enums.Currency) decimal.Decimal {
	return decimal.New(amount, -currency.Exponent())
}

// sinkValue renders money for the analytics sink, which expects a JSON number.
func sinkValue(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
