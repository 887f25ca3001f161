package billing

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Round2 rounds a currency amount to cents, half away from zero.
// Negative zero is normalized to zero.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	if f == 0 {
		return 0
	}
	return f
}

// paymentsFor returns the payments tagged with the given month label.
func paymentsFor(payments []Payment, month string) []Payment {
	return lo.Filter(payments, func(p Payment, _ int) bool {
		return p.Month == month
	})
}

// sumPaid adds up AmountPaid.
func sumPaid(payments []Payment) float64 {
	return lo.SumBy(payments, func(p Payment) float64 {
		return p.AmountPaid
	})
}
