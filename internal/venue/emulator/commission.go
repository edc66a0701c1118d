package emulator

import "github.com/shopspring/decimal"

type commissionCharger interface {
	ApplyOnBuy(decimal.Decimal) decimal.Decimal
	ApplyOnSell(decimal.Decimal) decimal.Decimal
}

func newCommission(buyPct, sellPct float64) commissionCharger {
	if buyPct == 0 && sellPct == 0 {
		return noCommission{}
	}

	return newFixedRateCommission(buyPct, sellPct)
}

type fixedRateCommission struct {
	buyFactor  decimal.Decimal
	sellFactor decimal.Decimal
}

func newFixedRateCommission(buyPct, sellPct float64) *fixedRateCommission {
	return &fixedRateCommission{
		buyFactor:  decimal.NewFromFloat(1 - buyPct),
		sellFactor: decimal.NewFromFloat(1 - sellPct),
	}
}

func (c *fixedRateCommission) ApplyOnBuy(sum decimal.Decimal) decimal.Decimal {
	return sum.Mul(c.buyFactor)
}

func (c *fixedRateCommission) ApplyOnSell(sum decimal.Decimal) decimal.Decimal {
	return sum.Mul(c.sellFactor)
}

type noCommission struct{}

func (noCommission) ApplyOnBuy(sum decimal.Decimal) decimal.Decimal {
	return sum
}

func (noCommission) ApplyOnSell(sum decimal.Decimal) decimal.Decimal {
	return sum
}

// buyCost is the quote amount withdrawn for buying: notional plus the fee the
// charger would have taken out of it.
func buyCost(c commissionCharger, notional decimal.Decimal) decimal.Decimal {
	fee := notional.Sub(c.ApplyOnBuy(notional))
	return notional.Add(fee)
}
