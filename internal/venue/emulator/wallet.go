package emulator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var errInsufficientFunds = errors.New("not enough funds")

// wallet holds the quote cash and the bought quantity of each symbol. A
// reserved amount backs a resting order: it still counts in the total but
// cannot be spent, sold or reserved again. The emulator lock guards it.
type wallet struct {
	total    map[string]decimal.Decimal
	reserved map[string]decimal.Decimal
}

func newWallet(quote string, cash decimal.Decimal) *wallet {
	return &wallet{
		total:    map[string]decimal.Decimal{quote: cash},
		reserved: make(map[string]decimal.Decimal),
	}
}

func (w *wallet) available(asset string) decimal.Decimal {
	return w.total[asset].Sub(w.reserved[asset])
}

func (w *wallet) credit(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("cannot credit negative %s amount %s", asset, amount)
	}

	w.total[asset] = w.total[asset].Add(amount)
	return nil
}

// debit takes amount out of the unreserved part of asset.
func (w *wallet) debit(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("cannot debit negative %s amount %s", asset, amount)
	}
	if amount.GreaterThan(w.available(asset)) {
		return fmt.Errorf("cannot debit %s %s: %w", amount, asset, errInsufficientFunds)
	}

	w.total[asset] = w.total[asset].Sub(amount)
	return nil
}

func (w *wallet) reserve(asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("cannot reserve negative %s amount %s", asset, amount)
	}
	if amount.GreaterThan(w.available(asset)) {
		return fmt.Errorf("cannot reserve %s %s: %w", amount, asset, errInsufficientFunds)
	}

	w.reserved[asset] = w.reserved[asset].Add(amount)
	return nil
}

func (w *wallet) release(asset string, amount decimal.Decimal) {
	w.reserved[asset] = decimal.Max(decimal.Zero, w.reserved[asset].Sub(amount))
}
