package emulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWallet_debitAndCredit(t *testing.T) {
	tbl := []struct {
		op     func(w *wallet) error
		cash   float64
		err    error
		failed bool
	}{
		{op: func(w *wallet) error { return w.credit("USDT", dec(200)) }, cash: 1200},
		{op: func(w *wallet) error { return w.debit("USDT", dec(100)) }, cash: 900},
		{op: func(w *wallet) error { return w.debit("USDT", dec(1000)) }, cash: 0},
		{op: func(w *wallet) error { return w.debit("USDT", dec(1001)) }, cash: 1000, err: errInsufficientFunds},
		{op: func(w *wallet) error { return w.debit("BTCUSDT", dec(1)) }, cash: 1000, err: errInsufficientFunds},
		{op: func(w *wallet) error { return w.credit("USDT", dec(-1)) }, cash: 1000, failed: true},
		{op: func(w *wallet) error { return w.debit("USDT", dec(-1)) }, cash: 1000, failed: true},
		{op: func(w *wallet) error { return w.reserve("USDT", dec(-1)) }, cash: 1000, failed: true},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			w := newWallet("USDT", dec(1000))

			err := c.op(w)
			switch {
			case c.err != nil:
				require.ErrorIs(t, err, c.err)
			case c.failed:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
			assert.True(t, dec(c.cash).Equal(w.available("USDT")), "got %s", w.available("USDT"))
		})
	}
}

func TestWallet_reservations(t *testing.T) {
	w := newWallet("USDT", dec(1000))
	require.NoError(t, w.credit("BTCUSDT", dec(40)))

	require.NoError(t, w.reserve("BTCUSDT", dec(30)))
	assert.True(t, dec(10).Equal(w.available("BTCUSDT")))
	assert.True(t, dec(40).Equal(w.total["BTCUSDT"]))

	assert.ErrorIs(t, w.reserve("BTCUSDT", dec(11)), errInsufficientFunds)
	assert.ErrorIs(t, w.debit("BTCUSDT", dec(11)), errInsufficientFunds)
	require.NoError(t, w.debit("BTCUSDT", dec(10)))

	w.release("BTCUSDT", dec(30))
	assert.True(t, dec(30).Equal(w.available("BTCUSDT")))

	w.release("BTCUSDT", dec(5))
	assert.True(t, w.reserved["BTCUSDT"].IsZero(), "release never goes below zero")
}
