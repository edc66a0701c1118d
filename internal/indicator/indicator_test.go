package indicator

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var na = math.NaN()

func requireValues(t *testing.T, expected []float64, actual Values, epsilon float64) {
	t.Helper()
	require.Len(t, actual, len(expected))

	for i, e := range expected {
		if math.IsNaN(e) {
			assert.True(t, actual[i].IsNone(), "expected undefined at %d", i)
			continue
		}

		require.True(t, actual[i].IsSome(), "expected value at %d", i)
		if math.Abs(actual[i].Unwrap()-e) > epsilon {
			t.Errorf("invalid component at %d: expected: %f got: %f", i, e, actual[i].Unwrap())
		}
	}
}

func TestSMA(t *testing.T) {
	tbl := []struct {
		data []float64
		w    int
		out  []float64
	}{
		{data: []float64{1, 2, 3, 4, 5}, w: 3, out: []float64{na, na, 2, 3, 4}},
		{data: []float64{1, 2}, w: 3, out: []float64{na, na}},
		{data: []float64{4, 8}, w: 1, out: []float64{4, 8}},
		{data: []float64{4, 8}, w: 0, out: []float64{na, na}},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			requireValues(t, c.out, SMA(c.data, c.w), 1e-9)
		})
	}
}

func TestRollingStd(t *testing.T) {
	requireValues(t, []float64{na, na, 1, 1.5275}, RollingStd([]float64{1, 2, 3, 5}, 3), 1e-4)
	requireValues(t, []float64{na, na}, RollingStd([]float64{1, 2}, 1), 0)
}

func TestRollingMaxMin(t *testing.T) {
	data := []float64{3, 1, 4, 1, 5}
	requireValues(t, []float64{na, 3, 4, 4, 5}, RollingMax(data, 2), 0)
	requireValues(t, []float64{na, 1, 1, 1, 1}, RollingMin(data, 2), 0)
}

func TestZScore(t *testing.T) {
	requireValues(t, []float64{na, na, 1}, ZScore([]float64{1, 2, 3}, 3), 1e-9)
	requireValues(t, []float64{na, na, na}, ZScore([]float64{5, 5, 5}, 3), 0)
}

func TestEMA(t *testing.T) {
	tbl := []struct {
		data    []float64
		ema     []float64
		period  int
		epsilon float64
	}{
		{
			data:    []float64{2, 4, 6, 8, 12, 14, 16, 18, 20},
			ema:     []float64{na, 3.333, 5.111, 7.037, 10.346, 12.782, 14.927, 16.976, 18.992},
			period:  2,
			epsilon: 0.001,
		},
		{
			data:    []float64{6, 7, 11, 4, 5, 6, 10, 12, 7, 13},
			ema:     []float64{na, na, 8.75, 6.375, 5.688, 5.844, 7.922, 9.961, 8.48, 10.74},
			period:  3,
			epsilon: 0.001,
		},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			requireValues(t, c.ema, EMA(c.data, c.period), c.epsilon)
		})
	}
}

func TestRSI(t *testing.T) {
	tbl := []struct {
		data   []float64
		period int
		out    []float64
	}{
		{data: []float64{1, 2, 3, 2, 3}, period: 2, out: []float64{na, na, 100, 50, 50}},
		{data: []float64{1, 1, 1}, period: 2, out: []float64{na, na, na}},
		{data: []float64{3, 2, 1}, period: 2, out: []float64{na, na, 0}},
		{data: []float64{1}, period: 2, out: []float64{na}},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			requireValues(t, c.out, RSI(c.data, c.period), 1e-9)
		})
	}
}

func TestATR(t *testing.T) {
	high := []float64{10, 12, 11}
	low := []float64{8, 9, 9}
	closes := []float64{9, 11, 10}

	requireValues(t, []float64{na, 2.5, 2.5}, ATR(high, low, closes, 2), 1e-9)
}

func TestMACD(t *testing.T) {
	res := MACD([]float64{1, 2, 3, 4}, 2, 3, 2)

	requireValues(t, []float64{na, na, 0.3056, 0.3935}, res.MACD, 1e-3)
	requireValues(t, []float64{na, na, na, 0.3642}, res.Signal, 1e-3)
}

func TestBollinger(t *testing.T) {
	res := Bollinger([]float64{1, 2, 3}, 3, 2)

	requireValues(t, []float64{na, na, 2}, res.Middle, 1e-9)
	requireValues(t, []float64{na, na, 4}, res.Upper, 1e-9)
	requireValues(t, []float64{na, na, 0}, res.Lower, 1e-9)
}

func TestCausal(t *testing.T) {
	data := []float64{5, 7, 6, 9, 12, 11, 10, 14, 13, 15}
	full := SMA(data, 3)
	fullRSI := RSI(data, 3)

	for n := 1; n <= len(data); n++ {
		prefix := SMA(data[:n], 3)
		prefixRSI := RSI(data[:n], 3)
		for i := 0; i < n; i++ {
			assert.Equal(t, full[i], prefix[i], "sma row %d with %d rows", i, n)
			assert.Equal(t, fullRSI[i], prefixRSI[i], "rsi row %d with %d rows", i, n)
		}
	}
}
