package indicator

import (
	"math"

	"github.com/moznion/go-optional"
)

// EMA is the exponential moving average with smoothing 2/(period+1), seeded by
// the first value. The first period-1 rows are warm-up.
func EMA(data []float64, period int) Values {
	in := make(Values, len(data))
	for i, v := range data {
		in[i] = optional.Some(v)
	}

	return ema(in, period)
}

func ema(data Values, period int) Values {
	out := undefined(len(data))
	if period <= 0 {
		return out
	}

	a := 2.0 / (float64(period) + 1)
	seen := 0
	prev := 0.0
	for i, v := range data {
		if v.IsNone() {
			continue
		}

		x := v.Unwrap()
		if seen == 0 {
			prev = x
		} else {
			prev = x*a + prev*(1-a)
		}

		seen++
		if seen >= period {
			out[i] = finite(prev)
		}
	}

	return out
}

// RSI uses rolling means of gains and losses over period price changes. Zero
// average loss reads 100; a window with no movement at all is undefined.
func RSI(data []float64, period int) Values {
	out := undefined(len(data))
	if period <= 0 || len(data) < 2 {
		return out
	}

	gains := make([]float64, len(data)-1)
	losses := make([]float64, len(data)-1)
	for i := 1; i < len(data); i++ {
		d := data[i] - data[i-1]
		if d > 0 {
			gains[i-1] = d
		} else {
			losses[i-1] = -d
		}
	}

	avgG := SMA(gains, period)
	avgL := SMA(losses, period)
	for i := range avgG {
		if avgG[i].IsNone() || avgL[i].IsNone() {
			continue
		}

		g, l := avgG[i].Unwrap(), avgL[i].Unwrap()
		switch {
		case l == 0 && g == 0:
			continue
		case l == 0:
			out[i+1] = optional.Some(100.0)
		default:
			out[i+1] = finite(100 - 100/(1+g/l))
		}
	}

	return out
}

// ATR is the rolling mean of the true range. The first row's true range is
// its high-low spread since it has no previous close.
func ATR(high, low, closes []float64, w int) Values {
	n := min(len(high), len(low), len(closes))
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Abs(high[i]-closes[i-1]))
			tr[i] = math.Max(tr[i], math.Abs(low[i]-closes[i-1]))
		}
	}

	return SMA(tr, w)
}

type MACDResult struct {
	MACD   Values
	Signal Values
}

func MACD(data []float64, fast, slow, signal int) MACDResult {
	f := EMA(data, fast)
	s := EMA(data, slow)

	line := undefined(len(data))
	for i := range data {
		if f[i].IsSome() && s[i].IsSome() {
			line[i] = finite(f[i].Unwrap() - s[i].Unwrap())
		}
	}

	return MACDResult{
		MACD:   line,
		Signal: ema(line, signal),
	}
}

type BollingerResult struct {
	Middle Values
	Upper  Values
	Lower  Values
}

func Bollinger(data []float64, w int, k float64) BollingerResult {
	m := SMA(data, w)
	sd := RollingStd(data, w)

	res := BollingerResult{
		Middle: m,
		Upper:  undefined(len(data)),
		Lower:  undefined(len(data)),
	}
	for i := range data {
		if m[i].IsNone() || sd[i].IsNone() {
			continue
		}

		res.Upper[i] = finite(m[i].Unwrap() + k*sd[i].Unwrap())
		res.Lower[i] = finite(m[i].Unwrap() - k*sd[i].Unwrap())
	}

	return res
}
