package indicator

import (
	"math"

	"github.com/moznion/go-optional"
)

// Values is a derived column. Element i only depends on inputs at or before i.
type Values = []optional.Option[float64]

func undefined(n int) Values {
	out := make(Values, n)
	for i := range out {
		out[i] = optional.None[float64]()
	}

	return out
}

func finite(v float64) optional.Option[float64] {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return optional.None[float64]()
	}

	return optional.Some(v)
}

// rolling applies f to every full window of w values ending at each row.
func rolling(data []float64, w int, f func(win []float64) float64) Values {
	out := undefined(len(data))
	if w <= 0 {
		return out
	}

	for i := w - 1; i < len(data); i++ {
		out[i] = finite(f(data[i-w+1 : i+1]))
	}

	return out
}

func mean(win []float64) float64 {
	sum := 0.0
	for _, v := range win {
		sum += v
	}

	return sum / float64(len(win))
}

// SMA is the simple moving average over w rows.
func SMA(data []float64, w int) Values {
	return rolling(data, w, mean)
}

// RollingStd is the sample standard deviation over w rows.
func RollingStd(data []float64, w int) Values {
	if w < 2 {
		return undefined(len(data))
	}

	return rolling(data, w, func(win []float64) float64 {
		m := mean(win)
		ss := 0.0
		for _, v := range win {
			ss += (v - m) * (v - m)
		}

		return math.Sqrt(ss / float64(len(win)-1))
	})
}

func RollingMax(data []float64, w int) Values {
	return rolling(data, w, func(win []float64) float64 {
		m := win[0]
		for _, v := range win[1:] {
			m = math.Max(m, v)
		}

		return m
	})
}

func RollingMin(data []float64, w int) Values {
	return rolling(data, w, func(win []float64) float64 {
		m := win[0]
		for _, v := range win[1:] {
			m = math.Min(m, v)
		}

		return m
	})
}

// ZScore measures how many rolling standard deviations the value sits from
// the rolling mean. A flat window has no z-score.
func ZScore(data []float64, w int) Values {
	m := SMA(data, w)
	sd := RollingStd(data, w)

	out := undefined(len(data))
	for i := range data {
		if m[i].IsNone() || sd[i].IsNone() {
			continue
		}

		s := sd[i].Unwrap()
		if s == 0 {
			continue
		}

		out[i] = finite((data[i] - m[i].Unwrap()) / s)
	}

	return out
}
