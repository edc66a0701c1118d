package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntervalAggregator folds bars of BarDuration into bars of Interval. A bucket
// is emitted once a bar reaching its end arrives, or when the input runs out.
type IntervalAggregator struct {
	BarDuration time.Duration
	Interval    time.Duration
}

func (a *IntervalAggregator) Aggregate(bars []Bar) []Bar {
	if a.Interval <= 0 || a.Interval == a.BarDuration {
		return bars
	}

	var res []Bar
	var cur *Bar
	var end time.Time
	for _, b := range bars {
		if cur != nil && !b.Time.Before(end) {
			res = append(res, *cur)
			cur = nil
		}

		if cur == nil {
			end = b.Time.Truncate(a.Interval).Add(a.Interval)
			cur = &Bar{
				Time: b.Time,
				Open: b.Open,
				High: b.High,
				Low:  b.Low,
			}
		}

		cur.Close = b.Close
		cur.High = decimal.Max(cur.High, b.High)
		cur.Low = decimal.Min(cur.Low, b.Low)
		cur.Volume = cur.Volume.Add(b.Volume)

		if !b.Time.Add(a.BarDuration).Before(end) {
			res = append(res, *cur)
			cur = nil
		}
	}

	if cur != nil {
		res = append(res, *cur)
	}

	return res
}
