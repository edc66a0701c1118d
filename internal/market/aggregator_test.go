package market

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type testBar struct {
	time time.Time
	o    float64
	h    float64
	l    float64
	c    float64
	v    float64
}

func newTestBar(b Bar) testBar {
	o, _ := b.Open.Float64()
	h, _ := b.High.Float64()
	l, _ := b.Low.Float64()
	c, _ := b.Close.Float64()
	v, _ := b.Volume.Float64()
	return testBar{b.Time, o, h, l, c, v}
}

func (b *testBar) ToBar() Bar {
	return Bar{
		Time:   b.time,
		Open:   decimal.NewFromFloat(b.o),
		High:   decimal.NewFromFloat(b.h),
		Low:    decimal.NewFromFloat(b.l),
		Close:  decimal.NewFromFloat(b.c),
		Volume: decimal.NewFromFloat(b.v),
	}
}

func minute(m int) time.Time {
	return time.Unix(int64(m*60), 0).UTC()
}

func TestAggregate(t *testing.T) {
	tbl := []struct {
		interval time.Duration
		in       []testBar
		out      []testBar
	}{
		{
			interval: 3 * time.Minute,
			in: []testBar{
				{time: minute(0), o: 1, h: 3, l: 1, c: 2, v: 1},
				{time: minute(1), o: 3, h: 5, l: 3, c: 4, v: 2},
				{time: minute(2), o: 4, h: 4, l: 2, c: 3, v: 3},
				{time: minute(3), o: 9, h: 9, l: 9, c: 9, v: 9},
			},
			out: []testBar{
				{time: minute(0), o: 1, h: 5, l: 1, c: 3, v: 6},
				{time: minute(3), o: 9, h: 9, l: 9, c: 9, v: 9},
			},
		},
		{
			interval: 3 * time.Minute,
			in: []testBar{
				{time: minute(0), o: 10, h: 12, l: 9, c: 11, v: 100},
				{time: minute(1), o: 11, h: 13, l: 10, c: 12, v: 200},
				{time: minute(2), o: 12, h: 12.5, l: 11, c: 11.5, v: 150},
				{time: minute(3), o: 20, h: 21, l: 19, c: 20.5, v: 300},
				{time: minute(4), o: 20.5, h: 22, l: 20, c: 21, v: 100},
				{time: minute(5), o: 21, h: 21.5, l: 20.5, c: 21.2, v: 50},
			},
			out: []testBar{
				{time: minute(0), o: 10, h: 13, l: 9, c: 11.5, v: 450},
				{time: minute(3), o: 20, h: 22, l: 19, c: 21.2, v: 450},
			},
		},
		{
			interval: 3 * time.Minute,
			in: []testBar{
				{time: minute(0), o: 5, h: 6, l: 5, c: 5.5, v: 10},
				{time: minute(1), o: 5.5, h: 7, l: 5.5, c: 6.5, v: 20},
				{time: minute(6), o: 8, h: 9, l: 7.5, c: 8.5, v: 30},
				{time: minute(7), o: 8.5, h: 9.5, l: 8, c: 9, v: 40},
				{time: minute(8), o: 9, h: 10, l: 8.8, c: 9.2, v: 50},
			},
			out: []testBar{
				{time: minute(0), o: 5, h: 7, l: 5, c: 6.5, v: 30},
				{time: minute(6), o: 8, h: 10, l: 7.5, c: 9.2, v: 120},
			},
		},
		{
			interval: time.Minute,
			in: []testBar{
				{time: minute(0), o: 1, h: 2, l: 1, c: 2, v: 1},
				{time: minute(1), o: 2, h: 3, l: 2, c: 3, v: 2},
			},
			out: []testBar{
				{time: minute(0), o: 1, h: 2, l: 1, c: 2, v: 1},
				{time: minute(1), o: 2, h: 3, l: 2, c: 3, v: 2},
			},
		},
		{
			interval: 3 * time.Minute,
			in:       []testBar{},
			out:      []testBar{},
		},
	}

	for i, c := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			a := IntervalAggregator{BarDuration: time.Minute, Interval: c.interval}
			in := make([]Bar, 0, len(c.in))
			for _, b := range c.in {
				in = append(in, b.ToBar())
			}

			out := []testBar{}
			for _, b := range a.Aggregate(in) {
				out = append(out, newTestBar(b))
			}

			assert.Equal(t, len(c.out), len(out))
			for j := range c.out {
				assert.Equal(t, c.out[j].time, out[j].time)
				assert.InDelta(t, c.out[j].o, out[j].o, 1e-6)
				assert.InDelta(t, c.out[j].h, out[j].h, 1e-6)
				assert.InDelta(t, c.out[j].l, out[j].l, 1e-6)
				assert.InDelta(t, c.out[j].c, out[j].c, 1e-6)
				assert.InDelta(t, c.out[j].v, out[j].v, 1e-6)
			}
		})
	}
}
