package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderState_Observe(t *testing.T) {
	order := venue.LimitOrder{Symbol: "BTCUSDT", Side: venue.Buy, Quantity: dec(2), Price: dec(100)}

	tbl := []struct {
		attempts  int
		obs       Observation
		step      Step
		status    venue.OrderStatus
		remaining int
		fill      optional.Option[decimal.Decimal]
		executed  decimal.Decimal
	}{
		{
			attempts:  3,
			obs:       Observation{Update: pending(venue.StatusNew)},
			step:      StepWait,
			status:    venue.StatusNew,
			remaining: 2,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
		{
			attempts:  1,
			obs:       Observation{Update: pending(venue.StatusNew)},
			step:      StepCancel,
			status:    venue.StatusNew,
			remaining: 0,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
		{
			attempts:  3,
			obs:       Observation{Update: filled(2, 99.5)},
			step:      StepDone,
			status:    venue.StatusFilled,
			remaining: 2,
			fill:      optional.Some(dec(99.5)),
			executed:  dec(2),
		},
		{
			attempts:  3,
			obs:       Observation{Update: pending(venue.StatusFilled)},
			step:      StepDone,
			status:    venue.StatusFilled,
			remaining: 2,
			fill:      optional.Some(dec(100)),
			executed:  dec(2),
		},
		{
			attempts:  3,
			obs:       Observation{Err: errors.New("timeout")},
			step:      StepWait,
			status:    venue.StatusNew,
			remaining: 2,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
		{
			attempts:  1,
			obs:       Observation{Err: errors.New("timeout")},
			step:      StepCancel,
			status:    venue.StatusNew,
			remaining: 0,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
		{
			attempts:  2,
			obs:       Observation{Update: pending(venue.StatusRejected)},
			step:      StepDone,
			status:    venue.StatusRejected,
			remaining: 1,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
		{
			attempts: 2,
			obs: Observation{Update: venue.OrderUpdate{
				Status:      venue.StatusPartiallyFilled,
				ExecutedQty: dec(0.5),
				AvgPrice:    optional.Some(dec(100)),
			}},
			step:      StepWait,
			status:    venue.StatusPartiallyFilled,
			remaining: 1,
			fill:      optional.Some(dec(100)),
			executed:  dec(0.5),
		},
		{
			attempts:  0,
			obs:       Observation{Update: pending(venue.StatusNew)},
			step:      StepCancel,
			status:    venue.StatusNew,
			remaining: 0,
			fill:      optional.None[decimal.Decimal](),
			executed:  decimal.Zero,
		},
	}

	for i, tc := range tbl {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			st, step := NewOrderState("o1", order, tc.attempts).Observe(tc.obs)

			assert.Equal(t, tc.step, step)
			assert.Equal(t, tc.status, st.Status)
			assert.Equal(t, tc.remaining, st.AttemptsRemaining)
			assert.Equal(t, tc.fill.IsSome(), st.FillPrice.IsSome())
			if tc.fill.IsSome() {
				assert.True(t, tc.fill.Unwrap().Equal(st.FillPrice.Unwrap()))
			}
			assert.True(t, tc.executed.Equal(st.ExecutedQty))
		})
	}
}

func TestOrderState_terminalIsFinal(t *testing.T) {
	order := venue.LimitOrder{Symbol: "BTCUSDT", Side: venue.Buy, Quantity: dec(2), Price: dec(100)}
	st := NewOrderState("o1", order, 3).Canceled()

	next, step := st.Observe(Observation{Update: filled(2, 100)})
	assert.Equal(t, StepDone, step)
	assert.Equal(t, venue.StatusCanceled, next.Status)
	assert.Equal(t, 3, next.AttemptsRemaining)
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "wait", StepWait.String())
	assert.Equal(t, "cancel", StepCancel.String())
	assert.Equal(t, "done", StepDone.String())
}
