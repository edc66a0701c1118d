package engine

import (
	"context"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Step tells the tracker what to do after an observation.
type Step int

const (
	StepWait Step = iota
	StepCancel
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepCancel:
		return "cancel"
	case StepDone:
		return "done"
	default:
		return "wait"
	}
}

// OrderState is a submitted entry order. It only changes through Observe and
// Canceled.
type OrderState struct {
	OrderID           string
	Symbol            string
	LimitPrice        decimal.Decimal
	Quantity          decimal.Decimal
	Status            venue.OrderStatus
	FillPrice         optional.Option[decimal.Decimal]
	ExecutedQty       decimal.Decimal
	AttemptsRemaining int
}

func NewOrderState(orderID string, o venue.LimitOrder, attempts int) OrderState {
	return OrderState{
		OrderID:           orderID,
		Symbol:            o.Symbol,
		LimitPrice:        o.Price,
		Quantity:          o.Quantity,
		Status:            venue.StatusNew,
		FillPrice:         optional.None[decimal.Decimal](),
		ExecutedQty:       decimal.Zero,
		AttemptsRemaining: attempts,
	}
}

// Observation is the outcome of one status poll.
type Observation struct {
	Update venue.OrderUpdate
	Err    error
}

// Observe consumes one attempt. Terminal statuses finish the order; a pending
// order waits while attempts remain and is canceled once they run out. A
// failed poll counts as an attempt and leaves the status unchanged.
func (s OrderState) Observe(obs Observation) (OrderState, Step) {
	if s.Status.Terminal() {
		return s, StepDone
	}

	s.AttemptsRemaining = max(0, s.AttemptsRemaining-1)
	if obs.Err == nil {
		u := obs.Update
		s.Status = u.Status
		if u.ExecutedQty.IsPositive() {
			s.ExecutedQty = u.ExecutedQty
		}
		if u.AvgPrice.IsSome() {
			s.FillPrice = u.AvgPrice
		}
	}

	if s.Status.Terminal() {
		if s.Status == venue.StatusFilled {
			s = s.filled()
		}
		return s, StepDone
	}

	if s.AttemptsRemaining == 0 {
		return s, StepCancel
	}

	return s, StepWait
}

// Canceled marks the order canceled after an explicit cancel request.
func (s OrderState) Canceled() OrderState {
	s.Status = venue.StatusCanceled
	return s
}

func (s OrderState) filled() OrderState {
	if s.FillPrice.IsNone() {
		s.FillPrice = optional.Some(s.LimitPrice)
	}
	if !s.ExecutedQty.IsPositive() {
		s.ExecutedQty = s.Quantity
	}

	return s
}

type tracker struct {
	log      *zap.Logger
	v        venue.Venue
	clock    Clock
	interval time.Duration
}

// await polls until the order is terminal. A shutdown while waiting cancels
// the order on a detached context.
func (t *tracker) await(ctx context.Context, st OrderState) OrderState {
	for {
		u, err := t.v.GetOrderStatus(ctx, st.Symbol, st.OrderID)
		if err != nil {
			t.log.Error("failed to poll order",
				zap.String("symbol", st.Symbol),
				zap.String("order_id", st.OrderID),
				zap.Int("attempts_remaining", st.AttemptsRemaining-1),
				zap.Error(err))
		}

		var step Step
		st, step = st.Observe(Observation{Update: u, Err: err})
		switch step {
		case StepDone:
			return st
		case StepCancel:
			return t.cancel(ctx, st)
		}

		if err := t.clock.Wait(ctx, t.interval); err != nil {
			t.log.Warn("order polling interrupted", zap.String("order_id", st.OrderID), zap.Error(err))
			return t.cancel(context.WithoutCancel(ctx), st)
		}
	}
}

// cancel issues exactly one cancel request. When it fails the order may have
// filled in the meantime, so one final status check decides.
func (t *tracker) cancel(ctx context.Context, st OrderState) OrderState {
	err := t.v.CancelOrder(ctx, st.Symbol, st.OrderID)
	if err == nil {
		if st.ExecutedQty.IsPositive() {
			t.log.Warn("canceled order was partially executed",
				zap.String("symbol", st.Symbol),
				zap.String("order_id", st.OrderID),
				zap.String("executed_qty", st.ExecutedQty.String()))
		}
		return st.Canceled()
	}

	t.log.Error("failed to cancel order",
		zap.String("symbol", st.Symbol),
		zap.String("order_id", st.OrderID),
		zap.Error(err))

	u, err := t.v.GetOrderStatus(ctx, st.Symbol, st.OrderID)
	if err != nil {
		t.log.Error("failed to check order after cancel", zap.String("order_id", st.OrderID), zap.Error(err))
		return st.Canceled()
	}

	if u.Status == venue.StatusFilled {
		final, _ := st.Observe(Observation{Update: u})
		return final
	}

	return st.Canceled()
}
