// Package venue defines what the engine needs from an exchange.
package venue

import (
	"context"

	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderStatus int

const (
	StatusNew OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusRejected:
		return "REJECTED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Pending reports whether the order may still fill.
func (s OrderStatus) Pending() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

func (s OrderStatus) Terminal() bool {
	return !s.Pending()
}

type LimitOrder struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

type MarketOrder struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
}

// OCOOrder is a sell protecting a long position: a take-profit limit paired
// with a stop-limit, where execution of one cancels the other.
type OCOOrder struct {
	Symbol         string
	Quantity       decimal.Decimal
	TakeProfit     decimal.Decimal
	StopPrice      decimal.Decimal
	StopLimitPrice decimal.Decimal
}

type OrderUpdate struct {
	Status      OrderStatus
	ExecutedQty decimal.Decimal
	AvgPrice    optional.Option[decimal.Decimal]
}

type Fill struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type OCOState int

const (
	OCOActive OCOState = iota
	OCOExecuted
	OCOCanceled
)

func (s OCOState) String() string {
	switch s {
	case OCOActive:
		return "ACTIVE"
	case OCOExecuted:
		return "EXECUTED"
	default:
		return "CANCELED"
	}
}

// OCOUpdate describes a protective order. Exit is set once a leg executed.
type OCOUpdate struct {
	State OCOState
	Exit  optional.Option[Fill]
}

// Venue is an exchange account. Calls may fail with a venue error and are not
// assumed to be idempotent.
type Venue interface {
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetKlines(ctx context.Context, symbol, interval string, lookback int) ([]market.Bar, error)
	SubmitLimitOrder(ctx context.Context, o LimitOrder) (string, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderUpdate, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SubmitOCOOrder(ctx context.Context, o OCOOrder) (string, error)
	GetOCOStatus(ctx context.Context, symbol, ocoID string) (OCOUpdate, error)
	CancelOCOOrder(ctx context.Context, symbol, ocoID string) error
	SubmitMarketOrder(ctx context.Context, o MarketOrder) (Fill, error)
	Close() error
}
