// Package risk sizes entries and gates new trades. All functions are pure.
package risk

import (
	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/shopspring/decimal"
)

// PositionSize risks fraction of balance over the distance between entry and
// stop.
func PositionSize(balance, entry, stop decimal.Decimal, fraction float64) (decimal.Decimal, error) {
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() {
		return decimal.Zero, errs.Newf(errs.Risk, "entry price %s equals stop price", entry)
	}

	return balance.Mul(decimal.NewFromFloat(fraction)).Div(dist), nil
}

// ATRPositionSize uses the average true range as the risk denominator.
func ATRPositionSize(balance, atr decimal.Decimal, fraction float64) (decimal.Decimal, error) {
	if !atr.IsPositive() {
		return decimal.Zero, errs.Newf(errs.Risk, "atr %s must be positive", atr)
	}

	return balance.Mul(decimal.NewFromFloat(fraction)).Div(atr), nil
}

// WithinDrawdown reports whether the decline from starting to current stays
// within maxFraction. Without a positive baseline there is nothing to measure.
func WithinDrawdown(current, starting decimal.Decimal, maxFraction float64) bool {
	if !starting.IsPositive() {
		return true
	}

	dd := starting.Sub(current).Div(starting)
	return dd.LessThanOrEqual(decimal.NewFromFloat(maxFraction))
}

func CanOpenNewTrade(open, maxOpen int) bool {
	return open < maxOpen
}

// Sizer computes an entry quantity.
type Sizer interface {
	Size(balance, entry, stop decimal.Decimal, atr decimal.Decimal) (decimal.Decimal, error)
}

type FixedStopSizer struct {
	Fraction float64
}

func (s FixedStopSizer) Size(balance, entry, stop, _ decimal.Decimal) (decimal.Decimal, error) {
	return PositionSize(balance, entry, stop, s.Fraction)
}

type ATRSizer struct {
	Fraction float64
}

func (s ATRSizer) Size(balance, _, _, atr decimal.Decimal) (decimal.Decimal, error) {
	return ATRPositionSize(balance, atr, s.Fraction)
}

func NewSizer(cfg config.Risk) Sizer {
	if cfg.Sizing == config.SizingATR {
		return ATRSizer{Fraction: cfg.RiskPerTrade}
	}

	return FixedStopSizer{Fraction: cfg.RiskPerTrade}
}

// Exits are the protective prices of a long position.
type Exits struct {
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

type ExitPlanner interface {
	Plan(entry, atr decimal.Decimal) (Exits, error)
}

type PercentExits struct {
	StopLossPct   float64
	TakeProfitPct float64
}

func (p PercentExits) Plan(entry, _ decimal.Decimal) (Exits, error) {
	one := decimal.NewFromInt(1)
	return Exits{
		StopLoss:   entry.Mul(one.Sub(decimal.NewFromFloat(p.StopLossPct))),
		TakeProfit: entry.Mul(one.Add(decimal.NewFromFloat(p.TakeProfitPct))),
	}, nil
}

type ATRExits struct {
	StopMultiplier       float64
	TakeProfitMultiplier float64
}

func (p ATRExits) Plan(entry, atr decimal.Decimal) (Exits, error) {
	if !atr.IsPositive() {
		return Exits{}, errs.Newf(errs.Risk, "atr %s must be positive", atr)
	}

	stop := entry.Sub(atr.Mul(decimal.NewFromFloat(p.StopMultiplier)))
	if !stop.IsPositive() {
		return Exits{}, errs.Newf(errs.Risk, "stop price %s is not positive", stop)
	}

	return Exits{
		StopLoss:   stop,
		TakeProfit: entry.Add(atr.Mul(decimal.NewFromFloat(p.TakeProfitMultiplier))),
	}, nil
}

func NewExitPlanner(cfg config.Risk) ExitPlanner {
	if cfg.Exits == config.ExitATR {
		return ATRExits{
			StopMultiplier:       cfg.ATRStopMultiplier,
			TakeProfitMultiplier: cfg.ATRTakeProfitMultiplier,
		}
	}

	return PercentExits{
		StopLossPct:   cfg.StopLossPct,
		TakeProfitPct: cfg.TakeProfitPct,
	}
}

// Gate is the first risk limit that blocks a new entry.
type Gate int

const (
	GateOpen Gate = iota
	GateDrawdown
	GateCapacity
)

func (g Gate) String() string {
	switch g {
	case GateDrawdown:
		return "drawdown"
	case GateCapacity:
		return "capacity"
	default:
		return "open"
	}
}

// Context is the account state the gates are evaluated against.
type Context struct {
	Balance         decimal.Decimal
	StartingBalance decimal.Decimal
	OpenTrades      int
	MaxDrawdown     float64
	MaxConcurrent   int
}

func (c Context) Gate() Gate {
	if !WithinDrawdown(c.Balance, c.StartingBalance, c.MaxDrawdown) {
		return GateDrawdown
	}
	if !CanOpenNewTrade(c.OpenTrades, c.MaxConcurrent) {
		return GateCapacity
	}

	return GateOpen
}
