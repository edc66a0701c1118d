// Package emulator is a paper venue that replays historical bars from CSV
// files. Orders are matched against the current bar of each symbol.
package emulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type limitOrder struct {
	venue.LimitOrder
	status venue.OrderStatus
	avg    optional.Option[decimal.Decimal]
	// hold is the wallet reservation backing the order while it rests.
	holdAsset  string
	holdAmount decimal.Decimal
}

type ocoOrder struct {
	venue.OCOOrder
	state venue.OCOState
	exit  optional.Option[venue.Fill]
}

type Emulator struct {
	log    *zap.Logger
	quote  string
	tape   *tape
	wallet *wallet
	comm   commissionCharger
	orders map[string]*limitOrder
	ocos   map[string]*ocoOrder
	mu     sync.Mutex
}

func NewEmulator(log *zap.Logger, cfg config.Emulator) (*Emulator, error) {
	data := make(map[string][]market.Bar, len(cfg.Data))
	for symbol, path := range cfg.Data {
		bars, err := readBarsWithFilter(path, func(b market.Bar) bool {
			return (cfg.Start.IsZero() || !b.Time.Before(cfg.Start)) && (cfg.End.IsZero() || b.Time.Before(cfg.End))
		})
		if err != nil {
			return nil, errs.Wrapf(errs.Config, err, "failed to load %s bars", symbol)
		}

		agg := market.IntervalAggregator{BarDuration: cfg.BarDuration, Interval: cfg.Interval}
		data[symbol] = agg.Aggregate(bars)
	}

	return newEmulatorWithBars(log, cfg, data), nil
}

func newEmulatorWithBars(log *zap.Logger, cfg config.Emulator, data map[string][]market.Bar) *Emulator {
	quote := cfg.QuoteAsset
	if quote == "" {
		quote = "USDT"
	}

	return &Emulator{
		log:    log,
		quote:  quote,
		tape:   newTape(data),
		wallet: newWallet(quote, decimal.NewFromFloat(cfg.Balance)),
		comm:   newCommission(cfg.BuyCommission, cfg.SellCommission),
		orders: make(map[string]*limitOrder),
		ocos:   make(map[string]*ocoOrder),
	}
}

func (e *Emulator) Symbols() []string {
	return e.tape.symbols()
}

// Advance moves every symbol one bar forward and executes protective orders
// touched by the new bars. It reports false once all data is consumed.
func (e *Emulator) Advance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tape.advance() {
		return false
	}

	for id, o := range e.ocos {
		if o.state == venue.OCOActive {
			e.matchOCO(id, o)
		}
	}

	return true
}

// Time returns the open time of the most recent bar across all symbols.
func (e *Emulator) Time() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.tape.now()
}

// GetBalance reports the free amount of asset. Holdings are kept per symbol,
// so a base asset is looked up as its pair with the quote asset.
func (e *Emulator) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if asset == e.quote {
		return e.wallet.available(asset), nil
	}
	if _, ok := e.wallet.total[asset]; ok {
		return e.wallet.available(asset), nil
	}

	return e.wallet.available(asset + e.quote), nil
}

// GetKlines ignores interval: bars are aggregated once at load time.
func (e *Emulator) GetKlines(_ context.Context, symbol, _ string, lookback int) ([]market.Bar, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.tape.window(symbol, lookback)
}

func (e *Emulator) SubmitLimitOrder(_ context.Context, o venue.LimitOrder) (string, error) {
	if !o.Quantity.IsPositive() || !o.Price.IsPositive() {
		return "", errs.Newf(errs.Venue, "invalid limit order for %s", o.Symbol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.tape.current(o.Symbol); err != nil {
		return "", errs.Wrap(errs.Venue, "failed to submit limit order", err)
	}

	lo := &limitOrder{
		LimitOrder: o,
		status:     venue.StatusNew,
		avg:        optional.None[decimal.Decimal](),
		holdAsset:  o.Symbol,
		holdAmount: o.Quantity,
	}
	if o.Side == venue.Buy {
		lo.holdAsset = e.quote
		lo.holdAmount = buyCost(e.comm, o.Quantity.Mul(o.Price))
	}

	if err := e.wallet.reserve(lo.holdAsset, lo.holdAmount); err != nil {
		return "", errs.Wrapf(errs.Venue, err, "limit order for %s rejected", o.Symbol)
	}

	id := uuid.NewString()
	e.orders[id] = lo
	return id, nil
}

// GetOrderStatus matches a resting order against the current bar before
// reporting its status.
func (e *Emulator) GetOrderStatus(_ context.Context, _ string, orderID string) (venue.OrderUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return venue.OrderUpdate{}, errs.Newf(errs.Venue, "unknown order %s", orderID)
	}

	if o.status == venue.StatusNew {
		e.matchLimit(orderID, o)
	}

	u := venue.OrderUpdate{Status: o.status, AvgPrice: o.avg}
	if o.status == venue.StatusFilled {
		u.ExecutedQty = o.Quantity
	}

	return u, nil
}

func (e *Emulator) CancelOrder(_ context.Context, _ string, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return errs.Newf(errs.Venue, "unknown order %s", orderID)
	}
	if o.status != venue.StatusNew {
		return errs.Newf(errs.Venue, "order %s is %s", orderID, o.status)
	}

	o.status = venue.StatusCanceled
	e.wallet.release(o.holdAsset, o.holdAmount)
	return nil
}

func (e *Emulator) SubmitMarketOrder(_ context.Context, o venue.MarketOrder) (venue.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bar, err := e.tape.current(o.Symbol)
	if err != nil {
		return venue.Fill{}, errs.Wrap(errs.Venue, "failed to submit market order", err)
	}

	if err := e.execute(o.Symbol, o.Side, o.Quantity, bar.Close); err != nil {
		return venue.Fill{}, errs.Wrapf(errs.Venue, err, "market order for %s rejected", o.Symbol)
	}

	return venue.Fill{OrderID: uuid.NewString(), Price: bar.Close, Quantity: o.Quantity}, nil
}

func (e *Emulator) SubmitOCOOrder(_ context.Context, o venue.OCOOrder) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wallet.reserve(o.Symbol, o.Quantity); err != nil {
		return "", errs.Wrapf(errs.Venue, err, "failed to protect %s %s", o.Quantity, o.Symbol)
	}

	id := uuid.NewString()
	e.ocos[id] = &ocoOrder{
		OCOOrder: o,
		state:    venue.OCOActive,
		exit:     optional.None[venue.Fill](),
	}

	return id, nil
}

func (e *Emulator) GetOCOStatus(_ context.Context, _ string, ocoID string) (venue.OCOUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.ocos[ocoID]
	if !ok {
		return venue.OCOUpdate{}, errs.Newf(errs.Venue, "unknown oco %s", ocoID)
	}

	return venue.OCOUpdate{State: o.state, Exit: o.exit}, nil
}

func (e *Emulator) CancelOCOOrder(_ context.Context, _ string, ocoID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.ocos[ocoID]
	if !ok {
		return errs.Newf(errs.Venue, "unknown oco %s", ocoID)
	}
	if o.state != venue.OCOActive {
		return errs.Newf(errs.Venue, "oco %s is %s", ocoID, o.state)
	}

	o.state = venue.OCOCanceled
	e.wallet.release(o.Symbol, o.Quantity)
	return nil
}

func (e *Emulator) Close() error {
	return nil
}

func (e *Emulator) matchLimit(id string, o *limitOrder) {
	bar, err := e.tape.current(o.Symbol)
	if err != nil {
		return
	}

	touched := (o.Side == venue.Buy && !bar.Low.GreaterThan(o.Price)) ||
		(o.Side == venue.Sell && !bar.High.LessThan(o.Price))
	if !touched {
		return
	}

	e.wallet.release(o.holdAsset, o.holdAmount)
	if err := e.execute(o.Symbol, o.Side, o.Quantity, o.Price); err != nil {
		e.log.Warn("emulated order rejected", zap.String("order_id", id), zap.Error(err))
		o.status = venue.StatusRejected
		return
	}

	o.status = venue.StatusFilled
	o.avg = optional.Some(o.Price)
}

// matchOCO executes the stop leg first when a bar touches both legs.
func (e *Emulator) matchOCO(id string, o *ocoOrder) {
	bar, err := e.tape.current(o.Symbol)
	if err != nil {
		return
	}

	var price decimal.Decimal
	switch {
	case !bar.Low.GreaterThan(o.StopPrice):
		price = o.StopLimitPrice
	case !bar.High.LessThan(o.TakeProfit):
		price = o.TakeProfit
	default:
		return
	}

	e.wallet.release(o.Symbol, o.Quantity)
	if err := e.execute(o.Symbol, venue.Sell, o.Quantity, price); err != nil {
		e.log.Warn("emulated oco failed", zap.String("oco_id", id), zap.Error(err))
		o.state = venue.OCOCanceled
		return
	}

	o.state = venue.OCOExecuted
	o.exit = optional.Some(venue.Fill{OrderID: id, Price: price, Quantity: o.Quantity})
	e.log.Debug("emulated oco executed",
		zap.String("symbol", o.Symbol),
		zap.String("price", price.String()),
		zap.Time("time", bar.Time))
}

func (e *Emulator) execute(symbol string, side venue.Side, qty, price decimal.Decimal) error {
	notional := qty.Mul(price)
	switch side {
	case venue.Buy:
		if err := e.wallet.debit(e.quote, buyCost(e.comm, notional)); err != nil {
			return err
		}
		return e.wallet.credit(symbol, qty)
	case venue.Sell:
		if err := e.wallet.debit(symbol, qty); err != nil {
			return err
		}
		return e.wallet.credit(e.quote, e.comm.ApplyOnSell(notional))
	default:
		return errors.New("unknown order side")
	}
}
