package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/indicator"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/gamma-omg/cycle-trader/internal/risk"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const atrColumn = "risk.atr"

var errDrawdown = errs.New(errs.Risk, "drawdown limit breached")

type cycle struct {
	*Engine
	log      *zap.Logger
	name     string
	strategy strategy.Strategy
	venue    venue.Venue
	ledger   Ledger
	book     *PositionBook
	tracker  *tracker
	report   *CycleReport
	starting decimal.Decimal
}

func (c *cycle) run(ctx context.Context) error {
	quote := c.cfg.Market.QuoteAsset
	balance, err := c.venue.GetBalance(ctx, quote)
	if err != nil {
		return err
	}

	c.starting = decimal.NewFromFloat(c.cfg.Risk.StartingBalance)
	if !c.starting.IsPositive() {
		c.starting, err = c.ledger.Baseline(ctx, quote, c.equity(balance))
		if err != nil {
			c.log.Error("failed to load balance baseline, using current balance", zap.Error(err))
			c.starting = c.equity(balance)
		}
	}

	if !risk.WithinDrawdown(c.equity(balance), c.starting, c.cfg.Risk.MaxDrawdown) {
		return c.abort(balance)
	}

	c.reconcile(ctx)
	c.protectAll(ctx)

	for _, symbol := range c.cfg.Market.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.evaluateSafe(ctx, symbol)
		if errors.Is(err, errDrawdown) {
			c.report.Aborted = true
			return err
		}
		if err != nil {
			c.report.fail(symbol, err)
			c.log.Error("symbol evaluation failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	return nil
}

func (c *cycle) abort(balance decimal.Decimal) error {
	c.report.Aborted = true
	c.log.Error("drawdown limit breached, aborting cycle",
		zap.String("equity", c.equity(balance).String()),
		zap.String("starting", c.starting.String()),
		zap.Float64("max_drawdown", c.cfg.Risk.MaxDrawdown))
	return errDrawdown
}

// equity is the free quote balance plus the cost of every open position and
// pending entry, so that an entry by any strategy is not mistaken for a loss.
func (c *cycle) equity(balance decimal.Decimal) decimal.Decimal {
	return balance.Add(c.book.CostBasis())
}

// evaluateSafe confines a panic to the symbol that caused it.
func (c *cycle) evaluateSafe(ctx context.Context, symbol string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic during evaluation", zap.String("symbol", symbol), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic evaluating %s: %v", symbol, r)
		}
	}()

	return c.evaluate(ctx, symbol)
}

func (c *cycle) evaluate(ctx context.Context, symbol string) error {
	bars, err := c.venue.GetKlines(ctx, symbol, c.cfg.Market.Interval, c.cfg.Market.Lookback)
	if err != nil {
		return err
	}

	series, err := market.NewSeries(bars)
	if err != nil {
		return errs.Wrapf(errs.Venue, err, "invalid %s klines", symbol)
	}
	if series.Len() == 0 {
		c.log.Warn("no bars", zap.String("symbol", symbol))
		return nil
	}

	if err := c.strategy.Apply(series); err != nil {
		return fmt.Errorf("failed to apply %s indicators: %w", c.name, err)
	}
	if c.cfg.Risk.NeedsATR() {
		atr := indicator.ATR(series.Highs(), series.Lows(), series.Closes(), c.cfg.Risk.ATRWindow)
		if err := series.SetColumn(atrColumn, atr); err != nil {
			return fmt.Errorf("failed to add atr column: %w", err)
		}
	}

	c.debugOutput(symbol, series)

	sig := c.strategy.Signal(series)
	c.report.Signals[symbol] = sig.String()
	c.log.Debug("signal", zap.String("symbol", symbol), zap.Stringer("signal", sig))

	switch sig {
	case strategy.Buy:
		return c.enter(ctx, symbol, series)
	case strategy.Sell:
		return c.exit(ctx, symbol)
	default:
		return nil
	}
}

func (c *cycle) enter(ctx context.Context, symbol string, series *market.Series) error {
	if p, ok := c.book.Get(symbol); ok {
		c.log.Info("position already open, ignoring buy signal", zap.String("symbol", symbol), zap.String("owner", p.Strategy))
		return nil
	}

	balance, err := c.venue.GetBalance(ctx, c.cfg.Market.QuoteAsset)
	if err != nil {
		return err
	}

	rc := risk.Context{
		Balance:         c.equity(balance),
		StartingBalance: c.starting,
		OpenTrades:      c.book.Len(),
		MaxDrawdown:     c.cfg.Risk.MaxDrawdown,
		MaxConcurrent:   c.cfg.Risk.MaxConcurrentTrades,
	}
	switch rc.Gate() {
	case risk.GateDrawdown:
		return c.abort(balance)
	case risk.GateCapacity:
		c.log.Info("max concurrent trades reached, skipping", zap.String("symbol", symbol), zap.Int("open", rc.OpenTrades))
		return nil
	}

	last, err := series.Last()
	if err != nil {
		return err
	}
	price := last.Close.Round(c.cfg.Orders.PricePrecision)
	if !price.IsPositive() {
		return errs.Newf(errs.Venue, "invalid %s close price %s", symbol, last.Close)
	}

	atr := decimal.Zero
	if c.cfg.Risk.NeedsATR() {
		v := series.Value(atrColumn, series.Len()-1)
		if v.IsNone() {
			c.log.Info("atr undefined, skipping entry", zap.String("symbol", symbol))
			return nil
		}
		atr = decimal.NewFromFloat(v.Unwrap())
	}

	exits, err := c.exits.Plan(price, atr)
	if err != nil {
		c.log.Warn("entry rejected by exit planner", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	qty, err := c.sizer.Size(balance, price, exits.StopLoss, atr)
	if err != nil {
		c.log.Warn("entry rejected by sizing", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	qty = decimal.Min(qty, balance.Div(price)).RoundDown(c.cfg.Orders.QuantityPrecision)
	if !qty.IsPositive() {
		c.log.Info("position size rounds to zero, skipping", zap.String("symbol", symbol))
		return nil
	}

	if err := c.book.Claim(symbol, c.name, qty.Mul(price)); err != nil {
		c.log.Info("symbol taken, ignoring buy signal", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	defer c.book.Release(symbol, c.name)

	order := venue.LimitOrder{Symbol: symbol, Side: venue.Buy, Quantity: qty, Price: price}
	id, err := c.venue.SubmitLimitOrder(ctx, order)
	if err != nil {
		return err
	}
	c.log.Info("entry order submitted",
		zap.String("symbol", symbol),
		zap.String("order_id", id),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()))

	st := c.tracker.await(ctx, NewOrderState(id, order, c.cfg.Orders.PollAttempts))
	if st.Status != venue.StatusFilled {
		c.log.Info("entry order not filled", zap.String("symbol", symbol), zap.String("order_id", id), zap.Stringer("status", st.Status))
		return nil
	}

	fill := st.FillPrice.Unwrap()
	if !fill.Equal(price) {
		if replanned, err := c.exits.Plan(fill, atr); err == nil {
			exits = replanned
		}
	}

	p := Position{
		Strategy:   c.name,
		Symbol:     symbol,
		Quantity:   st.ExecutedQty,
		EntryPrice: fill,
		StopLoss:   exits.StopLoss.Round(c.cfg.Orders.PricePrecision),
		TakeProfit: exits.TakeProfit.Round(c.cfg.Orders.PricePrecision),
		OpenedAt:   c.clock.Now(),
	}
	if err := c.book.Open(p); err != nil {
		return err
	}
	c.report.Opened = append(c.report.Opened, symbol)

	c.record(ctx, ledger.TradeRecord{
		Time:       p.OpenedAt,
		Strategy:   c.name,
		Action:     ledger.Buy,
		Symbol:     symbol,
		Quantity:   p.Quantity,
		Price:      fill,
		EntryPrice: optional.Some(fill),
		StopLoss:   optional.Some(p.StopLoss),
		TakeProfit: optional.Some(p.TakeProfit),
		Profit:     optional.None[decimal.Decimal](),
	})

	c.protect(ctx, p)
	return nil
}

// protect places the paired stop-loss/take-profit order. It tries once plus
// the configured retries; on exhaustion the position stays open and is
// flagged so the next cycle tries again.
func (c *cycle) protect(ctx context.Context, p Position) {
	offset := decimal.NewFromFloat(1 - c.cfg.Orders.StopLimitOffset)
	o := venue.OCOOrder{
		Symbol:         p.Symbol,
		Quantity:       p.Quantity,
		TakeProfit:     p.TakeProfit,
		StopPrice:      p.StopLoss,
		StopLimitPrice: p.StopLoss.Mul(offset).Round(c.cfg.Orders.PricePrecision),
	}

	var err error
	for attempt := 0; attempt <= c.cfg.Orders.ProtectionRetries; attempt++ {
		var id string
		id, err = c.venue.SubmitOCOOrder(ctx, o)
		if err == nil {
			p.ProtectionID = id
			p.Unprotected = false
			c.log.Info("position protected",
				zap.String("symbol", p.Symbol),
				zap.String("oco_id", id),
				zap.String("stop_loss", p.StopLoss.String()),
				zap.String("take_profit", p.TakeProfit.String()))
			c.updatePosition(p)
			return
		}

		c.log.Warn("failed to place protective order", zap.String("symbol", p.Symbol), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	p.Unprotected = true
	c.updatePosition(p)
	c.log.Error("position left unprotected",
		zap.String("symbol", p.Symbol),
		zap.String("quantity", p.Quantity.String()),
		zap.String("entry_price", p.EntryPrice.String()),
		zap.Error(err))
}

func (c *cycle) updatePosition(p Position) {
	if err := c.book.Update(p); err != nil {
		c.log.Error("failed to update position", zap.String("symbol", p.Symbol), zap.Error(err))
	}
}

func (c *cycle) protectAll(ctx context.Context) {
	for _, p := range c.book.Owned(c.name) {
		if p.Unprotected {
			c.log.Info("retrying protection", zap.String("symbol", p.Symbol))
			c.protect(ctx, p)
		}
	}
}

// reconcile closes positions whose protective order executed since the last
// cycle. A protective order that vanished leaves the position unprotected.
func (c *cycle) reconcile(ctx context.Context) {
	for _, p := range c.book.Owned(c.name) {
		if p.ProtectionID == "" {
			continue
		}

		u, err := c.venue.GetOCOStatus(ctx, p.Symbol, p.ProtectionID)
		if err != nil {
			c.log.Error("failed to check protective order", zap.String("symbol", p.Symbol), zap.String("oco_id", p.ProtectionID), zap.Error(err))
			continue
		}

		switch u.State {
		case venue.OCOExecuted:
			fill := u.Exit.Unwrap()
			c.close(ctx, p, fill.Price, "protection")
		case venue.OCOCanceled:
			c.log.Warn("protective order canceled outside the engine", zap.String("symbol", p.Symbol), zap.String("oco_id", p.ProtectionID))
			p.ProtectionID = ""
			p.Unprotected = true
			c.updatePosition(p)
		}
	}
}

func (c *cycle) exit(ctx context.Context, symbol string) error {
	p, ok := c.book.Get(symbol)
	if !ok || p.Strategy != c.name {
		c.log.Info("sell signal without open position", zap.String("symbol", symbol))
		return nil
	}

	if p.ProtectionID != "" {
		if err := c.venue.CancelOCOOrder(ctx, symbol, p.ProtectionID); err != nil {
			c.log.Warn("failed to cancel protective order", zap.String("symbol", symbol), zap.String("oco_id", p.ProtectionID), zap.Error(err))

			// The position is kept until the protective order is known to be gone.
			u, serr := c.venue.GetOCOStatus(ctx, symbol, p.ProtectionID)
			if serr != nil {
				return errs.Wrapf(errs.Venue, err, "protective order %s for %s is in an unknown state", p.ProtectionID, symbol)
			}

			switch u.State {
			case venue.OCOExecuted:
				c.close(ctx, p, u.Exit.Unwrap().Price, "protection")
				return nil
			case venue.OCOActive:
				return errs.Wrapf(errs.Venue, err, "protective order %s for %s is still active", p.ProtectionID, symbol)
			}
		}
	}

	fill, err := c.venue.SubmitMarketOrder(ctx, venue.MarketOrder{Symbol: symbol, Side: venue.Sell, Quantity: p.Quantity})
	if err != nil {
		return err
	}

	c.close(ctx, p, fill.Price, "signal")
	return nil
}

func (c *cycle) close(ctx context.Context, p Position, price decimal.Decimal, reason string) {
	if _, err := c.book.Close(p.Symbol); err != nil {
		c.log.Error("failed to close position", zap.String("symbol", p.Symbol), zap.Error(err))
		return
	}
	c.report.Closed = append(c.report.Closed, p.Symbol)

	profit := price.Sub(p.EntryPrice).Mul(p.Quantity)
	c.log.Info("position closed",
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.String("profit", profit.String()))

	c.record(ctx, ledger.TradeRecord{
		Time:       c.clock.Now(),
		Strategy:   c.name,
		Action:     ledger.Sell,
		Symbol:     p.Symbol,
		Quantity:   p.Quantity,
		Price:      price,
		EntryPrice: optional.Some(p.EntryPrice),
		StopLoss:   optional.None[decimal.Decimal](),
		TakeProfit: optional.None[decimal.Decimal](),
		Profit:     optional.Some(profit),
	})
}

// record persists r. A failed write keeps the cycle going and logs every
// field so the record can be replayed.
func (c *cycle) record(ctx context.Context, r ledger.TradeRecord) {
	c.log.Info("trade executed",
		zap.String("action", string(r.Action)),
		zap.String("symbol", r.Symbol),
		zap.String("quantity", r.Quantity.String()),
		zap.String("price", r.Price.String()))

	if err := c.ledger.Insert(ctx, r); err != nil {
		c.log.Error("failed to persist trade",
			zap.Error(err),
			zap.Time("timestamp", r.Time),
			zap.String("action", string(r.Action)),
			zap.String("symbol", r.Symbol),
			zap.String("quantity", r.Quantity.String()),
			zap.String("price", r.Price.String()),
			zap.String("entry_price", optionString(r.EntryPrice)),
			zap.String("stop_loss", optionString(r.StopLoss)),
			zap.String("take_profit", optionString(r.TakeProfit)),
			zap.String("profit", optionString(r.Profit)))
	}
}

func optionString(o optional.Option[decimal.Decimal]) string {
	if o.IsNone() {
		return ""
	}

	return o.Unwrap().String()
}

func (c *cycle) debugOutput(symbol string, series *market.Series) {
	if c.dumpDir != "" {
		if err := dumpBars(c.dumpDir, symbol, series.Bars()); err != nil {
			c.log.Warn("failed to dump bars", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if c.plotDir == "" {
		return
	}

	p := indicator.NewDebugPlot(1200, 500)
	if err := p.AddSeries(series, fmt.Sprintf("%s %s", c.name, symbol), 1, series.Columns()...); err != nil {
		c.log.Warn("failed to build plot", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	path := filepath.Join(c.plotDir, fmt.Sprintf("%s_%s_%d.png", c.name, symbol, c.clock.Now().Unix()))
	if err := p.Save(path); err != nil {
		c.log.Warn("failed to save plot", zap.String("symbol", symbol), zap.Error(err))
	}
}
