package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

type mockVenue struct {
	mock.Mock
}

func (m *mockVenue) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	args := m.Called(asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockVenue) GetKlines(_ context.Context, symbol, interval string, lookback int) ([]market.Bar, error) {
	args := m.Called(symbol, interval, lookback)
	bars, _ := args.Get(0).([]market.Bar)
	return bars, args.Error(1)
}

func (m *mockVenue) SubmitLimitOrder(_ context.Context, o venue.LimitOrder) (string, error) {
	args := m.Called(o)
	return args.String(0), args.Error(1)
}

func (m *mockVenue) GetOrderStatus(_ context.Context, symbol, orderID string) (venue.OrderUpdate, error) {
	args := m.Called(symbol, orderID)
	return args.Get(0).(venue.OrderUpdate), args.Error(1)
}

func (m *mockVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	args := m.Called(symbol, orderID)
	return args.Error(0)
}

func (m *mockVenue) SubmitOCOOrder(_ context.Context, o venue.OCOOrder) (string, error) {
	args := m.Called(o)
	return args.String(0), args.Error(1)
}

func (m *mockVenue) GetOCOStatus(_ context.Context, symbol, ocoID string) (venue.OCOUpdate, error) {
	args := m.Called(symbol, ocoID)
	return args.Get(0).(venue.OCOUpdate), args.Error(1)
}

func (m *mockVenue) CancelOCOOrder(_ context.Context, symbol, ocoID string) error {
	args := m.Called(symbol, ocoID)
	return args.Error(0)
}

func (m *mockVenue) SubmitMarketOrder(_ context.Context, o venue.MarketOrder) (venue.Fill, error) {
	args := m.Called(o)
	return args.Get(0).(venue.Fill), args.Error(1)
}

func (m *mockVenue) Close() error {
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	records   []ledger.TradeRecord
	open      []ledger.TradeRecord
	baseline  optional.Option[decimal.Decimal]
	insertErr error
	closed    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{baseline: optional.None[decimal.Decimal]()}
}

func (l *fakeLedger) Insert(_ context.Context, r ledger.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.insertErr != nil {
		return l.insertErr
	}

	l.records = append(l.records, r)
	return nil
}

func (l *fakeLedger) OpenPositions(context.Context) ([]ledger.TradeRecord, error) {
	return l.open, nil
}

func (l *fakeLedger) Baseline(_ context.Context, _ string, current decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.baseline.IsNone() {
		l.baseline = optional.Some(current)
	}

	return l.baseline.Unwrap(), nil
}

func (l *fakeLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed++
	return nil
}

func (l *fakeLedger) Records() []ledger.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]ledger.TradeRecord(nil), l.records...)
}

// fakeClock never sleeps. It records every wait.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	return nil
}

// scripted decides by the last close so tests control signals through klines.
type scripted struct {
	name   string
	decide func(last float64) strategy.Signal
}

func (s *scripted) Name() string {
	return s.name
}

func (s *scripted) Apply(*market.Series) error {
	return nil
}

func (s *scripted) Signal(series *market.Series) strategy.Signal {
	closes := series.Closes()
	return s.decide(closes[len(closes)-1])
}

func byClose(last float64) strategy.Signal {
	switch last {
	case 100:
		return strategy.Buy
	case 110:
		return strategy.Sell
	case 1:
		panic("boom")
	default:
		return strategy.Hold
	}
}

func bars(closes ...float64) []market.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	res := make([]market.Bar, len(closes))
	for i, c := range closes {
		res[i] = market.Bar{
			Time:   t0.Add(time.Duration(i) * 24 * time.Hour),
			Open:   dec(c),
			High:   dec(c),
			Low:    dec(c),
			Close:  dec(c),
			Volume: dec(1),
		}
	}

	return res
}

func testConfig(symbols ...string) *config.Config {
	return &config.Config{
		Market: config.Market{
			Symbols:    symbols,
			QuoteAsset: "USDT",
			Interval:   "1d",
			Lookback:   10,
		},
		Risk: config.Risk{
			RiskPerTrade:        0.02,
			MaxDrawdown:         0.20,
			MaxConcurrentTrades: 5,
			Sizing:              config.SizingFixedStop,
			Exits:               config.ExitPercent,
			StopLossPct:         0.05,
			TakeProfitPct:       0.10,
			ATRWindow:           14,
		},
		Orders: config.Orders{
			PollAttempts:      10,
			PollInterval:      30 * time.Second,
			QuantityPrecision: 6,
			PricePrecision:    2,
			StopLimitOffset:   0.01,
			ProtectionRetries: 1,
		},
		Strategies: []config.Strategy{
			{Name: "scripted", Kind: "scripted", Schedule: "@daily"},
		},
	}
}

type testEngine struct {
	*Engine
	venue  *mockVenue
	ledger *fakeLedger
	clock  *fakeClock
	reg    *strategy.Registry
}

func newTestEngine(t *testing.T, cfg *config.Config, decide func(float64) strategy.Signal) *testEngine {
	t.Helper()

	catalog := strategy.DefaultCatalog()
	catalog.Register("scripted", func(def strategy.Definition, _ *strategy.Catalog) (strategy.Strategy, error) {
		return &scripted{name: def.Name, decide: decide}, nil
	})

	reg, err := strategy.NewRegistry(cfg.Strategies, catalog)
	require.NoError(t, err)

	v := &mockVenue{}
	l := newFakeLedger()
	clock := &fakeClock{now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}

	e := New(zap.NewNop(), cfg, reg,
		func(context.Context) (venue.Venue, error) { return v, nil },
		func() (Ledger, error) { return l, nil },
		WithClock(clock))

	return &testEngine{Engine: e, venue: v, ledger: l, clock: clock, reg: reg}
}

func limitOrder(qty, price float64) any {
	return mock.MatchedBy(func(o venue.LimitOrder) bool {
		return o.Side == venue.Buy && o.Quantity.Equal(dec(qty)) && o.Price.Equal(dec(price))
	})
}

func filled(qty, price float64) venue.OrderUpdate {
	return venue.OrderUpdate{
		Status:      venue.StatusFilled,
		ExecutedQty: dec(qty),
		AvgPrice:    optional.Some(dec(price)),
	}
}

func pending(status venue.OrderStatus) venue.OrderUpdate {
	return venue.OrderUpdate{Status: status, AvgPrice: optional.None[decimal.Decimal]()}
}
