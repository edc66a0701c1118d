package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func buy(strategy, symbol string, qty, price float64, at time.Time) TradeRecord {
	return TradeRecord{
		Time:       at,
		Strategy:   strategy,
		Action:     Buy,
		Symbol:     symbol,
		Quantity:   dec(qty),
		Price:      dec(price),
		EntryPrice: optional.Some(dec(price)),
		StopLoss:   optional.Some(dec(price).Mul(dec(0.95))),
		TakeProfit: optional.Some(dec(price).Mul(dec(1.1))),
		Profit:     optional.None[decimal.Decimal](),
	}
}

func sell(strategy, symbol string, qty, entry, price float64, at time.Time) TradeRecord {
	return TradeRecord{
		Time:       at,
		Strategy:   strategy,
		Action:     Sell,
		Symbol:     symbol,
		Quantity:   dec(qty),
		Price:      dec(price),
		EntryPrice: optional.Some(dec(entry)),
		StopLoss:   optional.None[decimal.Decimal](),
		TakeProfit: optional.None[decimal.Decimal](),
		Profit:     optional.Some(dec(price - entry).Mul(dec(qty))),
	}
}

func TestSummary_empty(t *testing.T) {
	s := openTestStore(t)

	sum, err := s.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalTrades)
	assert.True(t, sum.NetProfit.IsZero())
}

func TestInsertSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []TradeRecord{
		buy("rsi", "BTCUSDT", 40, 100, t0),
		buy("rsi", "ETHUSDT", 2, 2000, t0.Add(time.Hour)),
		buy("rsi", "BNBUSDT", 10, 300, t0.Add(2*time.Hour)),
		sell("rsi", "BTCUSDT", 40, 100, 110, t0.Add(3*time.Hour)),
		sell("rsi", "ETHUSDT", 2, 2000, 1900, t0.Add(4*time.Hour)),
	}
	for _, r := range records {
		require.NoError(t, s.Insert(ctx, r))
	}

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.TotalTrades)
	assert.Equal(t, 3, sum.TotalBuys)
	assert.Equal(t, 2, sum.TotalSells)
	// 40*(110-100) + 2*(1900-2000)
	assert.True(t, dec(200).Equal(sum.NetProfit), sum.NetProfit.String())
}

func TestInsert_invalidAction(t *testing.T) {
	s := openTestStore(t)
	r := buy("rsi", "BTCUSDT", 1, 1, time.Now())
	r.Action = "hold"

	err := s.Insert(context.Background(), r)
	assert.True(t, errs.HasCode(err, errs.InvalidInput))
}

func TestInsert_closedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Insert(context.Background(), buy("rsi", "BTCUSDT", 1, 1, time.Now()))
	assert.True(t, errs.HasCode(err, errs.Persistence))
}

func TestTrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, buy("rsi", "BTCUSDT", 40, 100, t0)))
	require.NoError(t, s.Insert(ctx, sell("rsi", "BTCUSDT", 40, 100, 110, t0.Add(time.Hour))))

	trades, err := s.Trades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	r := trades[0]
	assert.Equal(t, Sell, r.Action)
	assert.Equal(t, t0.Add(time.Hour), r.Time)
	assert.Equal(t, "rsi", r.Strategy)
	assert.True(t, dec(110).Equal(r.Price))
	assert.True(t, dec(400).Equal(r.Profit.Unwrap()))
	assert.True(t, r.StopLoss.IsNone())

	trades, err = s.Trades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, dec(95).Equal(trades[1].StopLoss.Unwrap()))
}

func TestOpenPositions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, r := range []TradeRecord{
		buy("rsi", "BTCUSDT", 40, 100, t0),
		buy("rsi", "ETHUSDT", 2, 2000, t0),
		buy("macd", "BNBUSDT", 1, 300, t0),
		sell("rsi", "BTCUSDT", 40, 100, 110, t0.Add(time.Hour)),
		buy("rsi", "BTCUSDT", 20, 105, t0.Add(2*time.Hour)),
	} {
		require.NoError(t, s.Insert(ctx, r))
	}

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "BNBUSDT", open[0].Symbol)
	assert.Equal(t, "macd", open[0].Strategy)
	assert.Equal(t, "BTCUSDT", open[1].Symbol)
	assert.Equal(t, "rsi", open[1].Strategy)
	assert.True(t, dec(20).Equal(open[1].Quantity))
	assert.Equal(t, "ETHUSDT", open[2].Symbol)
}

func TestOpenPositions_sellClosesOnlyOwnBuy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, r := range []TradeRecord{
		buy("rsi", "BTCUSDT", 40, 100, t0),
		buy("macd", "BTCUSDT", 10, 101, t0.Add(time.Hour)),
		sell("macd", "BTCUSDT", 10, 101, 110, t0.Add(2*time.Hour)),
	} {
		require.NoError(t, s.Insert(ctx, r))
	}

	open, err := s.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "rsi", open[0].Strategy)
	assert.True(t, dec(40).Equal(open[0].Quantity))
}

func TestOpenPositions_empty(t *testing.T) {
	open, err := openTestStore(t).OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestBaseline(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b, err := s.Baseline(ctx, "USDT", dec(10000))
	require.NoError(t, err)
	assert.True(t, dec(10000).Equal(b))

	b, err = s.Baseline(ctx, "USDT", dec(8000))
	require.NoError(t, err)
	assert.True(t, dec(10000).Equal(b))

	b, err = s.Baseline(ctx, "USD", dec(500))
	require.NoError(t, err)
	assert.True(t, dec(500).Equal(b))
}

func TestWriteReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(ctx, buy("rsi", "BTCUSDT", 40, 100, t0)))
	require.NoError(t, s.Insert(ctx, sell("rsi", "BTCUSDT", 40, 100, 110, t0.Add(time.Hour))))
	require.NoError(t, s.Insert(ctx, buy("rsi", "ETHUSDT", 1, 2000, t0.Add(2*time.Hour))))

	var buf bytes.Buffer
	require.NoError(t, s.WriteReport(ctx, &buf))

	var report JsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, 3, report.Summary.TotalTrades)
	require.Len(t, report.Deals["BTCUSDT"], 1)
	assert.Empty(t, report.Deals["ETHUSDT"])

	d := report.Deals["BTCUSDT"][0]
	assert.Equal(t, "4000", d.Spend)
	assert.Equal(t, "400", d.Gain)
	assert.InDelta(t, 0.1, d.GainPct, 1e-9)
	assert.InDelta(t, 0.1, report.TotalGainPct, 1e-9)
}
