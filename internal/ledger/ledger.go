// Package ledger persists trade records in SQLite. Records are append-only:
// corrections are new records, never updates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

type TradeRecord struct {
	Time       time.Time                        `json:"time"`
	Strategy   string                           `json:"strategy"`
	Action     Action                           `json:"action"`
	Symbol     string                           `json:"symbol"`
	Quantity   decimal.Decimal                  `json:"quantity"`
	Price      decimal.Decimal                  `json:"price"`
	EntryPrice optional.Option[decimal.Decimal] `json:"entry_price"`
	StopLoss   optional.Option[decimal.Decimal] `json:"stop_loss"`
	TakeProfit optional.Option[decimal.Decimal] `json:"take_profit"`
	Profit     optional.Option[decimal.Decimal] `json:"profit"`
}

type Summary struct {
	TotalTrades int             `json:"total_trades"`
	TotalBuys   int             `json:"total_buys"`
	TotalSells  int             `json:"total_sells"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

var tradeColumns = []string{
	"ts", "strategy", "action", "symbol", "quantity", "price",
	"entry_price", "stop_loss", "take_profit", "profit",
}

type Store struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, "failed to open ledger", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Persistence, "failed to connect to ledger", err)
	}

	s := &Store{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			strategy TEXT NOT NULL,
			action TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			entry_price TEXT,
			stop_loss TEXT,
			take_profit TEXT,
			profit TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy_symbol ON trades(strategy, symbol);`,
		`CREATE TABLE IF NOT EXISTS baselines (
			asset TEXT PRIMARY KEY,
			amount TEXT NOT NULL,
			set_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return errs.Wrap(errs.Persistence, "failed to create ledger schema", err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(o optional.Option[decimal.Decimal]) decimal.NullDecimal {
	if o.IsNone() {
		return decimal.NullDecimal{}
	}

	return decimal.NullDecimal{Decimal: o.Unwrap(), Valid: true}
}

func fromNullable(n decimal.NullDecimal) optional.Option[decimal.Decimal] {
	if !n.Valid {
		return optional.None[decimal.Decimal]()
	}

	return optional.Some(n.Decimal)
}

func (s *Store) Insert(ctx context.Context, r TradeRecord) error {
	if r.Action != Buy && r.Action != Sell {
		return errs.Newf(errs.InvalidInput, "unknown trade action %q", r.Action)
	}

	query, args, err := s.sq.
		Insert("trades").
		Columns(tradeColumns...).
		Values(
			r.Time.UnixMilli(), r.Strategy, string(r.Action), r.Symbol, r.Quantity, r.Price,
			nullable(r.EntryPrice), nullable(r.StopLoss), nullable(r.TakeProfit), nullable(r.Profit),
		).
		ToSql()
	if err != nil {
		return errs.Wrap(errs.Persistence, "failed to build insert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Wrapf(errs.Persistence, err, "failed to insert %s %s record", r.Action, r.Symbol)
	}

	return nil
}

// Summary aggregates all records. Profit is summed in decimal to avoid
// rounding through SQLite REAL.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	query, args, err := s.sq.
		Select("action", "COUNT(*)").
		From("trades").
		GroupBy("action").
		ToSql()
	if err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to build summary query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to query trade counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return sum, errs.Wrap(errs.Persistence, "failed to scan trade count", err)
		}

		switch Action(action) {
		case Buy:
			sum.TotalBuys = n
		case Sell:
			sum.TotalSells = n
		}
	}
	if err := rows.Err(); err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to iterate trade counts", err)
	}
	sum.TotalTrades = sum.TotalBuys + sum.TotalSells

	query, args, err = s.sq.
		Select("profit").
		From("trades").
		Where(squirrel.NotEq{"profit": nil}).
		ToSql()
	if err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to build profit query", err)
	}

	profits, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to query profits", err)
	}
	defer profits.Close()

	for profits.Next() {
		var p decimal.Decimal
		if err := profits.Scan(&p); err != nil {
			return sum, errs.Wrap(errs.Persistence, "failed to scan profit", err)
		}
		sum.NetProfit = sum.NetProfit.Add(p)
	}
	if err := profits.Err(); err != nil {
		return sum, errs.Wrap(errs.Persistence, "failed to iterate profits", err)
	}

	return sum, nil
}

// Trades returns the most recent records first. A non-positive limit returns
// every record.
func (s *Store) Trades(ctx context.Context, limit int) ([]TradeRecord, error) {
	q := s.sq.Select(tradeColumns...).From("trades").OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	return s.query(ctx, q)
}

// OpenPositions replays every record in insertion order and returns the buy
// record of each strategy and symbol pair not closed by a later sell. The
// result is ordered by symbol, then by the time of the buy.
func (s *Store) OpenPositions(ctx context.Context) ([]TradeRecord, error) {
	records, err := s.query(ctx, s.sq.
		Select(tradeColumns...).
		From("trades").
		OrderBy("id ASC"))
	if err != nil {
		return nil, err
	}

	type key struct{ strategy, symbol string }
	open := make(map[key]TradeRecord)
	for _, r := range records {
		k := key{r.Strategy, r.Symbol}
		switch r.Action {
		case Buy:
			open[k] = r
		case Sell:
			delete(open, k)
		}
	}

	res := slices.Collect(maps.Values(open))
	slices.SortFunc(res, func(a, b TradeRecord) int {
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c
		}
		return a.Time.Compare(b.Time)
	})

	return res, nil
}

// Baseline returns the persisted starting balance for asset. The first call
// stores current, later calls ignore it.
func (s *Store) Baseline(ctx context.Context, asset string, current decimal.Decimal) (decimal.Decimal, error) {
	query, args, err := s.sq.
		Select("amount").
		From("baselines").
		Where(squirrel.Eq{"asset": asset}).
		ToSql()
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.Persistence, "failed to build baseline query", err)
	}

	var amount decimal.Decimal
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&amount)
	if err == nil {
		return amount, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, errs.Wrapf(errs.Persistence, err, "failed to read %s baseline", asset)
	}

	query, args, err = s.sq.
		Insert("baselines").
		Columns("asset", "amount", "set_at").
		Values(asset, current, time.Now().UnixMilli()).
		Suffix("ON CONFLICT(asset) DO NOTHING").
		ToSql()
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.Persistence, "failed to build baseline insert", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return decimal.Zero, errs.Wrapf(errs.Persistence, err, "failed to store %s baseline", asset)
	}

	return current, nil
}

func (s *Store) query(ctx context.Context, q squirrel.SelectBuilder) ([]TradeRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, "failed to build trades query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Persistence, "failed to query trades", err)
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var ts int64
		var action string
		var entry, stop, take, profit decimal.NullDecimal
		if err := rows.Scan(&ts, &r.Strategy, &action, &r.Symbol, &r.Quantity, &r.Price, &entry, &stop, &take, &profit); err != nil {
			return nil, errs.Wrap(errs.Persistence, "failed to scan trade", err)
		}

		r.Time = time.UnixMilli(ts).UTC()
		r.Action = Action(action)
		r.EntryPrice = fromNullable(entry)
		r.StopLoss = fromNullable(stop)
		r.TakeProfit = fromNullable(take)
		r.Profit = fromNullable(profit)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Persistence, "failed to iterate trades", err)
	}

	return res, nil
}
