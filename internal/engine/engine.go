// Package engine runs trading cycles: it turns strategy signals into sized
// entry orders, tracks them to a terminal state, protects filled positions and
// records every trade in the ledger.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/gamma-omg/cycle-trader/internal/risk"
	"github.com/gamma-omg/cycle-trader/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ledger is the part of the trade store a cycle needs.
type Ledger interface {
	Insert(ctx context.Context, r ledger.TradeRecord) error
	OpenPositions(ctx context.Context) ([]ledger.TradeRecord, error)
	Baseline(ctx context.Context, asset string, current decimal.Decimal) (decimal.Decimal, error)
	Close() error
}

type LedgerOpener func() (Ledger, error)

// OpenLedgerFile opens the SQLite ledger at path for each cycle.
func OpenLedgerFile(path string) LedgerOpener {
	return func() (Ledger, error) {
		return ledger.Open(path)
	}
}

type Option func(e *Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithPlotDir saves a chart of every evaluated series to dir.
func WithPlotDir(dir string) Option {
	return func(e *Engine) {
		e.plotDir = dir
	}
}

// WithBarsDump writes the bars of every evaluated symbol as CSV into dir.
func WithBarsDump(dir string) Option {
	return func(e *Engine) {
		e.dumpDir = dir
	}
}

type Engine struct {
	log        *zap.Logger
	cfg        *config.Config
	registry   *strategy.Registry
	openVenue  VenueOpener
	openLedger LedgerOpener
	sizer      risk.Sizer
	exits      risk.ExitPlanner
	clock      Clock
	plotDir    string
	dumpDir    string

	// book is shared by every strategy: the account and its symbols are.
	book      *PositionBook
	restoreMu sync.Mutex
	restored  bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(log *zap.Logger, cfg *config.Config, registry *strategy.Registry, openVenue VenueOpener, openLedger LedgerOpener, opts ...Option) *Engine {
	e := &Engine{
		log:        log,
		cfg:        cfg,
		registry:   registry,
		openVenue:  openVenue,
		openLedger: openLedger,
		sizer:      risk.NewSizer(cfg.Risk),
		exits:      risk.NewExitPlanner(cfg.Risk),
		clock:      realClock{},
		book:       NewPositionBook(),
		locks:      make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CycleReport summarizes one cycle of a strategy.
type CycleReport struct {
	Strategy string            `json:"strategy"`
	Started  time.Time         `json:"started"`
	Skipped  bool              `json:"skipped,omitempty"`
	Aborted  bool              `json:"aborted,omitempty"`
	Signals  map[string]string `json:"signals,omitempty"`
	Opened   []string          `json:"opened,omitempty"`
	Closed   []string          `json:"closed,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func (r *CycleReport) fail(symbol string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[symbol] = err.Error()
}

// RunCycle runs one cycle of the named strategy. Cycles of the same strategy
// never overlap. The venue and ledger are released on every exit path.
func (e *Engine) RunCycle(ctx context.Context, name string) (rep CycleReport, err error) {
	lock := e.strategyLock(name)
	lock.Lock()
	defer lock.Unlock()

	rep = CycleReport{Strategy: name, Started: e.clock.Now(), Signals: map[string]string{}}

	s, entry, err := e.registry.Snapshot(name)
	if err != nil {
		return rep, err
	}
	if !entry.Enabled {
		rep.Skipped = true
		e.log.Debug("strategy disabled, skipping cycle", zap.String("strategy", name))
		return rep, nil
	}

	v, err := e.openVenue(ctx)
	if err != nil {
		return rep, errs.Wrap(errs.Venue, "failed to open venue", err)
	}
	defer func() {
		if cerr := v.Close(); cerr != nil {
			e.log.Warn("failed to close venue", zap.String("strategy", name), zap.Error(cerr))
		}
	}()

	l, err := e.openLedger()
	if err != nil {
		return rep, errs.Wrap(errs.Persistence, "failed to open ledger", err)
	}
	defer func() {
		if cerr := l.Close(); cerr != nil {
			e.log.Warn("failed to close ledger", zap.String("strategy", name), zap.Error(cerr))
		}
	}()

	if err := e.restore(ctx, l); err != nil {
		return rep, err
	}

	c := &cycle{
		Engine:   e,
		log:      e.log.With(zap.String("strategy", name)),
		name:     name,
		strategy: s,
		venue:    v,
		ledger:   l,
		book:     e.book,
		report:   &rep,
		tracker: &tracker{
			log:      e.log.With(zap.String("strategy", name)),
			v:        v,
			clock:    e.clock,
			interval: e.cfg.Orders.PollInterval,
		},
	}

	err = c.run(ctx)
	return rep, err
}

// RunAll runs one cycle of every enabled strategy concurrently. A failing
// strategy does not stop the others; the first error is returned.
func (e *Engine) RunAll(ctx context.Context) error {
	var g errgroup.Group
	for _, entry := range e.registry.List() {
		if !entry.Enabled {
			continue
		}

		g.Go(func() error {
			if _, err := e.RunCycle(ctx, entry.Name); err != nil {
				e.log.Error("cycle failed", zap.String("strategy", entry.Name), zap.Error(err))
				return fmt.Errorf("strategy %s: %w", entry.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Positions returns the open positions held by a strategy.
func (e *Engine) Positions(name string) []Position {
	return e.book.Owned(name)
}

func (e *Engine) strategyLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}

	return l
}

// restore loads the open positions of every strategy from the ledger before
// the first cycle. A symbol bought by more than one strategy is kept for the
// earliest buyer only.
func (e *Engine) restore(ctx context.Context, l Ledger) error {
	e.restoreMu.Lock()
	defer e.restoreMu.Unlock()

	if e.restored {
		return nil
	}

	records, err := l.OpenPositions(ctx)
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := e.book.Open(positionFromRecord(r)); err != nil {
			e.log.Warn("conflicting open position in ledger, ignoring",
				zap.String("strategy", r.Strategy),
				zap.String("symbol", r.Symbol),
				zap.String("quantity", r.Quantity.String()),
				zap.Error(err))
		}
	}
	if n := e.book.Len(); n > 0 {
		e.log.Info("restored open positions", zap.Int("count", n))
	}

	e.restored = true
	return nil
}
