package engine

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/ledger"
	"github.com/shopspring/decimal"
)

type Position struct {
	Strategy     string          `json:"strategy"`
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	OpenedAt     time.Time       `json:"opened_at"`
	ProtectionID string          `json:"protection_id,omitempty"`
	Unprotected  bool            `json:"unprotected"`
}

// claim holds a symbol for a strategy while its entry order is working.
type claim struct {
	owner    string
	notional decimal.Decimal
}

// PositionBook keys open positions by symbol across all strategies. A symbol
// is either free, claimed by one pending entry or held by one position.
type PositionBook struct {
	mu        sync.Mutex
	positions map[string]Position
	claims    map[string]claim
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[string]Position),
		claims:    make(map[string]claim),
	}
}

// positionFromRecord rebuilds a position from its buy record. Protective order
// ids are not persisted, so restored positions carry none.
func positionFromRecord(r ledger.TradeRecord) Position {
	return Position{
		Strategy:   r.Strategy,
		Symbol:     r.Symbol,
		Quantity:   r.Quantity,
		EntryPrice: r.EntryPrice.TakeOr(r.Price),
		StopLoss:   r.StopLoss.TakeOr(decimal.Zero),
		TakeProfit: r.TakeProfit.TakeOr(decimal.Zero),
		OpenedAt:   r.Time,
	}
}

func (b *PositionBook) Get(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	return p, ok
}

// Claim reserves symbol for owner. notional is the quote amount the pending
// entry locks on the venue.
func (b *PositionBook) Claim(symbol, owner string, notional decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.positions[symbol]; ok {
		return errs.Newf(errs.Risk, "%s is held by strategy %s", symbol, p.Strategy)
	}
	if c, ok := b.claims[symbol]; ok {
		return errs.Newf(errs.Risk, "%s is claimed by strategy %s", symbol, c.owner)
	}

	b.claims[symbol] = claim{owner: owner, notional: notional}
	return nil
}

// Release drops owner's claim on symbol. Other owners' claims are kept.
func (b *PositionBook) Release(symbol, owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.claims[symbol]; ok && c.owner == owner {
		delete(b.claims, symbol)
	}
}

// Open records p and turns its owner's claim into the position.
func (b *PositionBook) Open(p Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[p.Symbol]; ok {
		return errs.Newf(errs.Risk, "position for %s is already open", p.Symbol)
	}
	if c, ok := b.claims[p.Symbol]; ok {
		if c.owner != p.Strategy {
			return errs.Newf(errs.Risk, "%s is claimed by strategy %s", p.Symbol, c.owner)
		}
		delete(b.claims, p.Symbol)
	}

	b.positions[p.Symbol] = p
	return nil
}

func (b *PositionBook) Update(p Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.positions[p.Symbol]
	if !ok || cur.Strategy != p.Strategy {
		return errs.Newf(errs.NotFound, "no open position for %s owned by %s", p.Symbol, p.Strategy)
	}

	b.positions[p.Symbol] = p
	return nil
}

func (b *PositionBook) Close(symbol string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		return Position{}, errs.Newf(errs.NotFound, "no open position for %s", symbol)
	}

	delete(b.positions, symbol)
	return p, nil
}

// Len counts open positions and pending entries.
func (b *PositionBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.positions) + len(b.claims)
}

// All returns the positions ordered by symbol.
func (b *PositionBook) All() []Position {
	return b.filter(func(Position) bool { return true })
}

// Owned returns the positions held by owner ordered by symbol.
func (b *PositionBook) Owned(owner string) []Position {
	return b.filter(func(p Position) bool { return p.Strategy == owner })
}

func (b *PositionBook) filter(keep func(Position) bool) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	res := make([]Position, 0, len(b.positions))
	for _, symbol := range slices.Sorted(maps.Keys(b.positions)) {
		if p := b.positions[symbol]; keep(p) {
			res = append(res, p)
		}
	}

	return res
}

// CostBasis is the quote amount locked in open positions and pending entries.
func (b *PositionBook) CostBasis() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	sum := decimal.Zero
	for _, p := range b.positions {
		sum = sum.Add(p.Quantity.Mul(p.EntryPrice))
	}
	for _, c := range b.claims {
		sum = sum.Add(c.notional)
	}

	return sum
}
