package emulator

import (
	"maps"
	"slices"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/market"
)

// tape replays the bars of every symbol. Each symbol has a cursor on its
// current bar; a symbol whose cursor is -1 has not started yet. The emulator
// lock guards it.
type tape struct {
	bars   map[string][]market.Bar
	cursor map[string]int
}

func newTape(data map[string][]market.Bar) *tape {
	t := &tape{
		bars:   data,
		cursor: make(map[string]int, len(data)),
	}
	for symbol := range data {
		t.cursor[symbol] = -1
	}

	return t
}

func (t *tape) symbols() []string {
	return slices.Sorted(maps.Keys(t.bars))
}

// advance moves every unfinished symbol to its next bar. It reports false
// once all symbols are exhausted.
func (t *tape) advance() bool {
	moved := false
	for symbol, bars := range t.bars {
		if next := t.cursor[symbol] + 1; next < len(bars) {
			t.cursor[symbol] = next
			moved = true
		}
	}

	return moved
}

// current returns the bar a symbol is at. Orders are matched against it.
func (t *tape) current(symbol string) (market.Bar, error) {
	bars, ok := t.bars[symbol]
	if !ok {
		return market.Bar{}, errs.Newf(errs.InvalidInput, "unknown symbol %s", symbol)
	}

	i := t.cursor[symbol]
	if i < 0 {
		return market.Bar{}, errs.Newf(errs.Venue, "no bars for %s yet", symbol)
	}

	return bars[i], nil
}

// window returns up to lookback bars ending at the current one.
func (t *tape) window(symbol string, lookback int) ([]market.Bar, error) {
	bars, ok := t.bars[symbol]
	if !ok {
		return nil, errs.Newf(errs.InvalidInput, "unknown symbol %s", symbol)
	}

	end := t.cursor[symbol] + 1
	return slices.Clone(bars[max(0, end-lookback):end]), nil
}

// now is the open time of the latest current bar across symbols.
func (t *tape) now() time.Time {
	var latest time.Time
	for symbol, i := range t.cursor {
		if i < 0 {
			continue
		}
		if bt := t.bars[symbol][i].Time; bt.After(latest) {
			latest = bt
		}
	}

	return latest
}
