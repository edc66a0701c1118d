package market

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Column is a derived series aligned row by row with the bars of a Series.
// Rows without enough history hold None.
type Column []optional.Option[float64]

// Series is an append-only sequence of bars, strictly ascending by time,
// decorated with named derived columns.
type Series struct {
	bars    []Bar
	columns map[string]Column
}

var ErrUnordered = errors.New("bars must be strictly ascending by time")

func NewSeries(bars []Bar) (*Series, error) {
	s := &Series{
		bars:    make([]Bar, 0, len(bars)),
		columns: make(map[string]Column),
	}

	for _, b := range bars {
		if err := s.Append(b); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Append adds a bar after the last one. Derived columns are cleared since they
// no longer cover every row.
func (s *Series) Append(b Bar) error {
	if n := len(s.bars); n > 0 && !b.Time.After(s.bars[n-1].Time) {
		return fmt.Errorf("%w: %s after %s", ErrUnordered, b.Time, s.bars[n-1].Time)
	}

	s.bars = append(s.bars, b)
	clear(s.columns)
	return nil
}

func (s *Series) Len() int {
	return len(s.bars)
}

func (s *Series) Bars() []Bar {
	return s.bars
}

func (s *Series) Last() (Bar, error) {
	if len(s.bars) == 0 {
		return Bar{}, errors.New("insufficient data")
	}

	return s.bars[len(s.bars)-1], nil
}

func (s *Series) Closes() []float64 {
	return s.values(func(b Bar) decimal.Decimal { return b.Close })
}

func (s *Series) Highs() []float64 {
	return s.values(func(b Bar) decimal.Decimal { return b.High })
}

func (s *Series) Lows() []float64 {
	return s.values(func(b Bar) decimal.Decimal { return b.Low })
}

func (s *Series) values(field func(Bar) decimal.Decimal) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i], _ = field(b).Float64()
	}

	return out
}

// SetColumn attaches a derived column. Names are unique within a series.
func (s *Series) SetColumn(name string, col Column) error {
	if len(col) != len(s.bars) {
		return fmt.Errorf("column %s has %d rows, series has %d", name, len(col), len(s.bars))
	}
	if _, ok := s.columns[name]; ok {
		return fmt.Errorf("column %s already exists", name)
	}

	s.columns[name] = col
	return nil
}

func (s *Series) Column(name string) (Column, bool) {
	col, ok := s.columns[name]
	return col, ok
}

func (s *Series) Columns() []string {
	names := make([]string, 0, len(s.columns))
	for n := range s.columns {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// Value returns the value of a column at row i, None when the column is
// missing, the row is out of range or the value is undefined.
func (s *Series) Value(name string, i int) optional.Option[float64] {
	col, ok := s.columns[name]
	if !ok || i < 0 || i >= len(col) {
		return optional.None[float64]()
	}

	return col[i]
}

// LastDefined returns the most recent row where every named column is defined.
func (s *Series) LastDefined(names ...string) (int, bool) {
	for i := len(s.bars) - 1; i >= 0; i-- {
		if s.defined(i, names) {
			return i, true
		}
	}

	return -1, false
}

func (s *Series) defined(i int, names []string) bool {
	for _, n := range names {
		if s.Value(n, i).IsNone() {
			return false
		}
	}

	return true
}
