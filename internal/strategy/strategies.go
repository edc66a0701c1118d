package strategy

import (
	"fmt"

	"github.com/gamma-omg/cycle-trader/internal/indicator"
	"github.com/gamma-omg/cycle-trader/internal/market"
)

const (
	KindRSI           = "rsi"
	KindMovingAverage = "moving_average"
	KindMeanReversion = "mean_reversion"
	KindBreakout      = "breakout"
	KindCombined      = "combined"
)

type RSI struct {
	name          string
	prefix        string
	period        int
	buyThreshold  float64
	sellThreshold float64
}

func NewRSI(def Definition) (*RSI, error) {
	p := def.Params
	if err := p.Only("rsi_period", "buy_threshold", "sell_threshold"); err != nil {
		return nil, err
	}

	period, err := p.Window("rsi_period", 14)
	if err != nil {
		return nil, err
	}

	s := &RSI{
		name:          def.Name,
		prefix:        def.Prefix,
		period:        period,
		buyThreshold:  p.Get("buy_threshold", 30),
		sellThreshold: p.Get("sell_threshold", 70),
	}
	if s.buyThreshold >= s.sellThreshold {
		return nil, fmt.Errorf("buy_threshold %v must be below sell_threshold %v", s.buyThreshold, s.sellThreshold)
	}

	return s, nil
}

func (s *RSI) Name() string {
	return s.name
}

func (s *RSI) Apply(series *market.Series) error {
	return series.SetColumn(s.prefix+"rsi", indicator.RSI(series.Closes(), s.period))
}

func (s *RSI) Signal(series *market.Series) Signal {
	col := s.prefix + "rsi"
	i, ok := series.LastDefined(col)
	if !ok {
		return Hold
	}

	rsi := series.Value(col, i).Unwrap()
	switch {
	case rsi < s.buyThreshold:
		return Buy
	case rsi > s.sellThreshold:
		return Sell
	default:
		return Hold
	}
}

// MovingAverage trades the crossover of a short and a long simple moving
// average, confirmed against the previous row.
type MovingAverage struct {
	name   string
	prefix string
	short  int
	long   int
}

func NewMovingAverage(def Definition) (*MovingAverage, error) {
	p := def.Params
	if err := p.Only("short_window", "long_window"); err != nil {
		return nil, err
	}

	short, err := p.Window("short_window", 50)
	if err != nil {
		return nil, err
	}
	long, err := p.Window("long_window", 200)
	if err != nil {
		return nil, err
	}
	if short >= long {
		return nil, fmt.Errorf("short_window %d must be below long_window %d", short, long)
	}

	return &MovingAverage{
		name:   def.Name,
		prefix: def.Prefix,
		short:  short,
		long:   long,
	}, nil
}

func (s *MovingAverage) Name() string {
	return s.name
}

func (s *MovingAverage) Apply(series *market.Series) error {
	closes := series.Closes()
	if err := series.SetColumn(s.prefix+"ma_short", indicator.SMA(closes, s.short)); err != nil {
		return err
	}

	return series.SetColumn(s.prefix+"ma_long", indicator.SMA(closes, s.long))
}

func (s *MovingAverage) Signal(series *market.Series) Signal {
	shortCol, longCol := s.prefix+"ma_short", s.prefix+"ma_long"
	i, ok := series.LastDefined(shortCol, longCol)
	if !ok || i == 0 {
		return Hold
	}

	prevShort, prevLong := series.Value(shortCol, i-1), series.Value(longCol, i-1)
	if prevShort.IsNone() || prevLong.IsNone() {
		return Hold
	}

	short, long := series.Value(shortCol, i).Unwrap(), series.Value(longCol, i).Unwrap()
	switch {
	case prevShort.Unwrap() < prevLong.Unwrap() && short >= long:
		return Buy
	case prevShort.Unwrap() > prevLong.Unwrap() && short <= long:
		return Sell
	default:
		return Hold
	}
}

type MeanReversion struct {
	name          string
	prefix        string
	window        int
	buyThreshold  float64
	sellThreshold float64
}

func NewMeanReversion(def Definition) (*MeanReversion, error) {
	p := def.Params
	if err := p.Only("z_score_window", "buy_threshold", "sell_threshold"); err != nil {
		return nil, err
	}

	window, err := p.Window("z_score_window", 20)
	if err != nil {
		return nil, err
	}
	if window < 2 {
		return nil, fmt.Errorf("z_score_window must be at least 2, got %d", window)
	}

	s := &MeanReversion{
		name:          def.Name,
		prefix:        def.Prefix,
		window:        window,
		buyThreshold:  p.Get("buy_threshold", -2),
		sellThreshold: p.Get("sell_threshold", 2),
	}
	if s.buyThreshold >= s.sellThreshold {
		return nil, fmt.Errorf("buy_threshold %v must be below sell_threshold %v", s.buyThreshold, s.sellThreshold)
	}

	return s, nil
}

func (s *MeanReversion) Name() string {
	return s.name
}

func (s *MeanReversion) Apply(series *market.Series) error {
	return series.SetColumn(s.prefix+"z_score", indicator.ZScore(series.Closes(), s.window))
}

func (s *MeanReversion) Signal(series *market.Series) Signal {
	col := s.prefix + "z_score"
	i, ok := series.LastDefined(col)
	if !ok {
		return Hold
	}

	z := series.Value(col, i).Unwrap()
	switch {
	case z <= s.buyThreshold:
		return Buy
	case z >= s.sellThreshold:
		return Sell
	default:
		return Hold
	}
}

// Breakout buys a close above the previous row's resistance by more than one
// ATR and sells a close below the previous row's support by more than one ATR.
type Breakout struct {
	name     string
	prefix   string
	atr      int
	lookback int
}

func NewBreakout(def Definition) (*Breakout, error) {
	p := def.Params
	if err := p.Only("atr_window", "lookback_window"); err != nil {
		return nil, err
	}

	atr, err := p.Window("atr_window", 14)
	if err != nil {
		return nil, err
	}
	lookback, err := p.Window("lookback_window", 20)
	if err != nil {
		return nil, err
	}

	return &Breakout{
		name:     def.Name,
		prefix:   def.Prefix,
		atr:      atr,
		lookback: lookback,
	}, nil
}

func (s *Breakout) Name() string {
	return s.name
}

func (s *Breakout) Apply(series *market.Series) error {
	highs, lows := series.Highs(), series.Lows()
	if err := series.SetColumn(s.prefix+"atr", indicator.ATR(highs, lows, series.Closes(), s.atr)); err != nil {
		return err
	}
	if err := series.SetColumn(s.prefix+"resistance", indicator.RollingMax(highs, s.lookback)); err != nil {
		return err
	}

	return series.SetColumn(s.prefix+"support", indicator.RollingMin(lows, s.lookback))
}

func (s *Breakout) Signal(series *market.Series) Signal {
	atrCol, resCol, supCol := s.prefix+"atr", s.prefix+"resistance", s.prefix+"support"
	i, ok := series.LastDefined(atrCol)
	if !ok || i == 0 {
		return Hold
	}

	res, sup := series.Value(resCol, i-1), series.Value(supCol, i-1)
	if res.IsNone() || sup.IsNone() {
		return Hold
	}

	atr := series.Value(atrCol, i).Unwrap()
	c, _ := series.Bars()[i].Close.Float64()
	switch {
	case c > res.Unwrap()+atr:
		return Buy
	case c < sup.Unwrap()-atr:
		return Sell
	default:
		return Hold
	}
}

// Combined runs its children over one series and takes a majority vote.
type Combined struct {
	name     string
	children []Strategy
}

func NewCombined(def Definition, c *Catalog) (*Combined, error) {
	if len(def.Children) == 0 {
		return nil, fmt.Errorf("combined strategy %s has no children", def.Name)
	}

	seen := make(map[string]struct{}, len(def.Children))
	var allowed []string
	for _, kind := range def.Children {
		if kind == KindCombined {
			return nil, fmt.Errorf("combined strategy %s cannot nest another combined strategy", def.Name)
		}
		if _, ok := seen[kind]; ok {
			return nil, fmt.Errorf("combined strategy %s lists %s twice", def.Name, kind)
		}
		seen[kind] = struct{}{}

		for k := range def.Params.Sub(kind + ".") {
			allowed = append(allowed, kind+"."+k)
		}
	}
	if err := def.Params.Only(allowed...); err != nil {
		return nil, err
	}

	s := &Combined{name: def.Name}
	for _, kind := range def.Children {
		child, err := c.Build(Definition{
			Name:   def.Name + "/" + kind,
			Kind:   kind,
			Prefix: def.Prefix + kind + ".",
			Params: def.Params.Sub(kind + "."),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create child strategy %s: %w", kind, err)
		}

		s.children = append(s.children, child)
	}

	return s, nil
}

func (s *Combined) Name() string {
	return s.name
}

func (s *Combined) Apply(series *market.Series) error {
	for _, c := range s.children {
		if err := c.Apply(series); err != nil {
			return fmt.Errorf("failed to apply %s: %w", c.Name(), err)
		}
	}

	return nil
}

func (s *Combined) Signal(series *market.Series) Signal {
	return Aggregate(s.Votes(series))
}

// Votes returns each child's signal in order.
func (s *Combined) Votes(series *market.Series) []Signal {
	votes := make([]Signal, len(s.children))
	for i, c := range s.children {
		votes[i] = c.Signal(series)
	}

	return votes
}
