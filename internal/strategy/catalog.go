package strategy

import (
	"fmt"
	"maps"
	"slices"
)

// Definition is everything needed to build a strategy instance. Prefix
// namespaces the columns the instance writes.
type Definition struct {
	Name     string
	Kind     string
	Prefix   string
	Children []string
	Params   Params
}

type Factory func(def Definition, c *Catalog) (Strategy, error)

// Catalog maps kind tags to factories.
type Catalog struct {
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(KindRSI, func(def Definition, _ *Catalog) (Strategy, error) { return NewRSI(def) })
	c.Register(KindMovingAverage, func(def Definition, _ *Catalog) (Strategy, error) { return NewMovingAverage(def) })
	c.Register(KindMeanReversion, func(def Definition, _ *Catalog) (Strategy, error) { return NewMeanReversion(def) })
	c.Register(KindBreakout, func(def Definition, _ *Catalog) (Strategy, error) { return NewBreakout(def) })
	c.Register(KindCombined, func(def Definition, c *Catalog) (Strategy, error) { return NewCombined(def, c) })
	return c
}

func (c *Catalog) Register(kind string, f Factory) {
	c.factories[kind] = f
}

func (c *Catalog) Kinds() []string {
	return slices.Sorted(maps.Keys(c.factories))
}

func (c *Catalog) Build(def Definition) (Strategy, error) {
	f, ok := c.factories[def.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind: %s", def.Kind)
	}

	if def.Params == nil {
		def.Params = Params{}
	}

	return f(def, c)
}
