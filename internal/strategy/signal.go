package strategy

import (
	"fmt"

	"github.com/gamma-omg/cycle-trader/internal/market"
)

type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

func ParseSignal(s string) (Signal, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	case "hold":
		return Hold, nil
	default:
		return Hold, fmt.Errorf("unknown signal: %s", s)
	}
}

// Strategy decorates a series with the columns it needs and reads a signal
// from the most recent row where those columns are defined.
type Strategy interface {
	Name() string
	Apply(s *market.Series) error
	Signal(s *market.Series) Signal
}

// Aggregate is a majority vote: buy or sell wins only with strictly more
// votes than the other side, anything else holds.
func Aggregate(signals []Signal) Signal {
	buys, sells := 0, 0
	for _, s := range signals {
		switch s {
		case Buy:
			buys++
		case Sell:
			sells++
		}
	}

	switch {
	case buys > sells:
		return Buy
	case sells > buys:
		return Sell
	default:
		return Hold
	}
}
