package strategy

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

type Params map[string]float64

func (p Params) Get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}

	return fallback
}

func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}

	return maps.Clone(p)
}

// Window reads a positive integer parameter.
func (p Params) Window(key string, fallback int) (int, error) {
	v := p.Get(key, float64(fallback))
	if v < 1 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%s must be a positive integer, got %v", key, v)
	}

	return int(v), nil
}

// Only rejects keys outside of the allowed set.
func (p Params) Only(allowed ...string) error {
	for _, k := range slices.Sorted(maps.Keys(p)) {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("unknown parameter %s, expected one of: %s", k, strings.Join(allowed, ", "))
		}
	}

	return nil
}

// Sub extracts the keys under prefix with the prefix stripped.
func (p Params) Sub(prefix string) Params {
	out := Params{}
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}

	return out
}
