package strategy

import (
	"slices"
	"sync"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
)

// Entry is a read-only view of a registered strategy.
type Entry struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule"`
	Children []string `json:"children,omitempty"`
	Params   Params   `json:"params"`
}

func (e Entry) definition() Definition {
	return Definition{
		Name:     e.Name,
		Kind:     e.Kind,
		Children: e.Children,
		Params:   e.Params.Clone(),
	}
}

func (e Entry) clone() Entry {
	e.Children = slices.Clone(e.Children)
	e.Params = e.Params.Clone()
	return e
}

// Registry holds the configured strategies in configuration order. All
// mutations go through its methods.
type Registry struct {
	mu      sync.RWMutex
	catalog *Catalog
	order   []string
	entries map[string]*Entry
}

// NewRegistry resolves every configured strategy once so that unknown kinds
// and bad parameters fail at startup.
func NewRegistry(defs []config.Strategy, c *Catalog) (*Registry, error) {
	r := &Registry{
		catalog: c,
		entries: make(map[string]*Entry, len(defs)),
	}

	for _, d := range defs {
		if _, ok := r.entries[d.Name]; ok {
			return nil, errs.Newf(errs.Config, "duplicate strategy name %q", d.Name)
		}

		e := Entry{
			Name:     d.Name,
			Kind:     d.Kind,
			Enabled:  d.IsEnabled(),
			Schedule: d.Schedule,
			Children: slices.Clone(d.Children),
			Params:   Params(d.Params).Clone(),
		}
		if _, err := c.Build(e.definition()); err != nil {
			return nil, errs.Wrapf(errs.Config, err, "invalid strategy %q", d.Name)
		}

		r.entries[d.Name] = &e
		r.order = append(r.order, d.Name)
	}

	return r, nil
}

func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n].clone())
	}

	return out
}

func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, errs.Newf(errs.NotFound, "strategy %q not found", name)
	}

	return e.clone(), nil
}

func (r *Registry) Enable(name string) bool {
	return r.setEnabled(name, true)
}

func (r *Registry) Disable(name string) bool {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return false
	}

	e.Enabled = enabled
	return true
}

func (r *Registry) UpdateParams(name string, p Params) bool {
	return r.UpdateParamsErr(name, p) == nil
}

// UpdateParamsErr replaces the parameter mapping of a strategy. The new
// mapping is validated by building an instance from it and is discarded as a
// whole when that fails.
func (r *Registry) UpdateParamsErr(name string, p Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errs.Newf(errs.NotFound, "strategy %q not found", name)
	}

	next := e.clone()
	next.Params = p.Clone()
	if _, err := r.catalog.Build(next.definition()); err != nil {
		return errs.Wrapf(errs.InvalidInput, err, "invalid params for strategy %q", name)
	}

	e.Params = next.Params
	return nil
}

// Snapshot builds a fresh instance from the current parameters so that a
// running cycle is unaffected by later updates.
func (r *Registry) Snapshot(name string) (Strategy, Entry, error) {
	e, err := r.Get(name)
	if err != nil {
		return nil, Entry{}, err
	}

	s, err := r.catalog.Build(e.definition())
	if err != nil {
		return nil, Entry{}, errs.Wrapf(errs.Config, err, "failed to build strategy %q", name)
	}

	return s, e, nil
}

func (r *Registry) Schedule(name string) (string, error) {
	e, err := r.Get(name)
	if err != nil {
		return "", err
	}

	return e.Schedule, nil
}

func (r *Registry) SetSchedule(name, spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errs.Newf(errs.NotFound, "strategy %q not found", name)
	}

	e.Schedule = spec
	return nil
}
