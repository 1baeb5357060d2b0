// Package source pulls exploit reports from external feeds and turns them
// into candidates for the incident pipeline.
package source

import (
	"context"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
)

// Adapter is one external feed chainwatch can poll for exploit reports.
type Adapter interface {
	Name() string
	// Fetch returns candidates observed after since. Implementations must
	// stamp SourceID on every candidate they emit.
	Fetch(ctx context.Context, since time.Time) ([]candidate.Candidate, error)
}

// Registry holds configured adapters, keyed by name.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, keyed by its Name. Re-registering a name
// replaces the previous adapter.
func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// All returns the registered adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}
