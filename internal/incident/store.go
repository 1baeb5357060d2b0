package incident

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores for lookups that match nothing where the
// caller required a hit.
var ErrNotFound = errors.New("incident not found")

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Chain           string
	Severity        string
	Protocol        string
	IncludeArchived bool
	Limit           int
}

// Store is the persistence interface for incidents. Put must be atomic: the
// full field set of an incident changes in one step, never partially visible
// to readers.
type Store interface {
	// Get retrieves an incident by ID.
	Get(ctx context.Context, id string) (*Incident, bool, error)

	// GetByTxHash retrieves the incident holding the given transaction
	// hash. At most one incident may hold a given hash.
	GetByTxHash(ctx context.Context, txHash string) (*Incident, bool, error)

	// ListWindow returns incidents with first_seen_at in [from, to],
	// ordered by first_seen_at ascending then ID. Archived incidents are
	// included: identity is permanent.
	ListWindow(ctx context.Context, from, to time.Time) ([]*Incident, error)

	// List returns incidents matching the filter, most recently updated
	// first.
	List(ctx context.Context, f Filter) ([]*Incident, error)

	// Put inserts or replaces an incident atomically.
	Put(ctx context.Context, inc *Incident) error
}
