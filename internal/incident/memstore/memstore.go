// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident // incident ID -> incident
	byTx      map[string]string             // lowercased tx hash -> incident ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		byTx:      make(map[string]string),
	}
}

// Get retrieves an incident by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// GetByTxHash retrieves the incident holding the given transaction hash,
// compared case-insensitively. Returns a copy.
func (s *Store) GetByTxHash(_ context.Context, txHash string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTx[strings.ToLower(txHash)]
	if !ok {
		return nil, false, nil
	}
	return s.incidents[id].Clone(), true, nil
}

// ListWindow returns copies of incidents first seen within [from, to],
// ordered by first_seen_at ascending then ID. Archived incidents are
// included.
func (s *Store) ListWindow(_ context.Context, from, to time.Time) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, inc := range s.incidents {
		if inc.FirstSeenAt.Before(from) || inc.FirstSeenAt.After(to) {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// List returns copies of incidents matching the filter, most recently
// updated first.
func (s *Store) List(_ context.Context, f incident.Filter) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.Incident
	for _, inc := range s.incidents {
		if !matches(inc, f) {
			continue
		}
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Put stores a copy of the incident.
func (s *Store) Put(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	if inc.TxHash != "" {
		s.byTx[strings.ToLower(inc.TxHash)] = inc.ID
	}
	return nil
}

func matches(inc *incident.Incident, f incident.Filter) bool {
	if !f.IncludeArchived && inc.ArchivedAt != nil {
		return false
	}
	if f.Chain != "" && !strings.EqualFold(inc.Chain, f.Chain) {
		return false
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Protocol != "" && incident.NormalizeName(inc.Protocol) != incident.NormalizeName(f.Protocol) {
		return false
	}
	return true
}
