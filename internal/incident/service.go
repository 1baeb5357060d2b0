package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/chainwatch/internal/candidate"
	"github.com/linnemanlabs/chainwatch/internal/rules"
)

// OutcomeKind classifies the result of a candidate submission.
type OutcomeKind string

const (
	OutcomeCreated  OutcomeKind = "created"
	OutcomeUpdated  OutcomeKind = "updated"
	OutcomeRejected OutcomeKind = "rejected"
)

// Rejection reasons reported on Outcome.Reason.
const (
	ReasonMalformed          = "malformed"
	ReasonInsufficientSignal = "insufficient_signal"
)

// Outcome is the result of submitting a candidate. Rejections carry a
// Reason; created/updated outcomes carry the affected incident snapshot.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Incident *Incident   `json:"incident,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// EventKind names the incident lifecycle events delivered to subscribers.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event carries an incident snapshot to downstream consumers (notifiers,
// dashboard stream).
type Event struct {
	Kind     EventKind `json:"kind"`
	Incident *Incident `json:"incident"`
}

// Subscriber receives incident events. Subscribers run on their own
// goroutine per event and must not mutate the snapshot.
type Subscriber func(ctx context.Context, ev Event)

// Categorizer re-derives categorized fields on an incident snapshot. It must
// be pure and idempotent. It returns the raw type hint when the hint did not
// resolve, for logging.
type Categorizer interface {
	Apply(inc *Incident) (unknownHint string)
}

// Options tunes the deduplicator.
type Options struct {
	// Window bounds the fuzzy match scan around a candidate's observation
	// time. Defaults to 72h.
	Window time.Duration

	// AmountTolerance is the relative tolerance for loss comparisons in
	// the fuzzy matcher. Defaults to 0.10.
	AmountTolerance float64
}

const (
	defaultWindow    = 72 * time.Hour
	defaultTolerance = 0.10
)

// Service is the business boundary for the incident pipeline: it owns
// deduplication, merge, categorization, and event dispatch.
type Service struct {
	store   Store
	cat     Categorizer
	tables  *rules.Tables
	opts    Options
	logger  log.Logger
	metrics *Metrics

	// txLocks serializes the read-merge-write sequence per transaction
	// hash; fuzzyMu covers the cross-incident fuzzy scan, which cannot be
	// partitioned by a single key.
	txLocks *keyedMutex
	fuzzyMu sync.Mutex

	subMu sync.RWMutex
	subs  []Subscriber
}

// NewService creates the incident service. A nil logger defaults to Nop, nil
// metrics register on a private throwaway registry, and nil tables use the
// built-in defaults.
func NewService(store Store, cat Categorizer, tables *rules.Tables, opts Options, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if tables == nil {
		tables = rules.Defaults()
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.AmountTolerance <= 0 {
		opts.AmountTolerance = defaultTolerance
	}
	return &Service{
		store:   store,
		cat:     cat,
		tables:  tables,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		txLocks: newKeyedMutex(),
	}
}

// Subscribe registers a subscriber for created/updated incident events.
func (s *Service) Subscribe(fn Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

// Submit runs one candidate through the dedup pipeline: validate, match
// (exact key first, fuzzy second), merge or create, re-categorize, persist,
// publish. Rejections are reported in the Outcome, not as errors; errors are
// reserved for store failures, which the caller may retry.
func (s *Service) Submit(ctx context.Context, c *candidate.Candidate) (*Outcome, error) {
	start := time.Now()
	outcome, err := s.submit(ctx, c)
	if err != nil {
		return nil, err
	}
	s.metrics.SubmitsTotal.WithLabelValues(string(outcome.Kind)).Inc()
	s.metrics.SubmitDuration.WithLabelValues(string(outcome.Kind)).Observe(time.Since(start).Seconds())
	return outcome, nil
}

func (s *Service) submit(ctx context.Context, c *candidate.Candidate) (*Outcome, error) {
	if err := c.Validate(); err != nil {
		s.metrics.RejectsTotal.WithLabelValues(ReasonMalformed).Inc()
		s.logger.Warn(ctx, "rejected malformed candidate",
			"source", c.SourceID, "external_ref", c.ExternalRef, "error", err)
		return &Outcome{Kind: OutcomeRejected, Reason: ReasonMalformed}, nil
	}

	// Without a tx hash we need at least two fuzzy signals to dedup
	// safely; anything sparser would only create noise incidents.
	if c.TxHash == "" && signalCount(c) < 2 {
		s.metrics.RejectsTotal.WithLabelValues(ReasonInsufficientSignal).Inc()
		s.logger.Warn(ctx, "rejected unprocessable candidate",
			"source", c.SourceID, "external_ref", c.ExternalRef, "signals", signalCount(c))
		return &Outcome{Kind: OutcomeRejected, Reason: ReasonInsufficientSignal}, nil
	}

	if c.TxHash != "" {
		unlock := s.txLocks.lock(strings.ToLower(c.TxHash))
		defer unlock()

		inc, ok, err := s.store.GetByTxHash(ctx, c.TxHash)
		if err != nil {
			return nil, fmt.Errorf("lookup by tx hash: %w", err)
		}
		if ok {
			s.metrics.MatchesTotal.WithLabelValues("tx_hash").Inc()
			return s.mergeAndPut(ctx, inc, c)
		}
	}

	// Fuzzy matching scans across incidents, so it runs under a single
	// coarse lock: two concurrent candidates for the same event must not
	// both decide "no match".
	s.fuzzyMu.Lock()
	defer s.fuzzyMu.Unlock()

	inc, err := s.fuzzyFind(ctx, c)
	if err != nil {
		return nil, err
	}
	if inc != nil {
		// A matched incident that carries a tx hash can be merged
		// concurrently by the exact-key path, which does not hold the
		// fuzzy lock. Take its key lock and re-read before merging.
		if inc.TxHash != "" && !strings.EqualFold(inc.TxHash, c.TxHash) {
			unlock := s.txLocks.lock(strings.ToLower(inc.TxHash))
			defer unlock()

			fresh, ok, err := s.store.GetByTxHash(ctx, inc.TxHash)
			if err != nil {
				return nil, fmt.Errorf("reread matched incident: %w", err)
			}
			if ok {
				inc = fresh
			}
		}
		s.metrics.MatchesTotal.WithLabelValues("fuzzy").Inc()
		return s.mergeAndPut(ctx, inc, c)
	}

	return s.create(ctx, c)
}

// fuzzyFind scans incidents first seen within the configured window of the
// candidate's observation time. First match in scan order wins; additional
// matches are logged for review.
func (s *Service) fuzzyFind(ctx context.Context, c *candidate.Candidate) (*Incident, error) {
	from := c.ObservedAt.Add(-s.opts.Window)
	to := c.ObservedAt.Add(s.opts.Window)

	window, err := s.store.ListWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("window scan: %w", err)
	}
	s.metrics.WindowScanSize.Observe(float64(len(window)))

	var matched *Incident
	for _, inc := range window {
		if !fuzzyMatch(inc, c, s.opts.AmountTolerance) {
			continue
		}
		if matched == nil {
			matched = inc
			continue
		}
		s.metrics.AmbiguousMatches.Inc()
		s.logger.Warn(ctx, "ambiguous fuzzy match, keeping first in scan order",
			"source", c.SourceID,
			"external_ref", c.ExternalRef,
			"matched_incident", matched.ID,
			"also_matched", inc.ID,
		)
	}
	return matched, nil
}

func (s *Service) mergeAndPut(ctx context.Context, inc *Incident, c *candidate.Candidate) (*Outcome, error) {
	out := merge(inc, c, s.tables)
	s.categorize(ctx, inc)

	L := s.logger.With("incident_id", inc.ID, "source", c.SourceID)

	if !out.changed {
		L.Info(ctx, "candidate merged with no new facts", "external_ref", c.ExternalRef)
		return &Outcome{Kind: OutcomeUpdated, Incident: inc.Clone()}, nil
	}

	if err := s.store.Put(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist merge: %w", err)
	}

	s.metrics.MergesTotal.Inc()
	for _, field := range out.conflictFields {
		s.metrics.ConflictsTotal.WithLabelValues(field).Inc()
		L.Warn(ctx, "conflicting fact recorded", "field", field)
	}
	if out.lossOverridden {
		s.metrics.LossOverrides.Inc()
		L.Info(ctx, "loss amount overridden by higher-confidence source",
			"loss_usd", *inc.LossUSD)
	}

	L.Info(ctx, "incident updated",
		"new_source", out.newSource,
		"conflicts", len(out.conflictFields),
		"severity", inc.Severity,
	)

	s.publish(ctx, EventUpdated, inc)
	return &Outcome{Kind: OutcomeUpdated, Incident: inc.Clone()}, nil
}

func (s *Service) create(ctx context.Context, c *candidate.Candidate) (*Outcome, error) {
	inc := newIncident(ulid.Make().String(), c)
	s.categorize(ctx, inc)

	if err := s.store.Put(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist incident: %w", err)
	}

	s.metrics.IncidentsCreated.Inc()
	s.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"source", c.SourceID,
		"tx_hash", inc.TxHash,
		"chain", inc.Chain,
		"protocol", inc.Protocol,
		"severity", inc.Severity,
	)

	s.publish(ctx, EventCreated, inc)
	return &Outcome{Kind: OutcomeCreated, Incident: inc.Clone()}, nil
}

func (s *Service) categorize(ctx context.Context, inc *Incident) {
	if s.cat == nil {
		return
	}
	if unknown := s.cat.Apply(inc); unknown != "" {
		s.metrics.UnknownTypeHints.Inc()
		s.logger.Warn(ctx, "unmapped exploit type hint",
			"incident_id", inc.ID, "hint", unknown)
	}
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*Incident, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns incidents matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]*Incident, error) {
	return s.store.List(ctx, f)
}

// Archive soft-archives an incident. Archived incidents stay matchable but
// drop out of default listings. Archiving twice is a no-op.
func (s *Service) Archive(ctx context.Context, id string) (*Incident, error) {
	inc, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup incident: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}

	// Exclude concurrent merges: tx-keyed for incidents with a hash, the
	// fuzzy lock otherwise.
	if inc.TxHash != "" {
		unlock := s.txLocks.lock(strings.ToLower(inc.TxHash))
		defer unlock()
	} else {
		s.fuzzyMu.Lock()
		defer s.fuzzyMu.Unlock()
	}

	// Re-read under the lock; a merge may have committed since.
	inc, ok, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup incident: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}

	if inc.ArchivedAt != nil {
		return inc, nil
	}

	now := time.Now().UTC()
	inc.ArchivedAt = &now
	if err := s.store.Put(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist archive: %w", err)
	}

	s.logger.Info(ctx, "incident archived", "incident_id", id)
	return inc.Clone(), nil
}

// publish fans an event out to all subscribers, each on its own goroutine
// with a detached context so request cancellation does not drop deliveries.
func (s *Service) publish(ctx context.Context, kind EventKind, inc *Incident) {
	s.subMu.RLock()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()

	if len(subs) == 0 {
		return
	}

	s.metrics.EventsPublished.WithLabelValues(string(kind)).Inc()

	snapshot := inc.Clone()
	detached := context.WithoutCancel(ctx)
	for _, fn := range subs {
		go fn(detached, Event{Kind: kind, Incident: snapshot})
	}
}

// IsNotFound reports whether err indicates a missing incident.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
