package source

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/chainwatch/internal/candidate"
	"github.com/linnemanlabs/chainwatch/internal/incident"
)

// Submitter is the slice of the incident service the runner needs.
type Submitter interface {
	Submit(ctx context.Context, c *candidate.Candidate) (*incident.Outcome, error)
}

// Metrics instruments feed polling.
type Metrics struct {
	FetchesTotal    *prometheus.CounterVec
	CandidatesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers runner metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_source_fetches_total",
			Help: "Feed fetch attempts by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_source_candidates_total",
			Help: "Candidates pulled from feeds by adapter.",
		}, []string{"adapter"}),
	}
	reg.MustRegister(m.FetchesTotal, m.CandidatesTotal)
	return m
}

// Runner polls every registered adapter on a fixed interval and feeds the
// results into the incident pipeline.
type Runner struct {
	registry *Registry
	svc      Submitter
	logger   log.Logger
	metrics  *Metrics
	interval time.Duration

	mu         sync.Mutex
	watermarks map[string]time.Time
}

// NewRunner creates a runner. A nil logger defaults to Nop and nil metrics
// register on a private throwaway registry.
func NewRunner(registry *Registry, svc Submitter, logger log.Logger, metrics *Metrics, interval time.Duration) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{
		registry:   registry,
		svc:        svc,
		logger:     logger,
		metrics:    metrics,
		interval:   interval,
		watermarks: make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled. Each adapter gets its own goroutine so
// one slow feed cannot starve the others. Run blocks until all pollers have
// stopped.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range r.registry.All() {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			r.poll(ctx, a)

			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.poll(ctx, a)
				}
			}
		}(a)
	}
	wg.Wait()
}

func (r *Runner) poll(ctx context.Context, a Adapter) {
	since := r.watermark(a.Name())

	candidates, err := a.Fetch(ctx, since)
	if err != nil {
		r.metrics.FetchesTotal.WithLabelValues(a.Name(), "error").Inc()
		r.logger.Error(ctx, err, "feed fetch failed", "adapter", a.Name())
		return
	}
	r.metrics.FetchesTotal.WithLabelValues(a.Name(), "ok").Inc()
	r.metrics.CandidatesTotal.WithLabelValues(a.Name()).Add(float64(len(candidates)))

	// Oldest first, so a partial batch leaves a watermark the next poll
	// can resume from.
	slices.SortFunc(candidates, func(a, b candidate.Candidate) int {
		return a.ObservedAt.Compare(b.ObservedAt)
	})

	newest := since
	for i := range candidates {
		c := &candidates[i]

		out, err := r.svc.Submit(ctx, c)
		if err != nil {
			r.logger.Error(ctx, err, "feed candidate submit failed",
				"adapter", a.Name(), "external_ref", c.ExternalRef)
			// Stop here so the watermark stays behind the failed
			// candidate and the next poll retries it.
			break
		}
		if c.ObservedAt.After(newest) {
			newest = c.ObservedAt
		}

		if out.Kind == incident.OutcomeRejected {
			r.logger.Warn(ctx, "feed candidate rejected",
				"adapter", a.Name(), "external_ref", c.ExternalRef, "reason", out.Reason)
		}
	}

	r.advance(a.Name(), newest)
}

func (r *Runner) watermark(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermarks[name]
}

func (r *Runner) advance(name string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.watermarks[name]) {
		r.watermarks[name] = t
	}
}
