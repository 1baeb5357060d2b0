package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident pipeline.
type Metrics struct {
	SubmitsTotal     *prometheus.CounterVec
	MatchesTotal     *prometheus.CounterVec
	RejectsTotal     *prometheus.CounterVec
	IncidentsCreated prometheus.Counter
	MergesTotal      prometheus.Counter
	ConflictsTotal   *prometheus.CounterVec
	LossOverrides    prometheus.Counter
	AmbiguousMatches prometheus.Counter
	UnknownTypeHints prometheus.Counter
	EventsPublished  *prometheus.CounterVec
	SubmitDuration   *prometheus.HistogramVec
	WindowScanSize   prometheus.Histogram
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_submits_total",
			Help: "Total candidate submissions by outcome.",
		}, []string{"outcome"}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_matches_total",
			Help: "Total candidate-to-incident matches by strategy.",
		}, []string{"strategy"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_rejects_total",
			Help: "Total rejected candidates by reason.",
		}, []string{"reason"}),
		IncidentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_incidents_created_total",
			Help: "Total incidents created from unmatched candidates.",
		}),
		MergesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_merges_total",
			Help: "Total candidate merges into existing incidents.",
		}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_conflicts_total",
			Help: "Total conflicting facts recorded, by field.",
		}, []string{"field"}),
		LossOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_loss_overrides_total",
			Help: "Total loss amounts overwritten by a higher-confidence source.",
		}),
		AmbiguousMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_ambiguous_matches_total",
			Help: "Fuzzy matches where more than one incident matched the window.",
		}),
		UnknownTypeHints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chainwatch_unknown_type_hints_total",
			Help: "Exploit type hints that did not resolve against the synonym table.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainwatch_events_published_total",
			Help: "Incident events delivered to subscribers, by kind.",
		}, []string{"kind"}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainwatch_submit_duration_seconds",
			Help:    "Duration of candidate submissions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~4s
		}, []string{"outcome"}),
		WindowScanSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainwatch_fuzzy_window_scan_size",
			Help:    "Incidents scanned per fuzzy-match window query.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 .. 2048
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.MatchesTotal,
		m.RejectsTotal,
		m.IncidentsCreated,
		m.MergesTotal,
		m.ConflictsTotal,
		m.LossOverrides,
		m.AmbiguousMatches,
		m.UnknownTypeHints,
		m.EventsPublished,
		m.SubmitDuration,
		m.WindowScanSize,
	)

	return m
}
