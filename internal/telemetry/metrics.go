package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ferrors "github.com/Aman-CERP/finrag/internal/errors"
	"github.com/Aman-CERP/finrag/internal/search"
)

// Query outcomes used as the "outcome" label.
const (
	OutcomeResults    = "results"
	OutcomeNoEvidence = "no_evidence"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
)

// Metrics exports retrieval diagnostics as Prometheus series on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal        *prometheus.CounterVec
	queryDuration       *prometheus.HistogramVec
	fusedResults        *prometheus.HistogramVec
	backendOutcomes     *prometheus.CounterVec
	backendDuration     *prometheus.HistogramVec
	backendCandidates   *prometheus.HistogramVec
	topKClampedTotal    prometheus.Counter
	allBackendsFailures prometheus.Counter
}

// NewMetrics creates and registers the finrag retrieval series.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finrag",
			Subsystem: "query",
			Name:      "total",
			Help:      "Total queries by route and outcome.",
		},
		[]string{"route", "outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finrag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 1.5, 2.5},
		},
		[]string{"route"},
	)
	fusedResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finrag",
			Subsystem: "query",
			Name:      "fused_results",
			Help:      "Distribution of fused results returned per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
		[]string{"route"},
	)
	backendOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finrag",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Backend calls by backend and status.",
		},
		[]string{"backend", "status"},
	)
	backendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finrag",
			Subsystem: "backend",
			Name:      "duration_seconds",
			Help:      "Backend call latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 0.8, 1.5},
		},
		[]string{"backend"},
	)
	backendCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finrag",
			Subsystem: "backend",
			Name:      "candidates",
			Help:      "Candidates returned per successful backend call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		},
		[]string{"backend"},
	)
	topKClampedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finrag",
			Subsystem: "query",
			Name:      "top_k_clamped_total",
			Help:      "Queries whose top_k exceeded the configured maximum.",
		},
	)
	allBackendsFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finrag",
			Subsystem: "query",
			Name:      "all_backends_failed_total",
			Help:      "Queries where no dispatched backend answered.",
		},
	)

	registry.MustRegister(
		queriesTotal,
		queryDuration,
		fusedResults,
		backendOutcomes,
		backendDuration,
		backendCandidates,
		topKClampedTotal,
		allBackendsFailures,
	)

	return &Metrics{
		registry:            registry,
		queriesTotal:        queriesTotal,
		queryDuration:       queryDuration,
		fusedResults:        fusedResults,
		backendOutcomes:     backendOutcomes,
		backendDuration:     backendDuration,
		backendCandidates:   backendCandidates,
		topKClampedTotal:    topKClampedTotal,
		allBackendsFailures: allBackendsFailures,
	}
}

// Registry returns the registry the series live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery implements search.MetricsRecorder.
func (m *Metrics) ObserveQuery(d *search.Diagnostics, err error) {
	if d == nil {
		return
	}
	route := string(d.Route)
	if route == "" {
		route = "unknown"
	}
	outcome := Outcome(d, err)
	m.queriesTotal.WithLabelValues(route, outcome).Inc()
	m.queryDuration.WithLabelValues(route).Observe(d.TotalLatency.Seconds())
	if outcome != OutcomeFailed && outcome != OutcomeRejected {
		m.fusedResults.WithLabelValues(route).Observe(float64(d.FusedCount))
	}
	if d.TopKClamped {
		m.topKClampedTotal.Inc()
	}
	if errors.Is(err, ferrors.ErrAllBackendsFailed) {
		m.allBackendsFailures.Inc()
	}

	for _, bd := range d.Backends {
		m.backendOutcomes.WithLabelValues(string(bd.Backend), string(bd.Status)).Inc()
		m.backendDuration.WithLabelValues(string(bd.Backend)).Observe(bd.Latency.Seconds())
		if bd.Status.Succeeded() {
			m.backendCandidates.WithLabelValues(string(bd.Backend)).Observe(float64(bd.Count))
		}
	}
}

// Outcome names how a query ended.
func Outcome(d *search.Diagnostics, err error) string {
	switch {
	case errors.Is(err, ferrors.ErrInvalidInput):
		return OutcomeRejected
	case err != nil:
		return OutcomeFailed
	case d.NoEvidence:
		return OutcomeNoEvidence
	default:
		return OutcomeResults
	}
}

// Recorders fans one observation out to several recorders.
type Recorders []search.MetricsRecorder

// ObserveQuery implements search.MetricsRecorder.
func (rs Recorders) ObserveQuery(d *search.Diagnostics, err error) {
	for _, r := range rs {
		if r != nil {
			r.ObserveQuery(d, err)
		}
	}
}
