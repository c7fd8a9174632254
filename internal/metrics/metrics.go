// Package metrics defines the domain-level Prometheus instrumentation for
// the resolution pipeline, cache lifecycle, and publish path — distinct
// from internal/api/middleware's generic HTTP request metrics. Grounded
// on the teacher's cmd/server/signal_metrics.go (SignalPrometheusMetrics:
// a struct of promauto-registered vectors behind a narrow recording
// interface, constructed once and threaded through by reference).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "artifactproxy"

// Resolution records the outcome of C7's resolution pipeline and the
// downstream cache/revalidation decisions it triggers.
type Resolution interface {
	RecordResolution(outcome string, phase string)
	RecordCacheFetch(result string)
	RecordRevalidation(outcome string)
	ObserveUpstreamLatency(repo string, seconds float64)
	RecordPublish(status string)
	RecordConfigReload(source, status string)
}

// Registry is the concrete Resolution implementation, holding every
// registered collector.
type Registry struct {
	resolutions   *prometheus.CounterVec
	cacheFetches  *prometheus.CounterVec
	revalidations *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	publishes     *prometheus.CounterVec
	configReloads *prometheus.CounterVec
}

// New registers every collector against the default registry and
// returns the Registry. Call once per process.
func New() *Registry {
	return &Registry{
		resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolution",
				Name:      "outcomes_total",
				Help:      "Outcomes of the resolution pipeline (C7) by result kind and phase.",
			},
			[]string{"outcome", "phase"}, // outcome: mmap|dir|isadir|upstream|error; phase: local|remote|resolve
		),
		cacheFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "fetches_total",
				Help:      "Local-store lookups (C3) by result.",
			},
			[]string{"result"}, // hit|miss|error
		),
		revalidations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "freshness",
				Name:      "revalidations_total",
				Help:      "Freshness revalidation decisions (C6) by outcome.",
			},
			[]string{"outcome"}, // recorded by the GET handler from conditional evaluation: fresh|not-modified|precondition-failed|bad-request
		),
		upstreamLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "remote",
				Name:      "upstream_request_duration_seconds",
				Help:      "Latency of conditional GETs to remote upstreams (C4).",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"repo"},
		),
		publishes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publish",
				Name:      "requests_total",
				Help:      "PUT pipeline (C10) outcomes by status.",
			},
			[]string{"status"}, // created|conflict|too_large|forbidden|error
		),
		configReloads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "reload_total",
				Help:      "Repo config refreshAll attempts by trigger source and status.",
			},
			[]string{"source", "status"}, // source: sighup|admin-api; status: success|failure
		),
	}
}

func (r *Registry) RecordResolution(outcome, phase string) {
	r.resolutions.WithLabelValues(outcome, phase).Inc()
}

func (r *Registry) RecordCacheFetch(result string) {
	r.cacheFetches.WithLabelValues(result).Inc()
}

func (r *Registry) RecordRevalidation(outcome string) {
	r.revalidations.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveUpstreamLatency(repo string, seconds float64) {
	r.upstreamLatency.WithLabelValues(repo).Observe(seconds)
}

func (r *Registry) RecordPublish(status string) {
	r.publishes.WithLabelValues(status).Inc()
}

func (r *Registry) RecordConfigReload(source, status string) {
	r.configReloads.WithLabelValues(source, status).Inc()
}

// Noop satisfies Resolution without registering any collector, for tests
// and code paths that run before metrics are wired up.
type Noop struct{}

func (Noop) RecordResolution(string, string)         {}
func (Noop) RecordCacheFetch(string)                 {}
func (Noop) RecordRevalidation(string)               {}
func (Noop) ObserveUpstreamLatency(string, float64)  {}
func (Noop) RecordPublish(string)                    {}
func (Noop) RecordConfigReload(string, string)       {}
