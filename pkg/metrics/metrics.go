// Package metrics exposes Prometheus counters and histograms for the three
// hot paths named in the concurrency model (§5): append, verify, and
// checkpoint. Only the instrumentation itself is in scope here, not
// dashboards or alert rules.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this service emits, registered against its
// own prometheus.Registry rather than the global default so multiple
// instances (e.g. in tests) never collide on metric registration.
type Registry struct {
	registry *prometheus.Registry

	AppendsTotal       *prometheus.CounterVec
	AppendDuration     *prometheus.HistogramVec
	VerifyRunsTotal    *prometheus.CounterVec
	VerifyFailuresTotal *prometheus.CounterVec
	CheckpointsTotal   *prometheus.CounterVec
	CheckpointDuration *prometheus.HistogramVec
}

// NewRegistry constructs and registers every metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		AppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "appends_total",
			Help:      "Total ledger entries appended, by table and op_type.",
		}, []string{"table", "op_type"}),
		AppendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "append_duration_seconds",
			Help:      "Latency of a single ledger append, including the advisory tail lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
		VerifyRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "verify_runs_total",
			Help:      "Total verification protocol runs, by table and protocol (chain, checkpoint, live, record).",
		}, []string{"table", "protocol"}),
		VerifyFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "verify_failures_total",
			Help:      "Total verification protocol runs that surfaced an integrity failure.",
		}, []string{"table", "protocol"}),
		CheckpointsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "checkpoints_total",
			Help:      "Total checkpoints computed, by table and outcome (ok, empty_table, sign_error).",
		}, []string{"table", "outcome"}),
		CheckpointDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "checkpoint_duration_seconds",
			Help:      "Latency of computing and signing a checkpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
	}
}

// Handler returns the HTTP handler serving this registry's metrics in the
// Prometheus exposition format, suitable for mounting at config.MetricsAddr.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveAppend records a single C4 append's latency and op_type.
func (r *Registry) ObserveAppend(table, opType string, d time.Duration) {
	r.AppendsTotal.WithLabelValues(table, opType).Inc()
	r.AppendDuration.WithLabelValues(table).Observe(d.Seconds())
}

// ObserveVerify records one run of a C8 protocol, flagging failed when the
// protocol surfaced an integrity failure.
func (r *Registry) ObserveVerify(table, protocol string, failed bool) {
	r.VerifyRunsTotal.WithLabelValues(table, protocol).Inc()
	if failed {
		r.VerifyFailuresTotal.WithLabelValues(table, protocol).Inc()
	}
}

// ObserveCheckpoint records a C7 checkpoint attempt's outcome and latency.
func (r *Registry) ObserveCheckpoint(table, outcome string, d time.Duration) {
	r.CheckpointsTotal.WithLabelValues(table, outcome).Inc()
	r.CheckpointDuration.WithLabelValues(table).Observe(d.Seconds())
}
