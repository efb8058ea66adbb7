/*
metrics.go - Prometheus instrumentation for the engine

PURPOSE:
  Recorder wraps the counters and histogram the engine reports through, so that a long-running process (the optional
  -metrics-addr HTTP listener in cmd/ledger) can expose them without the
  engine package importing net/http itself.

SEE ALSO:
  - punchamoorthee-ledgerops/cmd/api/main.go: the prometheus wiring this
    is grounded on.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements engine.Metrics.
type Recorder struct {
	operations     *prometheus.CounterVec
	commitDuration prometheus.Histogram
}

// NewRecorder builds a Recorder and registers its collectors with reg.
// Pass prometheus.DefaultRegisterer for the global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Count of engine operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_commit_duration_seconds",
			Help:    "Latency of a single engine operation's storage commit.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(r.operations, r.commitDuration)
	return r
}

// ObserveOperation increments the counter for kind/outcome.
func (r *Recorder) ObserveOperation(kind, outcome string) {
	r.operations.WithLabelValues(kind, outcome).Inc()
}

// ObserveCommitDuration records a single commit's latency in seconds.
func (r *Recorder) ObserveCommitDuration(seconds float64) {
	r.commitDuration.Observe(seconds)
}
