// Package metrics exports the orchestrator kernel's Prometheus
// collectors, grounded on internal/nodemanager/metrics_prometheus.go's
// struct-of-collectors-plus-RecordX idiom: one Metrics value built once
// at process start and passed by pointer to every component that
// records against it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the kernel records against. A nil
// *Metrics is valid: every RecordX/ObserveX method is a no-op on a nil
// receiver, so components can be constructed without one (as every test
// suite does) without registering anything against the default registry.
type Metrics struct {
	TaskTransitionsTotal *prometheus.CounterVec
	DispatchLatency      prometheus.Histogram
	LeaseReclaimsTotal   prometheus.Counter
	VerifyTotal          *prometheus.CounterVec
}

// New builds and registers a Metrics against the default registry.
// Call it at most once per process; a second call with the same
// namespace panics on duplicate registration, which is why every
// constructor in this repo takes an already-built *Metrics rather than
// building its own.
func New(namespace string) *Metrics {
	return &Metrics{
		TaskTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task Engine state transitions, labeled by source and destination status.",
		}, []string{"from", "to"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_dispatch_latency_seconds",
			Help:      "Time a ready task waits for a free worker slot before the Scheduler dispatches it.",
			Buckets:   prometheus.DefBuckets,
		}),
		LeaseReclaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_reclaims_total",
			Help:      "Tasks the Lease Sweeper failed after their heartbeat lease expired.",
		}),
		VerifyTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Reality Verifier invocations, labeled by pass or fail.",
		}, []string{"result"}),
	}
}

// RecordTransition counts one Task Engine state transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TaskTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveDispatchLatency records how long a task waited for a worker slot.
func (m *Metrics) ObserveDispatchLatency(seconds float64) {
	if m == nil {
		return
	}
	m.DispatchLatency.Observe(seconds)
}

// RecordLeaseReclaim counts one lease reclamation.
func (m *Metrics) RecordLeaseReclaim() {
	if m == nil {
		return
	}
	m.LeaseReclaimsTotal.Inc()
}

// RecordVerify counts one Reality Verifier invocation's outcome.
func (m *Metrics) RecordVerify(pass bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !pass {
		result = "fail"
	}
	m.VerifyTotal.WithLabelValues(result).Inc()
}
