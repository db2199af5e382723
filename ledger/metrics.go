/*
metrics.go - Injected Prometheus metrics for the ledger

PURPOSE:
  Operational visibility: how many operations ran, how many failed and
  why, how long they took, what the last sweep did.

SCOPING:
  The collector registers against a prometheus.Registerer passed by the
  caller - never the process-global default registry - so tests can hand
  it a private registry (or no collector at all) and components stay
  substitutable.
*/
package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects ledger operation metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	sweepExpired  prometheus.Counter
	sweepFailures prometheus.Counter
	sweepLastRun  prometheus.Gauge
}

// NewMetrics builds and registers the ledger collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_ledger_operations_total",
			Help: "Ledger lifecycle operations by type and outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_ledger_operation_duration_seconds",
			Help:    "Ledger lifecycle operation duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_ledger_sweep_expired_total",
			Help: "Credits expired by the sweeper",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_ledger_sweep_failures_total",
			Help: "Per-credit failures recorded by the sweeper",
		}),
		sweepLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "credit_ledger_sweep_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		}),
	}

	reg.MustRegister(m.operations, m.duration, m.sweepExpired, m.sweepFailures, m.sweepLastRun)
	return m
}

func (m *Metrics) observeOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if IsClientError(err) {
			outcome = "rejected"
		}
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeSweep(expired, failed int, finished time.Time) {
	if m == nil {
		return
	}
	m.sweepExpired.Add(float64(expired))
	m.sweepFailures.Add(float64(failed))
	m.sweepLastRun.Set(float64(finished.Unix()))
}
