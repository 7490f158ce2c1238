package recovery

import "github.com/prometheus/client_golang/prometheus"

// Metrics records recovery attempts, mirroring the shape of the teacher's
// retry metrics (attempts/final-attempts/backoff) but labeled by recovery
// action and error kind instead of a caller-supplied operation name.
type Metrics struct {
	AttemptsTotal *prometheus.CounterVec
	FinalOutcome  *prometheus.CounterVec
	BackoffSeconds prometheus.Histogram
}

// NewMetrics registers and returns the recovery-engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storagecore",
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Recovery strategy execution attempts, by action, error kind, and outcome.",
		}, []string{"action", "error_kind", "outcome"}),
		FinalOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storagecore",
			Subsystem: "recovery",
			Name:      "final_outcome_total",
			Help:      "Terminal outcome of a recovery strategy execution, by action.",
		}, []string{"action", "outcome"}),
		BackoffSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storagecore",
			Subsystem: "recovery",
			Name:      "backoff_seconds",
			Help:      "Adaptive retry delay actually applied between attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.AttemptsTotal, m.FinalOutcome, m.BackoffSeconds)
	}

	return m
}
