package txn

import "github.com/prometheus/client_golang/prometheus"

// Metrics records per-phase durations, mirroring the reload coordinator's
// per-phase timing logs but exported as a histogram instead of log lines.
type Metrics struct {
	PhaseDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns the transaction-coordinator collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storagecore",
			Subsystem: "txn",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each two-phase commit phase, by phase name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.PhaseDuration)
	}
	return m
}
