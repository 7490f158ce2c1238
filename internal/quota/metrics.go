package quota

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the quota tier and effective-usage percent as gauges,
// matching the per-package Prometheus wiring used by internal/txn and
// internal/recovery.
type Metrics struct {
	EffectivePercent prometheus.Gauge
	TierCritical     prometheus.Gauge
	ReservationCount prometheus.Gauge
}

// NewMetrics registers the quota gauges against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EffectivePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storagecore",
			Subsystem: "quota",
			Name:      "effective_percent",
			Help:      "Effective usage as a fraction of quota (0-1+).",
		}),
		TierCritical: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storagecore",
			Subsystem: "quota",
			Name:      "tier_critical",
			Help:      "1 if the current tier is critical, else 0.",
		}),
		ReservationCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storagecore",
			Subsystem: "quota",
			Name:      "reservations_active",
			Help:      "Number of unexpired write reservations.",
		}),
	}
	reg.MustRegister(m.EffectivePercent, m.TierCritical, m.ReservationCount)
	return m
}

func (m *Metrics) observe(status QuotaStatus, reservationCount int) {
	if m == nil {
		return
	}
	m.EffectivePercent.Set(status.EffectivePct)
	if status.Tier == TierCritical {
		m.TierCritical.Set(1)
	} else {
		m.TierCritical.Set(0)
	}
	m.ReservationCount.Set(float64(reservationCount))
}
