package realtime

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics holds the Prometheus collectors for the event bus.
type RealtimeMetrics struct {
	ConnectionsActive   prometheus.Gauge
	EventsTotal         *prometheus.CounterVec
	EventLatencySeconds prometheus.Histogram
	BroadcastDuration   prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec
}

// NewRealtimeMetrics registers and returns the event bus collectors.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storagecore",
			Subsystem: "realtime",
			Name:      "subscribers_active",
			Help:      "Number of active event subscribers.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storagecore",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events published, by type and source.",
		}, []string{"type", "source"}),
		EventLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storagecore",
			Subsystem: "realtime",
			Name:      "event_publish_latency_seconds",
			Help:      "Time spent broadcasting a single event to all subscribers.",
			Buckets:   prometheus.DefBuckets,
		}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storagecore",
			Subsystem: "realtime",
			Name:      "broadcast_duration_seconds",
			Help:      "Wall-clock duration of one broadcast fan-out.",
			Buckets:   prometheus.DefBuckets,
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storagecore",
			Subsystem: "realtime",
			Name:      "errors_total",
			Help:      "Event bus errors, by reason.",
		}, []string{"reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.ConnectionsActive, m.EventsTotal, m.EventLatencySeconds, m.BroadcastDuration, m.ErrorsTotal)
	}

	return m
}
