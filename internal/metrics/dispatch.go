package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "dispatch",
		Name:      "events_queued_total",
		Help:      "Hardware events accepted onto the inbound queue",
	}, []string{"kind"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "dispatch",
		Name:      "events_rejected_total",
		Help:      "Hardware events rejected because the inbound queue was full",
	}, []string{"kind"})

	eventsUnmatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "dispatch",
		Name:      "events_unmatched_total",
		Help:      "Hardware events that matched no streaming session",
	}, []string{"kind"})

	inboundDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camcore",
		Subsystem: "dispatch",
		Name:      "inbound_queue_depth",
		Help:      "Hardware events waiting for a worker",
	})

	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camcore",
		Subsystem: "engine",
		Name:      "sessions_open",
		Help:      "Open capture sessions",
	})

	pathsFree = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camcore",
		Subsystem: "engine",
		Name:      "paths_free",
		Help:      "Unreserved front-end output interfaces",
	})
)

// RecordEventQueued counts an accepted hardware event.
func RecordEventQueued(kind string, depth int) {
	eventsQueued.WithLabelValues(kind).Inc()
	inboundDepth.Set(float64(depth))
}

// RecordEventRejected counts a hardware event lost to a full queue.
func RecordEventRejected(kind string) {
	eventsRejected.WithLabelValues(kind).Inc()
}

// RecordEventUnmatched counts a hardware event no session claimed.
func RecordEventUnmatched(kind string) {
	eventsUnmatched.WithLabelValues(kind).Inc()
}

// SetInboundDepth records the inbound queue depth.
func SetInboundDepth(depth int) {
	inboundDepth.Set(float64(depth))
}

// SetSessionsOpen records the number of open sessions.
func SetSessionsOpen(n int) {
	sessionsOpen.Set(float64(n))
}

// SetPathsFree records the number of unreserved interfaces.
func SetPathsFree(n int) {
	pathsFree.Set(float64(n))
}
