// Package metrics provides Prometheus metrics for capture sessions and the
// event dispatcher.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "session",
		Name:      "frames_delivered_total",
		Help:      "Frames queued for delivery to clients",
	}, []string{"input"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "session",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded before the client received them",
	}, []string{"input", "reason"})

	fieldUnknown = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camcore",
		Subsystem: "session",
		Name:      "field_unknown_total",
		Help:      "Interlaced frames delivered without a resolved field type",
	}, []string{"input"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camcore",
		Subsystem: "session",
		Name:      "queue_depth",
		Help:      "Undelivered frames waiting for get-frame",
	}, []string{"session_id"})

	// Local cache for API access.
	sessionCache   = make(map[string]*SessionMetrics)
	sessionCacheMu sync.RWMutex
)

// Drop reasons.
const (
	DropLatency   = "latency"
	DropQueueFull = "queue_full"
)

// SessionMetrics holds current counter values for a session.
type SessionMetrics struct {
	Delivered    uint64 `json:"delivered"`
	Dropped      uint64 `json:"dropped"`
	FieldUnknown uint64 `json:"field_unknown"`
	QueueDepth   int    `json:"queue_depth"`
}

// RecordFrameDelivered counts a frame queued for a session.
func RecordFrameDelivered(sessionID string, input uint32, depth int) {
	framesDelivered.WithLabelValues(inputLabel(input)).Inc()
	queueDepth.WithLabelValues(sessionID).Set(float64(depth))
	updateCache(sessionID, func(m *SessionMetrics) {
		m.Delivered++
		m.QueueDepth = depth
	})
}

// RecordFramesDropped counts frames discarded for reason.
func RecordFramesDropped(sessionID string, input uint32, reason string, n int) {
	if n <= 0 {
		return
	}
	framesDropped.WithLabelValues(inputLabel(input), reason).Add(float64(n))
	updateCache(sessionID, func(m *SessionMetrics) { m.Dropped += uint64(n) })
}

// RecordFieldUnknown counts a frame delivered with an unknown field.
func RecordFieldUnknown(sessionID string, input uint32) {
	fieldUnknown.WithLabelValues(inputLabel(input)).Inc()
	updateCache(sessionID, func(m *SessionMetrics) { m.FieldUnknown++ })
}

// SetQueueDepth records the current delivered-frame queue depth.
func SetQueueDepth(sessionID string, depth int) {
	queueDepth.WithLabelValues(sessionID).Set(float64(depth))
	updateCache(sessionID, func(m *SessionMetrics) { m.QueueDepth = depth })
}

// DeleteSessionMetrics removes all per-session metrics.
func DeleteSessionMetrics(sessionID string) {
	queueDepth.DeleteLabelValues(sessionID)

	sessionCacheMu.Lock()
	delete(sessionCache, sessionID)
	sessionCacheMu.Unlock()
}

// GetSessionMetrics returns current values for a session.
func GetSessionMetrics(sessionID string) *SessionMetrics {
	sessionCacheMu.RLock()
	defer sessionCacheMu.RUnlock()
	if m, ok := sessionCache[sessionID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(sessionID string, update func(*SessionMetrics)) {
	sessionCacheMu.Lock()
	defer sessionCacheMu.Unlock()
	m, ok := sessionCache[sessionID]
	if !ok {
		m = &SessionMetrics{}
		sessionCache[sessionID] = m
	}
	update(m)
}

func inputLabel(input uint32) string {
	return strconv.FormatUint(uint64(input), 10)
}
