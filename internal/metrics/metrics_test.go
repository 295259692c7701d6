package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestSessionMetricsCache(t *testing.T) {
	id := "metrics-test-session"
	DeleteSessionMetrics(id)

	if m := GetSessionMetrics(id); m != nil {
		t.Error("expected nil for unknown session")
	}

	RecordFrameDelivered(id, 2, 1)
	RecordFrameDelivered(id, 2, 2)
	RecordFramesDropped(id, 2, DropLatency, 3)
	RecordFramesDropped(id, 2, DropLatency, 0)
	RecordFieldUnknown(id, 2)
	SetQueueDepth(id, 1)

	m := GetSessionMetrics(id)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", m.Delivered)
	}
	if m.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", m.Dropped)
	}
	if m.FieldUnknown != 1 {
		t.Errorf("FieldUnknown = %d, want 1", m.FieldUnknown)
	}
	if m.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d, want 1", m.QueueDepth)
	}

	// Verify returned copy is independent
	m.Delivered = 999
	if GetSessionMetrics(id).Delivered != 2 {
		t.Error("cache was modified through returned copy")
	}

	DeleteSessionMetrics(id)
	if GetSessionMetrics(id) != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionMetricsConcurrentAccess(_ *testing.T) {
	id := "metrics-concurrent"
	defer DeleteSessionMetrics(id)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				RecordFrameDelivered(id, 0, j%4)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = GetSessionMetrics(id)
			}
		}()
	}
	wg.Wait()
}

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	RecordEventQueued("frame_done", 1)
	SetSessionsOpen(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, name := range []string{"camcore_dispatch_events_queued_total", "camcore_engine_sessions_open"} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in response", name)
		}
	}
}
