package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/engine"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/platform"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/sim"
	"github.com/smazurov/camcore/internal/status"
)

type testServer struct {
	url string
	hw  *sim.Hardware
	bus *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hardware := sim.New(sim.Options{FrameInterval: -1, Logger: logger})
	bus := events.New()

	e, err := engine.New(engine.Config{Workers: 1}, engine.Deps{
		Platform: platform.Default(),
		Device:   hardware.Device(),
		Pipeline: hardware.Pipeline(),
		Mapper:   hardware.Mapper(),
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Engine:       e,
		EventBus:     bus,
	})
	ts := httptest.NewServer(server.mux)
	t.Cleanup(func() {
		ts.Close()
		if err := e.Shutdown(); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return &testServer{url: ts.URL, hw: hardware, bus: bus}
}

// do sends an authenticated request and decodes a JSON response into out.
func (s *testServer) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.url+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("test", "test")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) open(t *testing.T, input int, buffers int) models.SessionData {
	t.Helper()
	var sess models.SessionData
	if code := s.do(t, http.MethodPost, "/api/sessions", map[string]any{"input": input}, &sess); code != http.StatusCreated {
		t.Fatalf("open: status %d", code)
	}
	bufs := make([]models.BufferData, buffers)
	for i := range bufs {
		bufs[i] = models.BufferData{Handle: uint64(i + 1), Size: 4096}
	}
	if code := s.do(t, http.MethodPut, "/api/sessions/"+sess.Handle+"/buffers", map[string]any{"buffers": bufs}, &sess); code != http.StatusOK {
		t.Fatalf("set buffers: status %d", code)
	}
	return sess
}

func TestHealthWithoutAuth(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.url + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.url + "/api/inputs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, s.url+"/api/inputs", nil)
	req.SetBasicAuth("test", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", resp.StatusCode)
	}
}

func TestListInputs(t *testing.T) {
	s := newTestServer(t)

	var data models.InputListData
	if code := s.do(t, http.MethodGet, "/api/inputs", nil, &data); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if data.Count == 0 || data.Count != len(data.Inputs) {
		t.Errorf("inputs = %+v", data)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 0, 3)
	if sess.State != "opened" || sess.Buffers != 3 {
		t.Fatalf("session after open = %+v", sess)
	}

	if code := s.do(t, http.MethodPost, "/api/sessions/"+sess.Handle+"/start", nil, &sess); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	if sess.State != "streaming" || sess.Binding == nil {
		t.Fatalf("session after start = %+v", sess)
	}

	if !s.hw.Step(*sess.Binding) {
		t.Fatal("no frame produced")
	}

	var frame models.FrameData
	if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle+"/frame?timeout_ms=2000", nil, &frame); code != http.StatusOK {
		t.Fatalf("get frame: status %d", code)
	}
	if frame.BufferIndex != 0 || frame.Input != 0 || frame.Field != "none" {
		t.Errorf("frame = %+v", frame)
	}

	path := fmt.Sprintf("/api/sessions/%s/frames/%d/release", sess.Handle, frame.BufferIndex)
	if code := s.do(t, http.MethodPost, path, nil, nil); code != http.StatusNoContent {
		t.Errorf("release frame: status %d", code)
	}

	if code := s.do(t, http.MethodDelete, "/api/sessions/"+sess.Handle, nil, nil); code != http.StatusNoContent {
		t.Fatalf("close: status %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle, nil, nil); code != http.StatusNotFound {
		t.Errorf("closed handle: status %d, want 404", code)
	}
}

func TestGetFrameNoFrameReady(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 1, 2)
	s.do(t, http.MethodPost, "/api/sessions/"+sess.Handle+"/start", nil, nil)

	if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle+"/frame", nil, nil); code != http.StatusNoContent {
		t.Errorf("no-wait frame: status %d, want 204", code)
	}
	if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle+"/frame?timeout_ms=20", nil, nil); code != http.StatusRequestTimeout {
		t.Errorf("timed frame: status %d, want 408", code)
	}
}

func TestAbandonedFrameWaitKeepsBuffers(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 0, 2)
	if code := s.do(t, http.MethodPost, "/api/sessions/"+sess.Handle+"/start", nil, &sess); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/api/sessions/"+sess.Handle+"/frame?timeout_ms=-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("test", "test")
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
		t.Fatalf("infinite wait answered with status %d", resp.StatusCode)
	}

	// Let the server notice the closed connection before a frame arrives.
	time.Sleep(200 * time.Millisecond)
	if !s.hw.Step(*sess.Binding) {
		t.Fatal("no frame produced")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var cur models.SessionData
		if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle, nil, &cur); code != http.StatusOK {
			t.Fatalf("get session: status %d", code)
		}
		if cur.Queued == 1 && cur.Acquired == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queued=%d acquired=%d, want the frame waiting for a live client", cur.Queued, cur.Acquired)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var frame models.FrameData
	if code := s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle+"/frame", nil, &frame); code != http.StatusOK {
		t.Fatalf("get frame: status %d", code)
	}
	if frame.BufferIndex != 0 {
		t.Errorf("frame = %+v", frame)
	}
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 2, 2)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed handle", http.MethodGet, "/api/sessions/zzz", nil, http.StatusNotFound},
		{"stale handle", http.MethodGet, "/api/sessions/ca5e000000000007", nil, http.StatusNotFound},
		{"unknown input", http.MethodPost, "/api/sessions", map[string]any{"input": 999}, http.StatusBadRequest},
		{"pause while opened", http.MethodPost, "/api/sessions/" + sess.Handle + "/pause", nil, http.StatusConflict},
		{"frame while opened", http.MethodGet, "/api/sessions/" + sess.Handle + "/frame", nil, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.do(t, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParams(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 0, 2)
	base := "/api/sessions/" + sess.Handle + "/params/"

	var p models.ParamData
	if code := s.do(t, http.MethodPut, base+"latency_max", map[string]any{"value": 3}, &p); code != http.StatusOK {
		t.Fatalf("set latency_max: status %d", code)
	}
	if p.Value != float64(3) {
		t.Errorf("latency_max = %v", p.Value)
	}

	if code := s.do(t, http.MethodPut, base+"event_mask", map[string]any{"value": []string{"frame_ready", "path_error"}}, &p); code != http.StatusOK {
		t.Fatalf("set event_mask: status %d", code)
	}
	names, _ := p.Value.([]any)
	if len(names) != 2 || names[0] != "frame_ready" || names[1] != "path_error" {
		t.Errorf("event_mask = %v", p.Value)
	}

	exposure := map[string]any{"value": map[string]any{"mode": "manual", "time_us": 8000, "gain": 1.5}}
	if code := s.do(t, http.MethodPut, base+"exposure", exposure, &p); code != http.StatusOK {
		t.Fatalf("set exposure: status %d", code)
	}

	tests := []struct {
		name   string
		method string
		param  string
		body   any
		want   int
	}{
		{"read-only", http.MethodPut, "resolution", map[string]any{"value": 1}, http.StatusBadRequest},
		{"fractional int", http.MethodPut, "latency_max", map[string]any{"value": 1.5}, http.StatusBadRequest},
		{"negative latency", http.MethodPut, "latency_max", map[string]any{"value": -1}, http.StatusBadRequest},
		{"unknown event", http.MethodPut, "event_mask", map[string]any{"value": []string{"nope"}}, http.StatusBadRequest},
		{"callback", http.MethodPut, "event_callback", map[string]any{"value": true}, http.StatusBadRequest},
		{"unknown param", http.MethodGet, "shutter", nil, http.StatusNotFound},
		{"read resolution", http.MethodGet, "resolution", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.do(t, tt.method, base+tt.param, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPowerSuspendResume(t *testing.T) {
	s := newTestServer(t)
	sess := s.open(t, 0, 2)
	s.do(t, http.MethodPost, "/api/sessions/"+sess.Handle+"/start", nil, nil)

	var stats engine.Stats
	if code := s.do(t, http.MethodPost, "/api/power/suspend", nil, &stats); code != http.StatusOK || !stats.Suspended {
		t.Fatalf("suspend: status %d, stats %+v", code, stats)
	}
	if code := s.do(t, http.MethodPost, "/api/power/suspend", nil, nil); code != http.StatusConflict {
		t.Errorf("second suspend: status %d, want 409", code)
	}
	if code := s.do(t, http.MethodPost, "/api/power/resume", nil, &stats); code != http.StatusOK || stats.Suspended {
		t.Fatalf("resume: status %d, stats %+v", code, stats)
	}

	s.do(t, http.MethodGet, "/api/sessions/"+sess.Handle, nil, &sess)
	if sess.State != "streaming" {
		t.Errorf("state after resume = %s", sess.State)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := map[status.Code]int{
		status.CodeBadParam:         http.StatusBadRequest,
		status.CodeBadHandle:        http.StatusNotFound,
		status.CodeBadState:         http.StatusConflict,
		status.CodeNoMore:           http.StatusTooManyRequests,
		status.CodeTimeout:          http.StatusRequestTimeout,
		status.CodeResourceNotFound: http.StatusServiceUnavailable,
		status.CodeUnsupported:      http.StatusNotImplemented,
		status.CodeCorrupt:          http.StatusInternalServerError,
		status.CodeFailed:           http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := httpStatus(code); got != want {
			t.Errorf("httpStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestSSESessionEvents(t *testing.T) {
	s := newTestServer(t)

	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	resp, err := http.Get(fmt.Sprintf("%s/api/events?auth=%s", s.url, credentials))
	if err != nil {
		t.Fatalf("Failed to connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}

	messages := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				messages <- line
			}
		}
	}()

	select {
	case msg := <-messages:
		if !strings.Contains(msg, "inbound_capacity") {
			t.Errorf("first message is not a stats snapshot: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for initial SSE message")
	}

	sess := s.open(t, 3, 2)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-messages:
			if strings.Contains(msg, sess.ID) && strings.Contains(msg, `"to":"opened"`) {
				return
			}
		case <-deadline:
			t.Fatal("Timeout waiting for session-state-changed event")
		}
	}
}

func TestFrameTimeout(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{-1, -1},
		{0, 0},
		{250, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := frameTimeout(tt.ms); got != tt.want {
			t.Errorf("frameTimeout(%d) = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestDecodeEventMask(t *testing.T) {
	v, err := decodeParam(session.ParamEventMask, []any{"frame_dropped", "input_signal"})
	if err != nil {
		t.Fatal(err)
	}
	mask := v.(session.EventMask)
	if mask != session.MaskFrameDropped|session.MaskInputSignal {
		t.Errorf("mask = %#x", uint32(mask))
	}
	got := maskToNames(mask)
	if len(got) != 2 || got[0] != "input_signal" || got[1] != "frame_dropped" {
		t.Errorf("names = %v", got)
	}

	v, err = decodeParam(session.ParamEventMask, float64(session.MaskAll))
	if err != nil || v.(session.EventMask) != session.MaskAll {
		t.Errorf("numeric mask = %v, %v", v, err)
	}
	if encodeParam(session.ParamFieldType, hw.FieldOdd) != "odd" {
		t.Error("field type should encode by name")
	}
}
