package led

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camcore/internal/events"
)

type setCall struct {
	ledType string
	enabled bool
	pattern string
}

type mockController struct {
	mu       sync.Mutex
	setCalls []setCall
}

func (m *mockController) Set(ledType string, enabled bool, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls = append(m.setCalls, setCall{ledType, enabled, pattern})
	return nil
}

func (m *mockController) Available() []string { return []string{Indicator} }
func (m *mockController) Patterns() []string  { return []string{"solid", "blink"} }

func (m *mockController) last() (setCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.setCalls) == 0 {
		return setCall{}, 0
	}
	return m.setCalls[len(m.setCalls)-1], len(m.setCalls)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *mockController, *events.Bus) {
	t.Helper()
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, discard())
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return mgr, ctrl, bus
}

func waitPattern(t *testing.T, mgr *Manager, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for mgr.Pattern() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pattern = %q, want %q", mgr.Pattern(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stateEvent(session, from, to string) events.SessionStateChangedEvent {
	return events.SessionStateChangedEvent{
		SessionID: session,
		From:      from,
		To:        to,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func TestManager_StartsOff(t *testing.T) {
	mgr, ctrl, _ := newTestManager(t)

	if got := mgr.Pattern(); got != "off" {
		t.Errorf("initial pattern = %q, want off", got)
	}
	call, n := ctrl.last()
	if n != 1 || call.enabled || call.ledType != Indicator {
		t.Errorf("initial call = %+v (%d calls)", call, n)
	}
}

func TestManager_StreamingSolid(t *testing.T) {
	mgr, ctrl, bus := newTestManager(t)

	bus.Publish(stateEvent("s1", "reserved", "streaming"))
	waitPattern(t, mgr, "solid")

	call, _ := ctrl.last()
	if !call.enabled || call.pattern != "solid" {
		t.Errorf("last call = %+v", call)
	}

	// A reserved session alone does not light the LED.
	bus.Publish(stateEvent("s2", "opened", "reserved"))
	bus.Publish(stateEvent("s1", "streaming", "paused"))
	waitPattern(t, mgr, "off")
}

func TestManager_ClosedSessionForgotten(t *testing.T) {
	mgr, _, bus := newTestManager(t)

	bus.Publish(stateEvent("s1", "reserved", "streaming"))
	waitPattern(t, mgr, "solid")

	bus.Publish(stateEvent("s1", "streaming", "closed"))
	waitPattern(t, mgr, "off")
}

func TestManager_PathErrorBlinksUntilStreaming(t *testing.T) {
	mgr, _, bus := newTestManager(t)

	bus.Publish(stateEvent("s1", "reserved", "streaming"))
	waitPattern(t, mgr, "solid")

	bus.Publish(events.PathErrorEvent{Core: 1, Sessions: []string{"s1"}, Error: "link lost"})
	waitPattern(t, mgr, "blink")

	bus.Publish(stateEvent("s1", "streaming", "reserved"))
	bus.Publish(stateEvent("s1", "reserved", "streaming"))
	waitPattern(t, mgr, "solid")
}

func TestManager_StopSwitchesOff(t *testing.T) {
	ctrl := &mockController{}
	bus := events.New()
	mgr := NewManager(ctrl, bus, discard())
	mgr.Start()

	bus.Publish(stateEvent("s1", "reserved", "streaming"))
	waitPattern(t, mgr, "solid")

	mgr.Stop()
	call, _ := ctrl.last()
	if call.enabled {
		t.Errorf("LED still on after Stop: %+v", call)
	}
}

func TestManager_GetController(t *testing.T) {
	ctrl := &mockController{}
	mgr := NewManager(ctrl, events.New(), discard())

	if got := mgr.GetController(); got != ctrl {
		t.Error("GetController() did not return the injected controller")
	}
}
