package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/camcore/internal/events"
)

// Manager drives the indicator LED from capture activity on the event bus.
//
// Solid while at least one session streams, heartbeat after a path error
// until a session streams again, off otherwise.
type Manager struct {
	controller Controller
	eventBus   *events.Bus
	logger     *slog.Logger

	unsubscribe []func()

	mu        sync.Mutex
	streaming map[string]bool // session id -> streaming
	faulted   bool
	pattern   string
}

// NewManager creates a new LED manager.
func NewManager(controller Controller, eventBus *events.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		controller: controller,
		eventBus:   eventBus,
		logger:     logger,
		streaming:  make(map[string]bool),
	}
}

// Start subscribes to session and path events and sets the initial state.
func (m *Manager) Start() {
	m.unsubscribe = append(m.unsubscribe,
		m.eventBus.Subscribe(m.handleState),
		m.eventBus.Subscribe(m.handlePathError),
	)
	m.mu.Lock()
	m.updateLocked()
	m.mu.Unlock()
	m.logger.Info("LED manager started")
}

// Stop unsubscribes from events and switches the indicator off.
func (m *Manager) Stop() {
	for _, unsub := range m.unsubscribe {
		unsub()
	}
	m.unsubscribe = nil
	if err := m.controller.Set(Indicator, false, ""); err != nil {
		m.logger.Debug("Failed to switch LED off", "error", err)
	}
	m.logger.Info("LED manager stopped")
}

func (m *Manager) handleState(e events.SessionStateChangedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case e.To == "closed":
		delete(m.streaming, e.GetSessionID())
	case e.IsStreaming():
		m.streaming[e.GetSessionID()] = true
		m.faulted = false
	default:
		m.streaming[e.GetSessionID()] = false
	}
	m.logger.Debug("Session state changed", "session", e.SessionID, "from", e.From, "to", e.To)
	m.updateLocked()
}

func (m *Manager) handlePathError(e events.PathErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faulted = true
	m.logger.Debug("Path error", "core", e.Core, "error", e.Error)
	m.updateLocked()
}

// Pattern returns the pattern last applied to the indicator ("off" when dark).
func (m *Manager) Pattern() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pattern
}

func (m *Manager) updateLocked() {
	pattern := "off"
	switch {
	case m.faulted:
		pattern = "blink"
	case m.anyStreamingLocked():
		pattern = "solid"
	}
	if pattern == m.pattern {
		return
	}

	var err error
	if pattern == "off" {
		err = m.controller.Set(Indicator, false, "solid")
	} else {
		err = m.controller.Set(Indicator, true, pattern)
	}
	if err != nil {
		m.logger.Warn("Failed to set indicator LED", "pattern", pattern, "error", err)
		return
	}
	m.pattern = pattern
}

func (m *Manager) anyStreamingLocked() bool {
	for _, on := range m.streaming {
		if on {
			return true
		}
	}
	return false
}

// GetController returns the underlying LED controller.
func (m *Manager) GetController() Controller {
	return m.controller
}
