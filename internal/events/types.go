package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypePathError
	TypeInputSignal
	TypeFrameDropped
	TypeFieldDegraded
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every session state transition,
// including open ("opened") and close ("closed").
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" example:"3f0c2a4e-8d7b-4f0e-9f57-0b8e51c1f2aa" doc:"Session identifier"`
	Handle    string `json:"handle" example:"ca5e1a2b00000000" doc:"Client handle"`
	Input     uint32 `json:"input" example:"0" doc:"Input identifier"`
	From      string `json:"from" example:"reserved" doc:"Previous state"`
	To        string `json:"to" example:"streaming" doc:"New state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// GetSessionID returns the session the event is about.
func (e SessionStateChangedEvent) GetSessionID() string {
	return e.SessionID
}

// IsStreaming reports whether the session is now delivering frames.
func (e SessionStateChangedEvent) IsStreaming() bool {
	return e.To == "streaming"
}

// PathErrorEvent is published when a front-end core reports a fatal link
// or path error.
type PathErrorEvent struct {
	Core      uint32   `json:"core" example:"0" doc:"Front-end core"`
	Sessions  []string `json:"sessions" doc:"Sessions bound to the core"`
	Error     string   `json:"error" example:"CSI CRC error" doc:"Error description"`
	Timestamp string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PathErrorEvent.
func (e PathErrorEvent) Type() uint32 { return TypePathError }

// InputSignalEvent is published when an input gains or loses signal lock.
type InputSignalEvent struct {
	Input     uint32 `json:"input" example:"2" doc:"Input identifier"`
	Locked    bool   `json:"locked" example:"true" doc:"Whether the input has signal"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for InputSignalEvent.
func (e InputSignalEvent) Type() uint32 { return TypeInputSignal }

// FrameDroppedEvent is published for every frame discarded before the
// client saw it.
type FrameDroppedEvent struct {
	SessionID   string `json:"session_id" doc:"Session identifier"`
	Input       uint32 `json:"input" example:"0" doc:"Input identifier"`
	FrameID     uint64 `json:"frame_id" example:"1042" doc:"Frame sequence number"`
	BufferIndex int    `json:"buffer_index" example:"3" doc:"Buffer handed back to hardware"`
	Reason      string `json:"reason" example:"latency" doc:"Why the frame was dropped: latency or queue_full"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// FieldDegradedEvent is published when an interlaced frame is delivered
// without a trustworthy field type.
type FieldDegradedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Input     uint32 `json:"input" example:"4" doc:"Input identifier"`
	FrameID   uint64 `json:"frame_id" example:"77" doc:"Frame sequence number"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FieldDegradedEvent.
func (e FieldDegradedEvent) Type() uint32 { return TypeFieldDegraded }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"engine" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
