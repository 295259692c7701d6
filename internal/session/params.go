package session

import (
	"fmt"

	"github.com/smazurov/camcore/internal/hw"
)

// ParamID identifies a session parameter.
type ParamID int

// Session parameters. Exposure and FrameRate are forwarded to the input
// configurer; the read-only ones describe the input.
const (
	ParamEventCallback ParamID = iota + 1
	ParamEventMask
	ParamLatencyMax
	ParamLatencyReduceRate
	ParamExposure
	ParamFrameRate
	ParamResolution
	ParamColorFormat
	ParamFieldType
)

var paramNames = map[ParamID]string{
	ParamEventCallback:     "event_callback",
	ParamEventMask:         "event_mask",
	ParamLatencyMax:        "latency_max",
	ParamLatencyReduceRate: "latency_reduce_rate",
	ParamExposure:          "exposure",
	ParamFrameRate:         "frame_rate",
	ParamResolution:        "resolution",
	ParamColorFormat:       "color_format",
	ParamFieldType:         "field_type",
}

func (p ParamID) String() string {
	if name, ok := paramNames[p]; ok {
		return name
	}
	return fmt.Sprintf("param(%d)", int(p))
}

// ParseParam resolves a parameter name.
func ParseParam(name string) (ParamID, bool) {
	for id, n := range paramNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// ExposureMode selects automatic or manual exposure.
type ExposureMode string

// Exposure modes.
const (
	ExposureAuto   ExposureMode = "auto"
	ExposureManual ExposureMode = "manual"
)

// Exposure holds exposure settings.
type Exposure struct {
	Mode   ExposureMode `json:"mode"`
	TimeUs int          `json:"time_us,omitempty"`
	Gain   float64      `json:"gain,omitempty"`
}

// Params are the per-session tunables.
type Params struct {
	Exposure          Exposure
	FrameRate         float64
	LatencyMax        int // 0 disables the bound
	LatencyReduceRate int
}

// EventMask selects which notifications a client receives.
type EventMask uint32

// Event mask bits.
const (
	MaskFrameReady EventMask = 1 << iota
	MaskInputSignal
	MaskPathError
	MaskFieldDegraded
	MaskFrameDropped

	MaskAll = MaskFrameReady | MaskInputSignal | MaskPathError | MaskFieldDegraded | MaskFrameDropped
)

// NotifyKind identifies a client notification.
type NotifyKind int

// Notification kinds.
const (
	NotifyFrameReady NotifyKind = iota + 1
	NotifyInputSignal
	NotifyPathError
	NotifyFieldDegraded
	NotifyFrameDropped
)

func (k NotifyKind) mask() EventMask {
	switch k {
	case NotifyFrameReady:
		return MaskFrameReady
	case NotifyInputSignal:
		return MaskInputSignal
	case NotifyPathError:
		return MaskPathError
	case NotifyFieldDegraded:
		return MaskFieldDegraded
	case NotifyFrameDropped:
		return MaskFrameDropped
	default:
		return 0
	}
}

func (k NotifyKind) String() string {
	switch k {
	case NotifyFrameReady:
		return "frame_ready"
	case NotifyInputSignal:
		return "input_signal"
	case NotifyPathError:
		return "path_error"
	case NotifyFieldDegraded:
		return "field_degraded"
	case NotifyFrameDropped:
		return "frame_dropped"
	default:
		return "unknown"
	}
}

// Notification is delivered to a client's event callback.
type Notification struct {
	Kind      NotifyKind
	Handle    Handle
	SessionID string
	Input     hw.InputID
	Frame     hw.FrameInfo
	Locked    bool
	Err       error
}

// EventCallback receives notifications. It is never called with a session
// lock held, so it may call back into the engine.
type EventCallback func(n Notification)

// Notifier is a callback bound to the notifications a client subscribed to.
type Notifier struct {
	cb   EventCallback
	mask EventMask
}

// Wants reports whether the client subscribed to kind.
func (n Notifier) Wants(kind NotifyKind) bool {
	return n.cb != nil && n.mask&kind.mask() != 0
}

// Send delivers note if the client subscribed to its kind.
func (n Notifier) Send(note Notification) {
	if n.Wants(note.Kind) {
		n.cb(note)
	}
}
