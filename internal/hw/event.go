package hw

import (
	"fmt"
	"time"
)

// EventKind identifies a hardware event.
type EventKind uint8

// Hardware events.
const (
	EventFrameDone EventKind = iota + 1
	EventSOF
	EventPathError
	EventInputStatus
)

func (k EventKind) String() string {
	switch k {
	case EventFrameDone:
		return "frame_done"
	case EventSOF:
		return "sof"
	case EventPathError:
		return "path_error"
	case EventInputStatus:
		return "input_status"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is a hardware completion message raised from callback context.
// Which fields are meaningful depends on Kind.
type Event struct {
	Kind      EventKind
	Path      PathBinding // frame-done, sof, path-error (Core only)
	Input     InputID     // input-status
	Buffer    int         // frame-done
	FrameID   uint64      // frame-done, sof
	Timestamp time.Duration
	SOFTime   time.Duration // frame-done: start-of-frame time of this frame
	Field     FieldType     // sof: field reported by the input for interlaced sources
	Locked    bool          // input-status: signal present
	Err       error         // path-error
}

// Callback receives hardware events together with the token passed at registration.
type Callback func(ev Event, token any)

// Device is the driver contract the core depends on. Control transfers are
// opaque: the core never interprets in or out.
type Device interface {
	Open(id uint32) error
	Control(op uint32, in []byte, out []byte) error
	Close() error
	RegisterCallback(cb Callback, token any) error
}
