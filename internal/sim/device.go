package sim

import (
	"sync"

	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/status"
)

// Control operations understood by the simulated device.
const (
	OpStreamOn uint32 = iota + 1
	OpStreamOff
	OpSetExposure
	OpSetFrameRate
	OpPowerDown
	OpPowerUp
)

// Device is an in-memory hw.Device. Events raised by the simulated
// hardware are delivered to the registered callback on the raising
// goroutine.
type Device struct {
	mu       sync.Mutex
	open     bool
	id       uint32
	cb       hw.Callback
	token    any
	controls []uint32
}

// Open opens the device.
func (d *Device) Open(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return status.New(status.CodeBadState, "device %d already open", d.id)
	}
	d.open = true
	d.id = id
	return nil
}

// Control records op and echoes in into out.
func (d *Device) Control(op uint32, in []byte, out []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return status.New(status.CodeBadState, "device not open")
	}
	d.controls = append(d.controls, op)
	copy(out, in)
	return nil
}

// Close closes the device and drops the callback.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return status.New(status.CodeBadState, "device not open")
	}
	d.open = false
	d.cb = nil
	d.token = nil
	return nil
}

// RegisterCallback sets the event callback.
func (d *Device) RegisterCallback(cb hw.Callback, token any) error {
	if cb == nil {
		return status.New(status.CodeBadParam, "nil callback")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return status.New(status.CodeBadState, "device not open")
	}
	d.cb = cb
	d.token = token
	return nil
}

// Controls returns the control operations issued so far.
func (d *Device) Controls() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint32, len(d.controls))
	copy(out, d.controls)
	return out
}

func (d *Device) raise(ev hw.Event) {
	d.mu.Lock()
	cb, token := d.cb, d.token
	d.mu.Unlock()
	if cb != nil {
		cb(ev, token)
	}
}

func (d *Device) control(op uint32) {
	// stages issue controls while the device may already be closed during
	// shutdown; those are dropped
	_ = d.Control(op, nil, nil)
}
