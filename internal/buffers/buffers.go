// Package buffers tracks client buffers mapped into device address space and
// their per-buffer lifecycle.
//
// A Manager belongs to exactly one session and is guarded by that session's
// lock; it does no locking of its own.
package buffers

import (
	"errors"
	"fmt"

	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/status"
)

// Limits.
const (
	MaxBuffers       = 16
	MinBuffers       = 2
	MaxInternalLists = 4
)

// State is the lifecycle state of one buffer.
type State int

// Buffer states.
const (
	StateUninitialized State = iota
	StateInitialized
	StateEnqueued  // owned by the output path
	StateDelivered // on the delivered-frame queue
	StateAcquired  // handed to the client by get-frame
	StateReleased  // returned by the client, not yet re-submitted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateEnqueued:
		return "enqueued"
	case StateDelivered:
		return "delivered"
	case StateAcquired:
		return "acquired"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClientBuffer is a buffer supplied by the client.
type ClientBuffer struct {
	Handle uint64 `json:"handle"`
	Size   int    `json:"size"`
}

// Buffer is one mapped buffer.
type Buffer struct {
	Index      int
	State      State
	Native     uint64
	DeviceAddr uint64
	Size       int
}

// List is a fixed-capacity set of buffers.
type List struct {
	buffers [MaxBuffers]Buffer
	count   int
	inUse   bool
	Format  hw.PixelFormat
}

// Len returns the number of mapped buffers.
func (l *List) Len() int {
	return l.count
}

// Buffer returns a copy of the buffer descriptor at idx.
func (l *List) Buffer(idx int) (Buffer, error) {
	if idx < 0 || idx >= l.count {
		return Buffer{}, status.New(status.CodeBadParam, "buffer index %d out of range [0,%d)", idx, l.count)
	}
	return l.buffers[idx], nil
}

func (l *List) reset() {
	l.buffers = [MaxBuffers]Buffer{}
	l.count = 0
	l.Format = ""
}

// Mapper maps client buffers into device address space.
type Mapper interface {
	Map(handle uint64, size int) (deviceAddr uint64, err error)
	Unmap(deviceAddr uint64) error
}

// Manager owns a session's user-facing list and its pool of internal lists.
type Manager struct {
	mapper   Mapper
	user     List
	internal [MaxInternalLists]List
}

// NewManager creates a manager that maps through m.
func NewManager(m Mapper) *Manager {
	mgr := &Manager{mapper: m}
	mgr.user.inUse = true
	return mgr
}

// User returns the user output list.
func (m *Manager) User() *List {
	return &m.user
}

// MapBuffers maps every client buffer into list. On the first failure every
// buffer mapped by this call is unmapped and the list cleared before returning.
func (m *Manager) MapBuffers(list *List, format hw.PixelFormat, bufs []ClientBuffer) error {
	if list == nil {
		return status.New(status.CodeBadParam, "nil buffer list")
	}
	if len(bufs) == 0 || len(bufs) > MaxBuffers {
		return status.New(status.CodeBadParam, "buffer count %d out of range [1,%d]", len(bufs), MaxBuffers)
	}

	list.reset()
	list.Format = format

	for i, b := range bufs {
		if b.Size <= 0 {
			m.unmapAll(list)
			return status.New(status.CodeBadParam, "buffer %d has size %d", i, b.Size)
		}

		addr, err := m.mapper.Map(b.Handle, b.Size)
		if err != nil {
			m.unmapAll(list)
			return status.Wrap(status.CodeNoMemory, err, "map buffer %d", i)
		}

		list.buffers[i] = Buffer{
			Index:      i,
			State:      StateInitialized,
			Native:     b.Handle,
			DeviceAddr: addr,
			Size:       b.Size,
		}
		list.count = i + 1
	}

	return nil
}

// UnmapBuffers unmaps every buffer in list and clears it. Unmap failures are
// joined and returned after the list has been cleared.
func (m *Manager) UnmapBuffers(list *List) error {
	if list == nil {
		return status.New(status.CodeBadParam, "nil buffer list")
	}
	return m.unmapAll(list)
}

func (m *Manager) unmapAll(list *List) error {
	var errs []error
	for i := 0; i < list.count; i++ {
		if err := m.mapper.Unmap(list.buffers[i].DeviceAddr); err != nil {
			errs = append(errs, fmt.Errorf("unmap buffer %d: %w", i, err))
		}
	}
	list.reset()
	return errors.Join(errs...)
}

// GetAvailableBufferList claims a free internal list and returns its index.
// Exhaustion is reported as status.ErrNoMore.
func (m *Manager) GetAvailableBufferList() (int, error) {
	for i := range m.internal {
		if !m.internal[i].inUse {
			m.internal[i].inUse = true
			return i, nil
		}
	}
	return -1, status.New(status.CodeNoMore, "all %d internal buffer lists in use", MaxInternalLists)
}

// InternalList returns the internal list at idx if it is claimed.
func (m *Manager) InternalList(idx int) (*List, error) {
	if idx < 0 || idx >= MaxInternalLists {
		return nil, status.New(status.CodeBadParam, "internal list index %d", idx)
	}
	if !m.internal[idx].inUse {
		return nil, status.New(status.CodeBadState, "internal list %d not in use", idx)
	}
	return &m.internal[idx], nil
}

// FreeBufferList unmaps and releases an internal list. Freeing a list that is
// not in use is reported as status.ErrBadState.
func (m *Manager) FreeBufferList(idx int) error {
	if idx < 0 || idx >= MaxInternalLists {
		return status.New(status.CodeBadParam, "internal list index %d", idx)
	}
	l := &m.internal[idx]
	if !l.inUse {
		return status.New(status.CodeBadState, "internal list %d already free", idx)
	}
	err := m.unmapAll(l)
	l.inUse = false
	return err
}

// FreeInternalLists releases every claimed internal list.
func (m *Manager) FreeInternalLists() error {
	var errs []error
	for i := range m.internal {
		if m.internal[i].inUse {
			if err := m.FreeBufferList(i); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// InternalInUse returns how many internal lists are claimed.
func (m *Manager) InternalInUse() int {
	n := 0
	for i := range m.internal {
		if m.internal[i].inUse {
			n++
		}
	}
	return n
}

// GetBufferState returns the state of buffer idx in list.
func (m *Manager) GetBufferState(list *List, idx int) (State, error) {
	if list == nil {
		return StateUninitialized, status.New(status.CodeBadParam, "nil buffer list")
	}
	b, err := list.Buffer(idx)
	if err != nil {
		return StateUninitialized, err
	}
	return b.State, nil
}

// SetBufferState sets the state of buffer idx in list.
func (m *Manager) SetBufferState(list *List, idx int, s State) error {
	if list == nil {
		return status.New(status.CodeBadParam, "nil buffer list")
	}
	if idx < 0 || idx >= list.count {
		return status.New(status.CodeBadParam, "buffer index %d out of range [0,%d)", idx, list.count)
	}
	list.buffers[idx].State = s
	return nil
}

// SetAllStates sets every mapped buffer in list to s.
func (m *Manager) SetAllStates(list *List, s State) {
	for i := 0; i < list.count; i++ {
		list.buffers[i].State = s
	}
}

// CountInState returns how many buffers in list are in state s.
func (m *Manager) CountInState(list *List, s State) int {
	n := 0
	for i := 0; i < list.count; i++ {
		if list.buffers[i].State == s {
			n++
		}
	}
	return n
}
