package session

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/smazurov/camcore/internal/status"
)

// Handle is an opaque session reference: magic(16) | generation(16) | index(32).
type Handle uint64

const handleMagic = 0xCA5E

func makeHandle(idx int, gen uint16) Handle {
	return Handle(uint64(handleMagic)<<48 | uint64(gen)<<32 | uint64(uint32(idx)))
}

func (h Handle) split() (magic, gen uint16, idx uint32) {
	return uint16(h >> 48), uint16(h >> 32), uint32(h)
}

func (h Handle) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// ParseHandle parses the hex form produced by Handle.String.
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, status.Wrap(status.CodeBadHandle, err, "parse handle %q", s)
	}
	return Handle(v), nil
}

type slotState uint8

const (
	slotFree slotState = iota
	slotInUse
	slotPendingDestroy
)

type slot struct {
	state slotState
	refs  int
	gen   uint16
	ctx   *Context
}

// Table maps handles to sessions. A session removed while references are
// outstanding is destroyed when the last one is released, never while
// the table lock is held.
type Table struct {
	mu    sync.Mutex
	slots []slot
}

// NewTable creates a table with room for size sessions. Generations start
// at random values so handles from a previous process are rejected.
func NewTable(size int) *Table {
	t := &Table{slots: make([]slot, size)}
	for i := range t.slots {
		t.slots[i].gen = uint16(rand.Uint32())
	}
	return t
}

// Insert publishes c and returns its handle.
func (t *Table) Insert(c *Context) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotFree {
			continue
		}
		s.gen++
		s.state = slotInUse
		s.refs = 0
		s.ctx = c
		h := makeHandle(i, s.gen)
		c.handle = h
		return h, nil
	}
	return 0, status.New(status.CodeNoMore, "session table full (%d)", len(t.slots))
}

func (t *Table) lookupLocked(h Handle) (*slot, int, error) {
	magic, gen, idx := h.split()
	if magic != handleMagic || int(idx) >= len(t.slots) {
		return nil, 0, status.New(status.CodeBadHandle, "invalid handle %s", h)
	}
	s := &t.slots[idx]
	if s.state != slotInUse || s.gen != gen {
		return nil, 0, status.New(status.CodeBadHandle, "stale handle %s", h)
	}
	return s, int(idx), nil
}

// Acquire takes a reference to the session behind h.
func (t *Table) Acquire(h Handle) (*Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, idx, err := t.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	s.refs++
	return &Ref{table: t, idx: idx, handle: h, ctx: s.ctx}, nil
}

// Remove unpublishes h. The session is destroyed now if unreferenced,
// otherwise when its last reference is released.
func (t *Table) Remove(h Handle) error {
	t.mu.Lock()
	s, _, err := t.lookupLocked(h)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	s.state = slotPendingDestroy
	doomed := t.reclaimLocked(s)
	t.mu.Unlock()

	if doomed != nil {
		doomed.Destroy()
	}
	return nil
}

func (t *Table) release(idx int) {
	t.mu.Lock()
	s := &t.slots[idx]
	s.refs--
	if s.refs < 0 {
		t.mu.Unlock()
		panic("session: reference released twice")
	}
	doomed := t.reclaimLocked(s)
	t.mu.Unlock()

	if doomed != nil {
		doomed.Destroy()
	}
}

func (t *Table) reclaimLocked(s *slot) *Context {
	if s.state != slotPendingDestroy || s.refs > 0 {
		return nil
	}
	c := s.ctx
	s.ctx = nil
	s.state = slotFree
	return c
}

// Find returns a reference to the first published session whose snapshot
// satisfies match. The snapshot is taken under the session lock.
func (t *Table) Find(match func(Info) bool) (*Ref, bool) {
	for i := range t.slots {
		ref := t.acquireIndex(i)
		if ref == nil {
			continue
		}
		if match(ref.ctx.Info()) {
			return ref, true
		}
		ref.Release()
	}
	return nil, false
}

// Traverse calls operate for every published session whose snapshot
// satisfies match. A nil match selects every session. No table lock is
// held while match or operate run.
func (t *Table) Traverse(match func(Info) bool, operate func(*Context)) {
	for i := range t.slots {
		ref := t.acquireIndex(i)
		if ref == nil {
			continue
		}
		if match == nil || match(ref.ctx.Info()) {
			operate(ref.ctx)
		}
		ref.Release()
	}
}

func (t *Table) acquireIndex(i int) *Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[i]
	if s.state != slotInUse {
		return nil
	}
	s.refs++
	return &Ref{table: t, idx: i, handle: makeHandle(i, s.gen), ctx: s.ctx}
}

// Handles returns the handles of every published session.
func (t *Table) Handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Handle
	for i := range t.slots {
		if t.slots[i].state == slotInUse {
			out = append(out, makeHandle(i, t.slots[i].gen))
		}
	}
	return out
}

// Len returns the number of occupied slots, including sessions awaiting
// destruction.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].state != slotFree {
			n++
		}
	}
	return n
}

// Cap returns the table size.
func (t *Table) Cap() int {
	return len(t.slots)
}

// Ref is a counted reference to a session. Release it exactly once;
// extra calls are ignored.
type Ref struct {
	table  *Table
	idx    int
	handle Handle
	ctx    *Context
	once   sync.Once
}

// Context returns the referenced session.
func (r *Ref) Context() *Context { return r.ctx }

// Handle returns the handle the reference was taken through.
func (r *Ref) Handle() Handle { return r.handle }

// Release drops the reference.
func (r *Ref) Release() {
	r.once.Do(func() { r.table.release(r.idx) })
}
