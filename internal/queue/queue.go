// Package queue provides a fixed-capacity ring buffer of fixed-size records
// usable under three concurrency disciplines.
//
// A queue of capacity N keeps N+1 slots internally so that empty (read == write)
// and full (write+1 == read) can be told apart with two indices alone.
//
// Disciplines:
//   - LockNone: exactly one producer and one consumer. Index updates are
//     published with atomic stores instead of a lock.
//   - LockMutex: any number of producers and consumers, blocking lock.
//   - LockSpin: any number of producers and consumers, the lock never parks the
//     goroutine. Use it where one side runs in hardware callback context.
//
// Full and empty are reported as status.ErrNoMore. They are expected, polled
// conditions, not faults.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/smazurov/camcore/internal/status"
)

// Discipline selects how a queue serializes access.
type Discipline int

// Lock disciplines.
const (
	LockNone Discipline = iota
	LockMutex
	LockSpin
)

func (d Discipline) String() string {
	switch d {
	case LockNone:
		return "none"
	case LockMutex:
		return "mutex"
	case LockSpin:
		return "spin"
	default:
		return "invalid"
	}
}

const (
	magicLive uint32 = 0x51554555
	magicDead uint32 = 0x0DEADC0D
)

// CopyFunc copies one element from src into dst.
type CopyFunc[T any] func(dst *T, src *T)

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithCopyIn replaces the default assignment used by Enqueue.
func WithCopyIn[T any](fn CopyFunc[T]) Option[T] {
	return func(q *Queue[T]) {
		q.copyIn = fn
	}
}

// WithCopyOut replaces the default assignment used by Dequeue.
func WithCopyOut[T any](fn CopyFunc[T]) Option[T] {
	return func(q *Queue[T]) {
		q.copyOut = fn
	}
}

// Queue is a bounded FIFO of T.
type Queue[T any] struct {
	magic      atomic.Uint32
	discipline Discipline
	lock       sync.Locker

	slots []T
	read  atomic.Uint32
	write atomic.Uint32

	copyIn  CopyFunc[T]
	copyOut CopyFunc[T]
}

// New creates a queue holding up to capacity elements.
func New[T any](capacity int, discipline Discipline, opts ...Option[T]) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, status.New(status.CodeBadParam, "queue capacity %d", capacity)
	}

	q := &Queue[T]{
		discipline: discipline,
		slots:      make([]T, capacity+1),
	}

	switch discipline {
	case LockNone:
		q.lock = noLock{}
	case LockMutex:
		q.lock = &sync.Mutex{}
	case LockSpin:
		q.lock = &spinLock{}
	default:
		return nil, status.New(status.CodeBadParam, "queue discipline %d", discipline)
	}

	for _, opt := range opts {
		opt(q)
	}

	q.magic.Store(magicLive)
	return q, nil
}

// check validates the magic tag. Callers holding the lock re-check after
// acquiring it since Destroy runs under the lock.
func (q *Queue[T]) check() error {
	if q == nil {
		return status.ErrBadHandle
	}
	switch q.magic.Load() {
	case magicLive:
		return nil
	case magicDead, 0:
		return status.ErrBadHandle
	default:
		return status.New(status.CodeCorrupt, "queue magic 0x%08x", q.magic.Load())
	}
}

func (q *Queue[T]) next(i uint32) uint32 {
	i++
	if int(i) == len(q.slots) {
		return 0
	}
	return i
}

// Enqueue appends v. It returns status.ErrNoMore when the queue is full.
func (q *Queue[T]) Enqueue(v T) error {
	if err := q.check(); err != nil {
		return err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.check(); err != nil {
		return err
	}

	w := q.write.Load()
	next := q.next(w)
	if next == q.read.Load() {
		return status.New(status.CodeNoMore, "queue full")
	}

	if q.copyIn != nil {
		q.copyIn(&q.slots[w], &v)
	} else {
		q.slots[w] = v
	}

	// Publishes the slot write to the consumer.
	q.write.Store(next)
	return nil
}

// Dequeue removes and returns the oldest element. It returns status.ErrNoMore
// when the queue is empty.
func (q *Queue[T]) Dequeue() (T, error) {
	var out T
	if err := q.check(); err != nil {
		return out, err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.check(); err != nil {
		return out, err
	}

	r := q.read.Load()
	if r == q.write.Load() {
		return out, status.New(status.CodeNoMore, "queue empty")
	}

	if q.copyOut != nil {
		q.copyOut(&out, &q.slots[r])
	} else {
		out = q.slots[r]
	}

	var zero T
	q.slots[r] = zero
	q.read.Store(q.next(r))
	return out, nil
}

// DropHead discards the oldest element.
func (q *Queue[T]) DropHead() error {
	if err := q.check(); err != nil {
		return err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.check(); err != nil {
		return err
	}

	r := q.read.Load()
	if r == q.write.Load() {
		return status.New(status.CodeNoMore, "queue empty")
	}

	var zero T
	q.slots[r] = zero
	q.read.Store(q.next(r))
	return nil
}

// Clear discards every element. Under LockNone it must be called from the
// consumer side.
func (q *Queue[T]) Clear() error {
	if err := q.check(); err != nil {
		return err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.check(); err != nil {
		return err
	}

	var zero T
	w := q.write.Load()
	for r := q.read.Load(); r != w; r = q.next(r) {
		q.slots[r] = zero
	}
	q.read.Store(w)
	return nil
}

// Len returns the number of queued elements, or 0 for an invalid queue.
func (q *Queue[T]) Len() int {
	if q.check() != nil {
		return 0
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	return q.lenLocked()
}

func (q *Queue[T]) lenLocked() int {
	size := len(q.slots)
	r := int(q.read.Load())
	w := int(q.write.Load())
	return (w - r + size) % size
}

// Available returns the number of free slots.
func (q *Queue[T]) Available() int {
	if q.check() != nil {
		return 0
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	return q.Cap() - q.lenLocked()
}

// Cap returns the usable capacity.
func (q *Queue[T]) Cap() int {
	if q == nil || len(q.slots) == 0 {
		return 0
	}
	return len(q.slots) - 1
}

// IsEmpty reports whether no element is queued.
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// IsFull reports whether Enqueue would fail for lack of room.
func (q *Queue[T]) IsFull() bool {
	if q.check() != nil {
		return false
	}
	return q.Available() == 0
}

// Discipline returns the lock discipline the queue was created with.
func (q *Queue[T]) Discipline() Discipline {
	return q.discipline
}

// Destroy invalidates the queue. Later calls on it fail with status.ErrBadHandle.
func (q *Queue[T]) Destroy() error {
	if err := q.check(); err != nil {
		return err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if !q.magic.CompareAndSwap(magicLive, magicDead) {
		return status.ErrBadHandle
	}
	q.slots = q.slots[:1]
	q.read.Store(0)
	q.write.Store(0)
	return nil
}
