package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Feed merges events of several types into one buffered channel for a single
// reader such as an SSE stream. Publishers never block on a Feed: an event
// that does not fit is counted and discarded.
type Feed struct {
	c       chan Event
	dropped atomic.Uint64

	mu     sync.Mutex
	unsubs []func()
	closed bool
}

// NewFeed returns an empty feed holding up to size undelivered events.
func NewFeed(size int) *Feed {
	return &Feed{c: make(chan Event, size)}
}

// Follow adds events of type T published on bus to f. Following after Close
// is a no-op.
func Follow[T Event](f *Feed, bus *Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.unsubs = append(f.unsubs, event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case f.c <- e:
		default:
			f.dropped.Add(1)
		}
	}))
}

// C returns the channel events are delivered on. It is never closed.
func (f *Feed) C() <-chan Event { return f.c }

// Dropped returns the number of events discarded since the last call and
// resets the count.
func (f *Feed) Dropped() uint64 { return f.dropped.Swap(0) }

// Close unsubscribes from every followed type.
func (f *Feed) Close() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.closed = true
	f.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
