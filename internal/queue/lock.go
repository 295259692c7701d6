package queue

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield bounds busy-waiting before handing the processor back.
const spinsBeforeYield = 64

// noLock is used by LockNone queues. Ordering comes from the atomic index
// stores in Enqueue and Dequeue.
type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// spinLock never parks the calling goroutine.
type spinLock struct {
	held atomic.Bool
}

func (s *spinLock) Lock() {
	for spins := 0; !s.held.CompareAndSwap(false, true); spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

func (s *spinLock) Unlock() {
	s.held.Store(false)
}
