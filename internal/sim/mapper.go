package sim

import (
	"sync"

	"github.com/smazurov/camcore/internal/status"
)

// Mapper hands out fake device addresses for client buffers.
type Mapper struct {
	mu      sync.Mutex
	next    uint64
	live    map[uint64]uint64
	calls   int
	failAt  int
	failErr error
}

// NewMapper creates a mapper whose addresses start at base.
func NewMapper(base uint64) *Mapper {
	return &Mapper{next: base, live: make(map[uint64]uint64)}
}

// FailAt makes the n-th Map call from now fail with err.
func (m *Mapper) FailAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = m.calls + n
	m.failErr = err
}

// Map assigns a page-aligned device address to a client buffer.
func (m *Mapper) Map(handle uint64, size int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failAt != 0 && m.calls == m.failAt {
		m.failAt = 0
		return 0, m.failErr
	}

	addr := m.next
	m.next += (uint64(size) + 0xfff) &^ 0xfff
	m.live[addr] = handle
	return addr, nil
}

// Unmap releases a device address.
func (m *Mapper) Unmap(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[addr]; !ok {
		return status.New(status.CodeBadParam, "address %#x not mapped", addr)
	}
	delete(m.live, addr)
	return nil
}

// Mapped returns the number of live mappings.
func (m *Mapper) Mapped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
