// Package resource arbitrates the scarce front-end output interfaces
// between sessions.
package resource

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/platform"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

// Slot describes one output interface.
type Slot struct {
	Binding hw.PathBinding `json:"binding"`
	InUse   bool           `json:"in_use"`
	Owner   string         `json:"owner,omitempty"`
}

type core struct {
	id    hw.CoreID
	root  hw.RootID
	owner []string // session id per interface, "" when free
}

// Manager is the hardware path reservation table.
type Manager struct {
	mu     sync.Mutex
	routes map[hw.InputID]hw.RootID
	cores  []core
	logger *slog.Logger
}

// NewManager builds the table from a platform description. Cores are
// scanned in (root, core id) order.
func NewManager(p *platform.Platform, logger *slog.Logger) *Manager {
	m := &Manager{
		routes: make(map[hw.InputID]hw.RootID, len(p.Inputs)),
		logger: logger,
	}
	for _, in := range p.Inputs {
		m.routes[hw.InputID(in.ID)] = hw.RootID(in.Root)
	}
	for _, c := range p.Cores {
		m.cores = append(m.cores, core{
			id:    hw.CoreID(c.ID),
			root:  hw.RootID(c.Root),
			owner: make([]string, c.Interfaces),
		})
	}
	slices.SortFunc(m.cores, func(a, b core) int {
		if n := cmp.Compare(a.root, b.root); n != 0 {
			return n
		}
		return cmp.Compare(a.id, b.id)
	})
	return m
}

// Reserve claims the first free interface on the root the session's input
// is wired to and records the binding in the session. The caller holds the
// session lock.
func (m *Manager) Reserve(c *session.Context) error {
	if _, bound := c.Binding(); bound {
		return status.New(status.CodeBadState, "session %s already holds a path", c.ID())
	}

	input := c.Input().ID

	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.routes[input]
	if !ok {
		return status.New(status.CodeResourceNotFound, "input %d has no interconnect binding", input)
	}

	for i := range m.cores {
		cr := &m.cores[i]
		if cr.root != root {
			continue
		}
		for ifc, owner := range cr.owner {
			if owner != "" {
				continue
			}
			cr.owner[ifc] = c.ID()
			b := hw.PathBinding{Root: root, Core: cr.id, Interface: hw.InterfaceID(ifc)}
			c.AttachPath(b)
			m.logger.Info("Path reserved", "session", c.ID(), "input", input, "binding", b.String())
			return nil
		}
	}

	return status.New(status.CodeResourceNotFound, "no free interface on root %d for input %d", root, input)
}

// Release frees the interface bound to the session and returns its
// internal buffer lists. A session holding no reservation is reported as
// status.ErrResourceNotFound. The caller holds the session lock.
func (m *Manager) Release(c *session.Context) error {
	b, bound := c.Binding()
	if !bound {
		return status.New(status.CodeResourceNotFound, "session %s holds no path", c.ID())
	}

	m.mu.Lock()
	cr := m.findCoreLocked(b.Core)
	if cr == nil || int(b.Interface) >= len(cr.owner) {
		m.mu.Unlock()
		return status.New(status.CodeCorrupt, "session %s bound to unknown path %s", c.ID(), b)
	}
	if cr.owner[b.Interface] != c.ID() {
		owner := cr.owner[b.Interface]
		m.mu.Unlock()
		return status.New(status.CodeCorrupt, "path %s owned by %q, not session %s", b, owner, c.ID())
	}
	cr.owner[b.Interface] = ""
	m.mu.Unlock()

	c.DetachPath()
	m.logger.Info("Path released", "session", c.ID(), "binding", b.String())

	if err := c.Buffers().FreeInternalLists(); err != nil {
		return status.Wrap(status.CodeFailed, err, "free internal buffer lists")
	}
	return nil
}

func (m *Manager) findCoreLocked(id hw.CoreID) *core {
	for i := range m.cores {
		if m.cores[i].id == id {
			return &m.cores[i]
		}
	}
	return nil
}

// Slots returns the state of every interface in scan order.
func (m *Manager) Slots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Slot
	for _, cr := range m.cores {
		for ifc, owner := range cr.owner {
			out = append(out, Slot{
				Binding: hw.PathBinding{Root: cr.root, Core: cr.id, Interface: hw.InterfaceID(ifc)},
				InUse:   owner != "",
				Owner:   owner,
			})
		}
	}
	return out
}

// Free returns the number of unclaimed interfaces.
func (m *Manager) Free() int {
	n := 0
	for _, s := range m.Slots() {
		if !s.InUse {
			n++
		}
	}
	return n
}
