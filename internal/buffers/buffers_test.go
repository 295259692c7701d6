package buffers

import (
	"errors"
	"testing"

	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/status"
)

type fakeMapper struct {
	failAt   int // 1-based Map call that fails; 0 never fails
	calls    int
	mapped   map[uint64]bool
	next     uint64
	unmapped []uint64
}

func newFakeMapper() *fakeMapper {
	return &fakeMapper{mapped: make(map[uint64]bool), next: 0x1000}
}

func (f *fakeMapper) Map(_ uint64, size int) (uint64, error) {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return 0, errors.New("iommu: out of entries")
	}
	addr := f.next
	f.next += uint64(size)
	f.mapped[addr] = true
	return addr, nil
}

func (f *fakeMapper) Unmap(addr uint64) error {
	if !f.mapped[addr] {
		return errors.New("not mapped")
	}
	delete(f.mapped, addr)
	f.unmapped = append(f.unmapped, addr)
	return nil
}

func clientBuffers(n int) []ClientBuffer {
	out := make([]ClientBuffer, n)
	for i := range out {
		out[i] = ClientBuffer{Handle: uint64(100 + i), Size: 4096}
	}
	return out
}

func TestMapBuffers(t *testing.T) {
	mapper := newFakeMapper()
	mgr := NewManager(mapper)

	if err := mgr.MapBuffers(mgr.User(), hw.FormatUYVY, clientBuffers(4)); err != nil {
		t.Fatalf("MapBuffers failed: %v", err)
	}

	list := mgr.User()
	if list.Len() != 4 {
		t.Fatalf("Len = %d, want 4", list.Len())
	}
	if list.Format != hw.FormatUYVY {
		t.Errorf("Format = %q", list.Format)
	}
	for i := 0; i < 4; i++ {
		b, _ := list.Buffer(i)
		if b.State != StateInitialized {
			t.Errorf("buffer %d state = %v, want initialized", i, b.State)
		}
		if b.Native != uint64(100+i) {
			t.Errorf("buffer %d native = %d", i, b.Native)
		}
	}
	if len(mapper.mapped) != 4 {
		t.Errorf("mapper holds %d mappings, want 4", len(mapper.mapped))
	}
}

func TestMapBuffersRollsBackOnFailure(t *testing.T) {
	mapper := newFakeMapper()
	mapper.failAt = 3
	mgr := NewManager(mapper)

	err := mgr.MapBuffers(mgr.User(), hw.FormatNV12, clientBuffers(5))
	if !errors.Is(err, status.ErrNoMemory) {
		t.Fatalf("MapBuffers = %v, want NO_MEMORY", err)
	}

	if mgr.User().Len() != 0 {
		t.Errorf("list Len = %d after failed map, want 0", mgr.User().Len())
	}
	if len(mapper.mapped) != 0 {
		t.Errorf("%d mappings leaked", len(mapper.mapped))
	}
	if len(mapper.unmapped) != 2 {
		t.Errorf("unmapped %d buffers, want 2", len(mapper.unmapped))
	}
}

func TestMapBuffersRejectsBadInput(t *testing.T) {
	mgr := NewManager(newFakeMapper())

	tests := []struct {
		name string
		bufs []ClientBuffer
	}{
		{"empty", nil},
		{"too many", clientBuffers(MaxBuffers + 1)},
		{"zero size", []ClientBuffer{{Handle: 1, Size: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mgr.MapBuffers(mgr.User(), hw.FormatUYVY, tt.bufs); !errors.Is(err, status.ErrBadParam) {
				t.Errorf("MapBuffers = %v, want BAD_PARAM", err)
			}
		})
	}
}

func TestUnmapBuffers(t *testing.T) {
	mapper := newFakeMapper()
	mgr := NewManager(mapper)
	_ = mgr.MapBuffers(mgr.User(), hw.FormatUYVY, clientBuffers(3))

	if err := mgr.UnmapBuffers(mgr.User()); err != nil {
		t.Fatalf("UnmapBuffers failed: %v", err)
	}
	if mgr.User().Len() != 0 || len(mapper.mapped) != 0 {
		t.Errorf("list len=%d mappings=%d after unmap", mgr.User().Len(), len(mapper.mapped))
	}
}

func TestInternalLists(t *testing.T) {
	mgr := NewManager(newFakeMapper())

	claimed := make([]int, 0, MaxInternalLists)
	for i := 0; i < MaxInternalLists; i++ {
		idx, err := mgr.GetAvailableBufferList()
		if err != nil {
			t.Fatalf("GetAvailableBufferList %d failed: %v", i, err)
		}
		claimed = append(claimed, idx)
	}

	if _, err := mgr.GetAvailableBufferList(); !errors.Is(err, status.ErrNoMore) {
		t.Errorf("exhausted GetAvailableBufferList = %v, want NO_MORE", err)
	}

	if err := mgr.FreeBufferList(claimed[1]); err != nil {
		t.Fatalf("FreeBufferList failed: %v", err)
	}
	if err := mgr.FreeBufferList(claimed[1]); !errors.Is(err, status.ErrBadState) {
		t.Errorf("double free = %v, want BAD_STATE", err)
	}
	if err := mgr.FreeBufferList(MaxInternalLists); !errors.Is(err, status.ErrBadParam) {
		t.Errorf("out of range free = %v, want BAD_PARAM", err)
	}

	idx, err := mgr.GetAvailableBufferList()
	if err != nil || idx != claimed[1] {
		t.Errorf("reclaim = %d, %v; want %d", idx, err, claimed[1])
	}

	if err := mgr.FreeInternalLists(); err != nil {
		t.Fatalf("FreeInternalLists failed: %v", err)
	}
	if mgr.InternalInUse() != 0 {
		t.Errorf("InternalInUse = %d, want 0", mgr.InternalInUse())
	}
}

func TestBufferStateAccessors(t *testing.T) {
	mgr := NewManager(newFakeMapper())
	list := mgr.User()
	_ = mgr.MapBuffers(list, hw.FormatUYVY, clientBuffers(2))

	if err := mgr.SetBufferState(list, 1, StateAcquired); err != nil {
		t.Fatalf("SetBufferState failed: %v", err)
	}
	st, err := mgr.GetBufferState(list, 1)
	if err != nil || st != StateAcquired {
		t.Errorf("GetBufferState = %v, %v", st, err)
	}

	for _, idx := range []int{-1, 2, MaxBuffers} {
		if _, err := mgr.GetBufferState(list, idx); !errors.Is(err, status.ErrBadParam) {
			t.Errorf("GetBufferState(%d) = %v, want BAD_PARAM", idx, err)
		}
		if err := mgr.SetBufferState(list, idx, StateEnqueued); !errors.Is(err, status.ErrBadParam) {
			t.Errorf("SetBufferState(%d) = %v, want BAD_PARAM", idx, err)
		}
	}

	mgr.SetAllStates(list, StateEnqueued)
	if n := mgr.CountInState(list, StateEnqueued); n != 2 {
		t.Errorf("CountInState = %d, want 2", n)
	}
}
