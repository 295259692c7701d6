package sim

import (
	"sync"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

type stage struct {
	hw   *Hardware
	kind session.Stage
}

func (s *stage) Init() error         { return s.hw.record(s.kind, "init") }
func (s *stage) Deinit() error       { return s.hw.record(s.kind, "deinit") }
func (s *stage) PowerSuspend() error { return s.hw.record(s.kind, "power_suspend") }
func (s *stage) PowerResume() error  { return s.hw.record(s.kind, "power_resume") }

func (s *stage) Config(*session.Context) error { return s.hw.record(s.kind, "config") }
func (s *stage) Start(*session.Context) error  { return s.hw.record(s.kind, "start") }
func (s *stage) Stop(*session.Context) error   { return s.hw.record(s.kind, "stop") }
func (s *stage) Pause(*session.Context) error  { return s.hw.record(s.kind, "pause") }
func (s *stage) Resume(*session.Context) error { return s.hw.record(s.kind, "resume") }

func (s *stage) SetParam(_ *session.Context, id session.ParamID, _ any) error {
	if err := s.hw.record(s.kind, "set_param"); err != nil {
		return err
	}
	return status.New(status.CodeUnsupported, "%s stage has no parameter %s", s.kind, id)
}

func (s *stage) GetParam(_ *session.Context, id session.ParamID) (any, error) {
	if err := s.hw.record(s.kind, "get_param"); err != nil {
		return nil, err
	}
	return nil, status.New(status.CodeUnsupported, "%s stage has no parameter %s", s.kind, id)
}

// inputStage is the sensor and serializer.
type inputStage struct {
	stage

	mu     sync.Mutex
	values map[hw.InputID]map[session.ParamID]any
}

func (s *inputStage) PowerSuspend() error {
	if err := s.stage.PowerSuspend(); err != nil {
		return err
	}
	s.hw.device.control(OpPowerDown)
	return nil
}

func (s *inputStage) PowerResume() error {
	if err := s.stage.PowerResume(); err != nil {
		return err
	}
	s.hw.device.control(OpPowerUp)
	return nil
}

func (s *inputStage) SetParam(c *session.Context, id session.ParamID, value any) error {
	if err := s.hw.record(s.kind, "set_param"); err != nil {
		return err
	}

	in := c.Input()
	switch id {
	case session.ParamExposure:
		s.hw.device.control(OpSetExposure)
	case session.ParamFrameRate:
		if fps, _ := value.(float64); fps > in.FPS {
			return status.New(status.CodeBadParam, "input %d supports at most %g fps", in.ID, in.FPS)
		}
		s.hw.device.control(OpSetFrameRate)
	default:
		return status.New(status.CodeUnsupported, "input stage has no parameter %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[hw.InputID]map[session.ParamID]any)
	}
	if s.values[in.ID] == nil {
		s.values[in.ID] = make(map[session.ParamID]any)
	}
	s.values[in.ID][id] = value
	return nil
}

func (s *inputStage) GetParam(c *session.Context, id session.ParamID) (any, error) {
	if err := s.hw.record(s.kind, "get_param"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[c.Input().ID][id]; ok {
		return v, nil
	}
	return nil, status.New(status.CodeNoMore, "parameter %s not set", id)
}

// interconnectStage is the CSI receiver.
type interconnectStage struct {
	stage
}

func (s *interconnectStage) Config(c *session.Context) error {
	if err := s.stage.Config(c); err != nil {
		return err
	}
	if _, ok := c.Binding(); !ok {
		return status.New(status.CodeBadState, "no path reserved")
	}
	if c.Input().Interlaced {
		return s.claimFieldScratch(c)
	}
	return nil
}

// claimFieldScratch maps one scratch buffer per field into an internal list.
// The list stays claimed across restarts and is freed when the path is
// released.
func (s *interconnectStage) claimFieldScratch(c *session.Context) error {
	bm := c.Buffers()
	if bm.InternalInUse() > 0 {
		return nil
	}
	idx, err := bm.GetAvailableBufferList()
	if err != nil {
		return err
	}
	list, err := bm.InternalList(idx)
	if err != nil {
		return err
	}

	in := c.Input()
	size := fieldScratchSize(in)
	scratch := []buffers.ClientBuffer{
		{Handle: fieldScratchHandle | uint64(in.ID)<<8 | uint64(hw.FieldEven), Size: size},
		{Handle: fieldScratchHandle | uint64(in.ID)<<8 | uint64(hw.FieldOdd), Size: size},
	}
	if err := bm.MapBuffers(list, in.Format, scratch); err != nil {
		_ = bm.FreeBufferList(idx)
		return err
	}
	return nil
}

const fieldScratchHandle = 0x5c_0000

func fieldScratchSize(in hw.InputInfo) int {
	size := in.Resolution.Width * in.Resolution.Height * 2
	if size <= 0 {
		return 4096
	}
	return size
}

// outputStage is the front-end output interface.
type outputStage struct {
	stage
}

func (s *outputStage) Config(c *session.Context) error {
	if err := s.stage.Config(c); err != nil {
		return err
	}
	b, ok := c.Binding()
	if !ok {
		return status.New(status.CodeBadState, "no path reserved")
	}

	// a path left over from a failed start is reprogrammed
	h := s.hw
	h.stopTicker(b)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths[b] = &path{binding: b, input: c.Input()}
	return nil
}

func (s *outputStage) Submit(c *session.Context, buf buffers.Buffer) error {
	if err := s.hw.record(s.kind, "submit"); err != nil {
		return err
	}
	b, _ := c.Binding()

	h := s.hw
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.paths[b]
	if !ok {
		return status.New(status.CodeBadState, "path %s not configured", b)
	}
	p.pending = append(p.pending, buf.Index)
	h.submitted[b] = append(h.submitted[b], buf.Index)
	return nil
}

func (s *outputStage) Start(c *session.Context) error {
	if err := s.stage.Start(c); err != nil {
		return err
	}
	return s.run(c)
}

func (s *outputStage) Resume(c *session.Context) error {
	if err := s.stage.Resume(c); err != nil {
		return err
	}
	return s.run(c)
}

func (s *outputStage) run(c *session.Context) error {
	b, _ := c.Binding()
	h := s.hw
	h.mu.Lock()
	p, ok := h.paths[b]
	if !ok {
		h.mu.Unlock()
		return status.New(status.CodeBadState, "path %s not configured", b)
	}
	p.running = true
	h.startTickerLocked(p)
	h.mu.Unlock()

	h.device.control(OpStreamOn)
	return nil
}

func (s *outputStage) Pause(c *session.Context) error {
	if err := s.stage.Pause(c); err != nil {
		return err
	}
	b, _ := c.Binding()
	s.halt(b, false)
	return nil
}

// Stop tears the path down even when the recorded call fails.
func (s *outputStage) Stop(c *session.Context) error {
	err := s.stage.Stop(c)
	b, _ := c.Binding()
	s.halt(b, true)
	return err
}

func (s *outputStage) halt(b hw.PathBinding, remove bool) {
	h := s.hw
	h.stopTicker(b)

	h.mu.Lock()
	if p, ok := h.paths[b]; ok {
		p.running = false
		p.pending = nil
		if remove {
			delete(h.paths, b)
		}
	}
	h.mu.Unlock()

	h.device.control(OpStreamOff)
}
