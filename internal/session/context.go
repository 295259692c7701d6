// Package session implements the per-client capture session: its state
// machine, buffer ownership, delivered-frame queue and the handle table that
// hands sessions out to concurrent callers.
//
// Lock order is the engine lock, then a session's mu, then its frameMu. The
// handle table lock is never held while a session lock is taken.
package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/queue"
	"github.com/smazurov/camcore/internal/status"
)

// State is the capture state of a session.
type State int

// Session states.
const (
	StateUninitialized State = iota
	StateOpened
	StateReserved
	StateStreaming
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpened:
		return "opened"
	case StateReserved:
		return "reserved"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults for the latency bound.
const (
	DefaultLatencyMax        = 2
	DefaultLatencyReduceRate = 1
)

// Config configures a new session.
type Config struct {
	Input             hw.InputInfo
	Pipeline          Pipeline
	Arbiter           Arbiter
	Mapper            buffers.Mapper
	LatencyMax        int
	LatencyReduceRate int
	Logger            *slog.Logger
}

// Info is a consistent snapshot of a session.
type Info struct {
	Handle   Handle         `json:"handle"`
	ID       string         `json:"id"`
	Input    hw.InputID     `json:"input"`
	State    State          `json:"state"`
	Binding  hw.PathBinding `json:"binding"`
	Bound    bool           `json:"bound"`
	Buffers  int            `json:"buffers"`
	Queued   int            `json:"queued"`
	Acquired int            `json:"acquired"`
}

// Context is one open capture session.
type Context struct {
	id       string
	handle   Handle
	input    hw.InputInfo
	pipeline Pipeline
	arbiter  Arbiter
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	binding  hw.PathBinding
	bound    bool
	bufs     *buffers.Manager
	params   Params
	fields   FieldTracker
	callback EventCallback
	mask     EventMask

	frameMu   sync.Mutex
	frameCond *sync.Cond
	frames    *queue.Queue[hw.FrameInfo]
	active    bool
}

// NewContext creates a session in the Opened state.
func NewContext(cfg Config) (*Context, error) {
	if cfg.Pipeline.Input == nil || cfg.Pipeline.Interconnect == nil || cfg.Pipeline.Output == nil {
		return nil, status.New(status.CodeBadParam, "incomplete pipeline")
	}
	if cfg.Arbiter == nil || cfg.Mapper == nil {
		return nil, status.New(status.CodeBadParam, "arbiter and mapper are required")
	}
	if cfg.LatencyMax < 0 {
		return nil, status.New(status.CodeBadParam, "latency max %d", cfg.LatencyMax)
	}
	if cfg.LatencyReduceRate <= 0 {
		cfg.LatencyReduceRate = DefaultLatencyReduceRate
	}

	frames, err := queue.New[hw.FrameInfo](buffers.MaxBuffers, queue.LockMutex)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	c := &Context{
		id:       id,
		input:    cfg.Input,
		pipeline: cfg.Pipeline,
		arbiter:  cfg.Arbiter,
		logger:   logger.With("session", id, "input", cfg.Input.ID),
		state:    StateOpened,
		bufs:     buffers.NewManager(cfg.Mapper),
		params: Params{
			Exposure:          Exposure{Mode: ExposureAuto},
			FrameRate:         cfg.Input.FPS,
			LatencyMax:        cfg.LatencyMax,
			LatencyReduceRate: cfg.LatencyReduceRate,
		},
		frames: frames,
	}
	c.frameCond = sync.NewCond(&c.frameMu)
	return c, nil
}

// ID returns the session's unique id.
func (c *Context) ID() string { return c.id }

// Handle returns the handle the session was published under.
func (c *Context) Handle() Handle { return c.handle }

// Input returns the input the session captures from.
func (c *Context) Input() hw.InputInfo { return c.input }

// Binding returns the reserved hardware path. The caller must hold the
// session lock, as configurers and arbiters do.
func (c *Context) Binding() (hw.PathBinding, bool) { return c.binding, c.bound }

// AttachPath records a reserved hardware path. The caller must hold the
// session lock.
func (c *Context) AttachPath(b hw.PathBinding) {
	c.binding = b
	c.bound = true
}

// DetachPath forgets the reserved hardware path. The caller must hold the
// session lock.
func (c *Context) DetachPath() {
	c.binding = hw.PathBinding{}
	c.bound = false
}

// Buffers returns the session's buffer manager. The caller must hold the
// session lock.
func (c *Context) Buffers() *buffers.Manager { return c.bufs }

// Params returns the session tunables. The caller must hold the session lock.
func (c *Context) Params() Params { return c.params }

// State returns the current capture state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns a snapshot of the session.
func (c *Context) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Context) infoLocked() Info {
	return Info{
		Handle:   c.handle,
		ID:       c.id,
		Input:    c.input.ID,
		State:    c.state,
		Binding:  c.binding,
		Bound:    c.bound,
		Buffers:  c.bufs.User().Len(),
		Queued:   c.frames.Len(),
		Acquired: c.bufs.CountInState(c.bufs.User(), buffers.StateAcquired),
	}
}

// Notifier returns the client's callback bound to its event mask.
func (c *Context) Notifier() Notifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Notifier{cb: c.callback, mask: c.mask}
}

func (c *Context) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("Session state changed", "from", c.state, "to", s)
	c.state = s
}

// SetBuffers maps the client's buffers as the session's output list,
// replacing any previous list.
func (c *Context) SetBuffers(bufs []buffers.ClientBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpened && c.state != StateReserved {
		return status.New(status.CodeBadState, "cannot set buffers while %s", c.state)
	}
	if len(bufs) < buffers.MinBuffers || len(bufs) > buffers.MaxBuffers {
		return status.New(status.CodeBadParam, "buffer count %d out of range [%d,%d]",
			len(bufs), buffers.MinBuffers, buffers.MaxBuffers)
	}

	list := c.bufs.User()
	if list.Len() > 0 {
		if err := c.bufs.UnmapBuffers(list); err != nil {
			c.logger.Warn("Failed to unmap previous buffers", "error", err)
		}
	}
	if err := c.bufs.MapBuffers(list, c.input.Format, bufs); err != nil {
		return err
	}
	c.logger.Info("Buffers mapped", "count", len(bufs), "format", c.input.Format)
	return nil
}

// Reserve claims a hardware output path for the session.
func (c *Context) Reserve() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserveLocked()
}

func (c *Context) reserveLocked() error {
	if c.state != StateOpened {
		return status.New(status.CodeBadState, "cannot reserve while %s", c.state)
	}
	if err := c.arbiter.Reserve(c); err != nil {
		return err
	}
	c.setStateLocked(StateReserved)
	return nil
}

// Release returns the session's hardware output path.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked()
}

func (c *Context) releaseLocked() error {
	if c.state == StateOpened {
		// The arbiter reports the missing reservation.
		return c.arbiter.Release(c)
	}
	if c.state != StateReserved {
		return status.New(status.CodeBadState, "cannot release while %s", c.state)
	}
	err := c.arbiter.Release(c)
	c.setStateLocked(StateOpened)
	return err
}

// Start configures and starts every pipeline stage in order and begins
// streaming. An Opened session reserves a path first. If a stage fails, the
// stages already started are stopped in reverse order and the session stays
// Reserved.
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpened {
		if err := c.reserveLocked(); err != nil {
			return err
		}
	}
	if c.state != StateReserved {
		return status.New(status.CodeBadState, "cannot start while %s", c.state)
	}
	if c.bufs.User().Len() < buffers.MinBuffers {
		return status.New(status.CodeBadState, "no buffers set")
	}

	stages := c.pipeline.Stages()
	for i, stage := range stages {
		if err := c.startStageLocked(Stage(i), stage); err != nil {
			c.unwindLocked(i)
			return status.Wrap(status.CodeOf(err), err, "start %s", Stage(i))
		}
	}

	c.fields.Reset()
	c.activate()
	c.setStateLocked(StateStreaming)
	c.logger.Info("Streaming started", "binding", c.binding.String())
	return nil
}

func (c *Context) startStageLocked(s Stage, stage Configurer) error {
	if err := stage.Config(c); err != nil {
		return err
	}
	if s == StageOutput {
		if err := c.submitAllLocked(); err != nil {
			return err
		}
	}
	return stage.Start(c)
}

// unwindLocked stops stages [0,n) in reverse order.
func (c *Context) unwindLocked(n int) {
	stages := c.pipeline.Stages()
	for i := n - 1; i >= 0; i-- {
		if err := stages[i].Stop(c); err != nil {
			c.logger.Warn("Stop during start unwind failed", "stage", Stage(i), "error", err)
		}
	}
	c.bufs.SetAllStates(c.bufs.User(), buffers.StateInitialized)
}

// Stop stops every stage, output first, and returns the session to
// Reserved. Every stage is stopped even if an earlier one fails; the first
// failure is returned. Waiters in GetFrame are woken with status.ErrNoMore.
func (c *Context) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Context) stopLocked() error {
	if c.state != StateStreaming && c.state != StatePaused {
		return status.New(status.CodeBadState, "cannot stop while %s", c.state)
	}

	var first error
	stages := c.pipeline.Stages()
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].Stop(c); err != nil {
			c.logger.Warn("Stop failed", "stage", Stage(i), "error", err)
			if first == nil {
				first = status.Wrap(status.CodeOf(err), err, "stop %s", Stage(i))
			}
		}
	}

	c.deactivate()
	c.bufs.SetAllStates(c.bufs.User(), buffers.StateInitialized)
	c.fields.Reset()
	c.setStateLocked(StateReserved)
	c.logger.Info("Streaming stopped")
	return first
}

// Pause stops only the output path and drops undelivered frames.
func (c *Context) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStreaming {
		return status.New(status.CodeBadState, "cannot pause while %s", c.state)
	}
	if err := c.pipeline.Output.Pause(c); err != nil {
		return status.Wrap(status.CodeOf(err), err, "pause output")
	}

	c.deactivate()
	list := c.bufs.User()
	for i := 0; i < list.Len(); i++ {
		if st, _ := c.bufs.GetBufferState(list, i); st == buffers.StateEnqueued || st == buffers.StateDelivered {
			_ = c.bufs.SetBufferState(list, i, buffers.StateInitialized)
		}
	}
	c.setStateLocked(StatePaused)
	return nil
}

// Resume re-submits every buffer the client does not hold and restarts the
// output path.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return status.New(status.CodeBadState, "cannot resume while %s", c.state)
	}
	if err := c.submitAllLocked(); err != nil {
		c.resetSubmittedLocked()
		return err
	}
	if err := c.pipeline.Output.Resume(c); err != nil {
		c.resetSubmittedLocked()
		return status.Wrap(status.CodeOf(err), err, "resume output")
	}

	c.activate()
	c.setStateLocked(StateStreaming)
	return nil
}

// Teardown stops and releases the session regardless of its state and
// unmaps its buffers. It is used when a session is closed or the engine
// shuts down.
func (c *Context) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.state == StateStreaming || c.state == StatePaused {
		errs = append(errs, c.stopLocked())
	}
	if c.state == StateReserved {
		errs = append(errs, c.releaseLocked())
	}
	if c.bufs.User().Len() > 0 {
		errs = append(errs, c.bufs.UnmapBuffers(c.bufs.User()))
	}
	c.deactivate()
	c.setStateLocked(StateUninitialized)
	return errors.Join(errs...)
}

func (c *Context) submitLocked(idx int) error {
	list := c.bufs.User()
	if err := c.bufs.SetBufferState(list, idx, buffers.StateEnqueued); err != nil {
		return err
	}
	buf, _ := list.Buffer(idx)
	if err := c.pipeline.Output.Submit(c, buf); err != nil {
		_ = c.bufs.SetBufferState(list, idx, buffers.StateInitialized)
		return status.Wrap(status.CodeOf(err), err, "submit buffer %d", idx)
	}
	return nil
}

func (c *Context) submitAllLocked() error {
	list := c.bufs.User()
	for i := 0; i < list.Len(); i++ {
		st, _ := c.bufs.GetBufferState(list, i)
		if st != buffers.StateInitialized && st != buffers.StateReleased {
			continue
		}
		if err := c.submitLocked(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) resetSubmittedLocked() {
	list := c.bufs.User()
	for i := 0; i < list.Len(); i++ {
		if st, _ := c.bufs.GetBufferState(list, i); st == buffers.StateEnqueued {
			_ = c.bufs.SetBufferState(list, i, buffers.StateInitialized)
		}
	}
}

// ReleaseFrame returns an acquired buffer. While streaming the buffer goes
// straight back to the output path; while paused it waits for Resume.
func (c *Context) ReleaseFrame(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.bufs.User()
	st, err := c.bufs.GetBufferState(list, idx)
	if err != nil {
		return err
	}
	if st != buffers.StateAcquired {
		return status.New(status.CodeBadState, "buffer %d is %s, not acquired", idx, st)
	}

	switch c.state {
	case StateStreaming:
		return c.submitLocked(idx)
	case StatePaused:
		return c.bufs.SetBufferState(list, idx, buffers.StateReleased)
	default:
		return status.New(status.CodeBadState, "cannot release frame while %s", c.state)
	}
}

// Destroy frees the session's delivered-frame queue. It is called by the
// handle table once the last reference is gone.
func (c *Context) Destroy() {
	c.deactivate()
	if err := c.frames.Destroy(); err != nil {
		c.logger.Warn("Failed to destroy frame queue", "error", err)
	}
}
