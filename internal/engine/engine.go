// Package engine is the capture engine: it owns the session table, the
// resource manager and the inbound hardware event queue, runs the worker
// pool that dispatches hardware events to sessions, and implements the
// client-facing capture API on top of them.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/metrics"
	"github.com/smazurov/camcore/internal/platform"
	"github.com/smazurov/camcore/internal/queue"
	"github.com/smazurov/camcore/internal/resource"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultWorkers        = 2
	DefaultEventQueueSize = 64
	DefaultMaxSessions    = 16
)

// DeviceID is the device instance the engine opens.
const DeviceID = 0

// Config tunes the engine. LatencyMax and LatencyReduceRate seed every new
// session; a negative LatencyMax disables the latency bound.
type Config struct {
	Workers           int
	EventQueueSize    int
	MaxSessions       int
	LatencyMax        int
	LatencyReduceRate int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	switch {
	case c.LatencyMax == 0:
		c.LatencyMax = session.DefaultLatencyMax
	case c.LatencyMax < 0:
		c.LatencyMax = 0
	}
	if c.LatencyReduceRate <= 0 {
		c.LatencyReduceRate = session.DefaultLatencyReduceRate
	}
	return c
}

// Deps are the collaborators the engine drives. Bus is optional.
type Deps struct {
	Platform *platform.Platform
	Device   hw.Device
	Pipeline session.Pipeline
	Mapper   buffers.Mapper
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Stats is a snapshot of engine activity.
type Stats struct {
	EventsQueued     uint64 `json:"events_queued"`
	EventsRejected   uint64 `json:"events_rejected"`
	EventsDispatched uint64 `json:"events_dispatched"`
	EventsUnmatched  uint64 `json:"events_unmatched"`
	InboundDepth     int    `json:"inbound_depth"`
	InboundCapacity  int    `json:"inbound_capacity"`
	Workers          int    `json:"workers"`
	SessionsOpen     int    `json:"sessions_open"`
	MaxSessions      int    `json:"max_sessions"`
	PathsFree        int    `json:"paths_free"`
	Running          bool   `json:"running"`
	Suspended        bool   `json:"suspended"`
}

// Engine is the capture engine. Create it with New, then call Init.
type Engine struct {
	cfg      Config
	platform *platform.Platform
	device   hw.Device
	pipeline session.Pipeline
	mapper   buffers.Mapper
	bus      *events.Bus

	logger      *slog.Logger
	dispatchLog *slog.Logger
	sessionLog  *slog.Logger

	table     *session.Table
	resources *resource.Manager
	inbound   *queue.Queue[hw.Event]
	wake      chan struct{}

	// mu serializes state transitions, reservation and power management.
	mu        sync.Mutex
	running   bool
	suspended []session.Handle
	cancel    context.CancelFunc
	group     *errgroup.Group

	queued     atomic.Uint64
	rejected   atomic.Uint64
	dispatched atomic.Uint64
	unmatched  atomic.Uint64
}

// New validates the dependencies and builds a stopped engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Platform == nil {
		return nil, status.New(status.CodeBadParam, "platform is required")
	}
	if err := deps.Platform.Validate(); err != nil {
		return nil, status.Wrap(status.CodeBadParam, err, "invalid platform %q", deps.Platform.Name)
	}
	if deps.Device == nil || deps.Mapper == nil {
		return nil, status.New(status.CodeBadParam, "device and mapper are required")
	}
	if deps.Pipeline.Input == nil || deps.Pipeline.Interconnect == nil || deps.Pipeline.Output == nil {
		return nil, status.New(status.CodeBadParam, "incomplete pipeline")
	}

	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inbound, err := queue.New[hw.Event](cfg.EventQueueSize, queue.LockSpin)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		platform:    deps.Platform,
		device:      deps.Device,
		pipeline:    deps.Pipeline,
		mapper:      deps.Mapper,
		bus:         deps.Bus,
		logger:      logger.With("component", "engine"),
		dispatchLog: logger.With("component", "dispatch"),
		sessionLog:  logger.With("component", "session"),
		table:       session.NewTable(cfg.MaxSessions),
		resources:   resource.NewManager(deps.Platform, logger.With("component", "resource")),
		inbound:     inbound,
		wake:        make(chan struct{}, cfg.Workers),
	}
	metrics.SetPathsFree(e.resources.Free())
	return e, nil
}

// Init brings up every pipeline stage, opens the device, registers for
// hardware events and launches the worker pool. Workers stop when ctx is
// cancelled or Shutdown is called.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return status.New(status.CodeBadState, "engine already running")
	}

	stages := e.pipeline.Stages()
	for i, st := range stages {
		if err := st.Init(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if derr := stages[j].Deinit(); derr != nil {
					e.logger.Warn("Stage deinit failed", "stage", session.Stage(j), "error", derr)
				}
			}
			return status.Wrap(status.CodeOf(err), err, "init %s stage", session.Stage(i))
		}
	}

	if err := e.device.Open(DeviceID); err != nil {
		e.deinitStages()
		return status.Wrap(status.CodeOf(err), err, "open device %d", DeviceID)
	}
	if err := e.device.RegisterCallback(e.onHardwareEvent, e); err != nil {
		_ = e.device.Close()
		e.deinitStages()
		return status.Wrap(status.CodeOf(err), err, "register device callback")
	}

	wctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(wctx)
	for i := range e.cfg.Workers {
		g.Go(func() error {
			return e.worker(gctx, i)
		})
	}
	e.cancel = cancel
	e.group = g
	e.running = true

	e.logger.Info("Capture engine started",
		"platform", e.platform.Name,
		"inputs", len(e.platform.Inputs),
		"paths", e.resources.Free(),
		"workers", e.cfg.Workers,
		"event_queue", e.cfg.EventQueueSize)
	return nil
}

// Shutdown closes every open session, stops the workers, closes the device
// and deinitializes the pipeline. Errors are collected; shutdown always
// runs to completion.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.suspended = nil
	e.mu.Unlock()

	var errs []error
	for _, h := range e.table.Handles() {
		if err := e.Close(h); err != nil && !errors.Is(err, status.ErrBadHandle) {
			errs = append(errs, err)
		}
	}

	e.cancel()
	if err := e.group.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := e.device.Close(); err != nil {
		errs = append(errs, status.Wrap(status.CodeFailed, err, "close device"))
	}
	e.deinitStages()

	// Events raised after the workers exited are discarded.
	if n := e.inbound.Len(); n > 0 {
		e.dispatchLog.Debug("Discarding undispatched events", "count", n)
		_ = e.inbound.Clear()
	}
	metrics.SetInboundDepth(0)

	e.logger.Info("Capture engine stopped", "dispatched", e.dispatched.Load(), "rejected", e.rejected.Load())
	return errors.Join(errs...)
}

func (e *Engine) deinitStages() {
	stages := e.pipeline.Stages()
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].Deinit(); err != nil {
			e.logger.Warn("Stage deinit failed", "stage", session.Stage(i), "error", err)
		}
	}
}

// Running reports whether Init has succeeded and Shutdown has not run.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	running, suspended := e.running, e.suspended != nil
	e.mu.Unlock()

	return Stats{
		EventsQueued:     e.queued.Load(),
		EventsRejected:   e.rejected.Load(),
		EventsDispatched: e.dispatched.Load(),
		EventsUnmatched:  e.unmatched.Load(),
		InboundDepth:     e.inbound.Len(),
		InboundCapacity:  e.inbound.Cap(),
		Workers:          e.cfg.Workers,
		SessionsOpen:     len(e.table.Handles()),
		MaxSessions:      e.table.Cap(),
		PathsFree:        e.resources.Free(),
		Running:          running,
		Suspended:        suspended,
	}
}

// Paths returns the reservation table.
func (e *Engine) Paths() []resource.Slot {
	return e.resources.Slots()
}

// Platform returns the board description the engine was built with.
func (e *Engine) Platform() *platform.Platform {
	return e.platform
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339Nano)
}
