// Package sim simulates the capture hardware: configurers for the input,
// interconnect and output stages, a device that raises completion events,
// and a buffer mapper. Frames are produced either by a per-path ticker or
// on demand through Step.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/session"
)

// Options configures the simulated hardware.
type Options struct {
	// FrameInterval between frames on a running path. Zero derives it from
	// the input frame rate; a negative value disables the ticker so frames
	// are produced only by Step.
	FrameInterval time.Duration
	// ErrorRate is the probability that a produced frame is accompanied by
	// a path error.
	ErrorRate float64
	Logger    *slog.Logger
}

type path struct {
	binding hw.PathBinding
	input   hw.InputInfo
	pending []int
	running bool
	field   hw.FieldType
	cancel  context.CancelFunc
	done    chan struct{}
}

// Hardware is one simulated board.
type Hardware struct {
	opts   Options
	logger *slog.Logger
	device *Device
	mapper *Mapper
	epoch  time.Time

	input        *inputStage
	interconnect *interconnectStage
	output       *outputStage

	mu        sync.Mutex
	paths     map[hw.PathBinding]*path
	calls     []string
	fail      map[string]error
	submitted map[hw.PathBinding][]int

	frameID atomic.Uint64
}

// New creates simulated hardware.
func New(opts Options) *Hardware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hardware{
		opts:      opts,
		logger:    logger,
		device:    &Device{},
		mapper:    NewMapper(0x8000_0000),
		epoch:     time.Now(),
		paths:     make(map[hw.PathBinding]*path),
		fail:      make(map[string]error),
		submitted: make(map[hw.PathBinding][]int),
	}
	h.input = &inputStage{stage: stage{hw: h, kind: session.StageInput}}
	h.interconnect = &interconnectStage{stage: stage{hw: h, kind: session.StageInterconnect}}
	h.output = &outputStage{stage: stage{hw: h, kind: session.StageOutput}}
	return h
}

// Device returns the simulated device.
func (h *Hardware) Device() *Device { return h.device }

// Mapper returns the simulated buffer mapper.
func (h *Hardware) Mapper() *Mapper { return h.mapper }

// Pipeline returns the three simulated configurers.
func (h *Hardware) Pipeline() session.Pipeline {
	return session.Pipeline{Input: h.input, Interconnect: h.interconnect, Output: h.output}
}

// FailOn makes the given stage operation return err until cleared with a
// nil err. Operations are the lower-case configurer method names, e.g.
// "start" or "set_param".
func (h *Hardware) FailOn(s session.Stage, op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := s.String() + "." + op
	if err == nil {
		delete(h.fail, key)
		return
	}
	h.fail[key] = err
}

// Calls returns every configurer call recorded as "stage.op".
func (h *Hardware) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

// ResetCalls clears the call record.
func (h *Hardware) ResetCalls() {
	h.mu.Lock()
	h.calls = nil
	h.mu.Unlock()
}

// Submitted returns every buffer index submitted on b, in order.
func (h *Hardware) Submitted(b hw.PathBinding) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.submitted[b]))
	copy(out, h.submitted[b])
	return out
}

// Pending returns the buffers queued to hardware on b.
func (h *Hardware) Pending(b hw.PathBinding) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.paths[b]; ok {
		return len(p.pending)
	}
	return 0
}

// Paths returns the bindings of every configured path.
func (h *Hardware) Paths() []hw.PathBinding {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hw.PathBinding, 0, len(h.paths))
	for b := range h.paths {
		out = append(out, b)
	}
	return out
}

func (h *Hardware) record(s session.Stage, op string) error {
	key := s.String() + "." + op
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, key)
	return h.fail[key]
}

// Step completes the oldest pending buffer on b, raising a start-of-frame
// event followed by a frame-done event. It reports false when the path is
// not running or has no buffer queued.
func (h *Hardware) Step(b hw.PathBinding) bool {
	h.mu.Lock()
	p, ok := h.paths[b]
	if !ok || !p.running || len(p.pending) == 0 {
		h.mu.Unlock()
		return false
	}
	idx := p.pending[0]
	p.pending = p.pending[1:]

	field := hw.FieldNone
	if p.input.Interlaced {
		if p.field == hw.FieldEven {
			p.field = hw.FieldOdd
		} else {
			p.field = hw.FieldEven
		}
		field = p.field
	}
	h.mu.Unlock()

	id := h.frameID.Add(1)
	sof := time.Since(h.epoch)

	if h.opts.ErrorRate > 0 && rand.Float64() < h.opts.ErrorRate {
		h.device.raise(hw.Event{
			Kind:      hw.EventPathError,
			Path:      b,
			Timestamp: sof,
			Err:       fmt.Errorf("simulated CSI CRC error on %s", b),
		})
	}

	h.device.raise(hw.Event{Kind: hw.EventSOF, Path: b, FrameID: id, Timestamp: sof, Field: field})
	h.device.raise(hw.Event{
		Kind:      hw.EventFrameDone,
		Path:      b,
		Buffer:    idx,
		FrameID:   id,
		Timestamp: time.Since(h.epoch),
		SOFTime:   sof,
	})
	return true
}

// InjectPathError raises a fatal error on every interface of core.
func (h *Hardware) InjectPathError(core hw.CoreID, err error) {
	h.device.raise(hw.Event{
		Kind:      hw.EventPathError,
		Path:      hw.PathBinding{Core: core},
		Timestamp: time.Since(h.epoch),
		Err:       err,
	})
}

// SetSignal raises an input signal status change.
func (h *Hardware) SetSignal(input hw.InputID, locked bool) {
	h.device.raise(hw.Event{
		Kind:      hw.EventInputStatus,
		Input:     input,
		Timestamp: time.Since(h.epoch),
		Locked:    locked,
	})
}

func (h *Hardware) interval(in hw.InputInfo) time.Duration {
	if h.opts.FrameInterval != 0 {
		return h.opts.FrameInterval
	}
	if in.FPS <= 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / in.FPS)
}

// startTicker runs Step on b at the path's frame interval. The caller
// holds h.mu.
func (h *Hardware) startTickerLocked(p *path) {
	every := h.interval(p.input)
	if every < 0 || p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	b := p.binding
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Step(b)
			}
		}
	}()
}

// stopTicker stops the path's ticker and waits for it to exit. The caller
// must not hold h.mu.
func (h *Hardware) stopTicker(b hw.PathBinding) {
	h.mu.Lock()
	p, ok := h.paths[b]
	if !ok || p.cancel == nil {
		h.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	h.mu.Unlock()

	cancel()
	<-done
}
