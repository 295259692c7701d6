package engine

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/metrics"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

const stateClosed = "closed"

// QueryInputs reports the platform's inputs. With a nil dst it returns the
// number of inputs; otherwise it fills dst and returns how many entries
// were written.
func (e *Engine) QueryInputs(dst []hw.InputInfo) int {
	infos := e.platform.InputInfos()
	if dst == nil {
		return len(infos)
	}
	return copy(dst, infos)
}

// Inputs returns every input on the platform.
func (e *Engine) Inputs() []hw.InputInfo {
	return e.platform.InputInfos()
}

// Open creates a session on input and returns its handle.
func (e *Engine) Open(input hw.InputID) (session.Handle, error) {
	if !e.Running() {
		return 0, status.New(status.CodeBadState, "engine not running")
	}
	info, ok := e.platform.Input(input)
	if !ok {
		return 0, status.New(status.CodeBadParam, "unknown input %d", input)
	}

	c, err := session.NewContext(session.Config{
		Input:             info,
		Pipeline:          e.pipeline,
		Arbiter:           e.resources,
		Mapper:            e.mapper,
		LatencyMax:        e.cfg.LatencyMax,
		LatencyReduceRate: e.cfg.LatencyReduceRate,
		Logger:            e.sessionLog,
	})
	if err != nil {
		return 0, err
	}

	// Shutdown snapshots the table after clearing running under e.mu, so
	// an insert made here is either refused or closed by Shutdown.
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		c.Destroy()
		return 0, status.New(status.CodeBadState, "engine not running")
	}
	h, err := e.table.Insert(c)
	e.mu.Unlock()
	if err != nil {
		c.Destroy()
		return 0, status.Wrap(status.CodeOf(err), err, "open input %d", input)
	}

	metrics.SetSessionsOpen(len(e.table.Handles()))
	e.logger.Info("Session opened", "handle", h.String(), "session", c.ID(), "input", input)
	e.publishState(c.Info(), session.StateUninitialized.String())
	return h, nil
}

// Close stops the session if it is streaming, releases its path, unmaps
// its buffers and invalidates the handle. The session is freed once every
// outstanding reference is released.
func (e *Engine) Close(h session.Handle) error {
	ref, err := e.table.Acquire(h)
	if err != nil {
		return err
	}
	c := ref.Context()

	e.mu.Lock()
	before := c.Info()
	terr := c.Teardown()
	e.mu.Unlock()

	rerr := e.table.Remove(h)
	ref.Release()
	if rerr != nil {
		// Lost a race with another Close.
		return rerr
	}

	if terr != nil {
		e.logger.Warn("Session teardown incomplete", "session", before.ID, "error", terr)
	}
	metrics.DeleteSessionMetrics(before.ID)
	metrics.SetSessionsOpen(len(e.table.Handles()))
	metrics.SetPathsFree(e.resources.Free())

	e.logger.Info("Session closed", "handle", h.String(), "session", before.ID)
	e.publish(events.SessionStateChangedEvent{
		SessionID: before.ID,
		Handle:    h.String(),
		Input:     uint32(before.Input),
		From:      before.State.String(),
		To:        stateClosed,
		Timestamp: timestamp(),
	})
	return terr
}

// with runs fn on the session behind h while holding a reference to it.
func (e *Engine) with(h session.Handle, fn func(c *session.Context) error) error {
	ref, err := e.table.Acquire(h)
	if err != nil {
		return err
	}
	defer ref.Release()
	return fn(ref.Context())
}

// transition runs a state-changing operation under the engine lock and
// publishes the resulting state change.
func (e *Engine) transition(h session.Handle, fn func(c *session.Context) error) error {
	return e.with(h, func(c *session.Context) error {
		e.mu.Lock()
		from := c.State()
		err := fn(c)
		info := c.Info()
		e.mu.Unlock()

		if info.State != from {
			e.publishState(info, from.String())
		}
		metrics.SetPathsFree(e.resources.Free())
		return err
	})
}

func (e *Engine) publishState(info session.Info, from string) {
	e.publish(events.SessionStateChangedEvent{
		SessionID: info.ID,
		Handle:    info.Handle.String(),
		Input:     uint32(info.Input),
		From:      from,
		To:        info.State.String(),
		Timestamp: timestamp(),
	})
}

// Reserve claims a hardware output path for the session.
func (e *Engine) Reserve(h session.Handle) error {
	return e.transition(h, (*session.Context).Reserve)
}

// Release returns the session's hardware output path.
func (e *Engine) Release(h session.Handle) error {
	return e.transition(h, (*session.Context).Release)
}

// Start begins streaming, reserving a path first if needed.
func (e *Engine) Start(h session.Handle) error {
	return e.transition(h, (*session.Context).Start)
}

// Stop ends streaming and wakes any GetFrame waiter.
func (e *Engine) Stop(h session.Handle) error {
	return e.transition(h, (*session.Context).Stop)
}

// Pause halts the output path and discards undelivered frames.
func (e *Engine) Pause(h session.Handle) error {
	return e.transition(h, (*session.Context).Pause)
}

// Resume resubmits the session's buffers and restarts the output path.
func (e *Engine) Resume(h session.Handle) error {
	return e.transition(h, (*session.Context).Resume)
}

// SetBuffers maps the client's buffers into the session.
func (e *Engine) SetBuffers(h session.Handle, bufs []buffers.ClientBuffer) error {
	return e.with(h, func(c *session.Context) error {
		return c.SetBuffers(bufs)
	})
}

// SetParam sets a session parameter.
func (e *Engine) SetParam(h session.Handle, id session.ParamID, value any) error {
	return e.with(h, func(c *session.Context) error {
		return c.SetParam(id, value)
	})
}

// GetParam reads a session parameter.
func (e *Engine) GetParam(h session.Handle, id session.ParamID) (any, error) {
	var v any
	err := e.with(h, func(c *session.Context) error {
		var err error
		v, err = c.GetParam(id)
		return err
	})
	return v, err
}

// GetFrame takes the oldest delivered frame. timeout is session.NoWait,
// session.WaitForever or a positive bound. The engine lock is not held
// while waiting. A done ctx abandons the wait with status.ErrNoMore.
func (e *Engine) GetFrame(ctx context.Context, h session.Handle, timeout time.Duration) (hw.FrameInfo, error) {
	var frame hw.FrameInfo
	err := e.with(h, func(c *session.Context) error {
		var err error
		frame, err = c.GetFrame(ctx, timeout)
		if err == nil {
			metrics.SetQueueDepth(c.ID(), c.QueuedFrames())
		}
		return err
	})
	return frame, err
}

// ReleaseFrame hands an acquired buffer back to the session.
func (e *Engine) ReleaseFrame(h session.Handle, index int) error {
	return e.with(h, func(c *session.Context) error {
		return c.ReleaseFrame(index)
	})
}

// Session returns a snapshot of one session.
func (e *Engine) Session(h session.Handle) (session.Info, error) {
	var info session.Info
	err := e.with(h, func(c *session.Context) error {
		info = c.Info()
		return nil
	})
	return info, err
}

// Sessions returns a snapshot of every open session.
func (e *Engine) Sessions() []session.Info {
	var out []session.Info
	e.table.Traverse(nil, func(c *session.Context) {
		out = append(out, c.Info())
	})
	return out
}

// Suspend pauses every streaming session and powers down the pipeline.
// Sessions paused here are resumed by ResumePower.
func (e *Engine) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return status.New(status.CodeBadState, "engine not running")
	}
	if e.suspended != nil {
		return status.New(status.CodeBadState, "already suspended")
	}

	paused := []session.Handle{}
	var errs []error
	e.table.Traverse(func(info session.Info) bool {
		return info.State == session.StateStreaming
	}, func(c *session.Context) {
		if err := c.Pause(); err != nil {
			errs = append(errs, err)
			return
		}
		info := c.Info()
		paused = append(paused, info.Handle)
		e.publishState(info, session.StateStreaming.String())
	})

	stages := e.pipeline.Stages()
	for i := len(stages) - 1; i >= 0; i-- {
		if err := stages[i].PowerSuspend(); err != nil {
			errs = append(errs, status.Wrap(status.CodeOf(err), err, "suspend %s stage", session.Stage(i)))
		}
	}

	e.suspended = paused
	e.logger.Info("Pipeline suspended", "paused_sessions", len(paused))
	return errors.Join(errs...)
}

// ResumePower powers the pipeline back up and resumes the sessions that
// Suspend paused. Sessions closed in the meantime are skipped.
func (e *Engine) ResumePower() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.suspended == nil {
		return status.New(status.CodeBadState, "not suspended")
	}

	var errs []error
	for i, st := range e.pipeline.Stages() {
		if err := st.PowerResume(); err != nil {
			errs = append(errs, status.Wrap(status.CodeOf(err), err, "resume %s stage", session.Stage(i)))
		}
	}

	resumed := 0
	for _, h := range e.suspended {
		err := e.with(h, func(c *session.Context) error {
			if c.State() != session.StatePaused {
				return nil
			}
			if err := c.Resume(); err != nil {
				return err
			}
			resumed++
			e.publishState(c.Info(), session.StatePaused.String())
			return nil
		})
		if err != nil && !errors.Is(err, status.ErrBadHandle) {
			errs = append(errs, err)
		}
	}

	e.suspended = nil
	e.logger.Info("Pipeline resumed", "resumed_sessions", resumed)
	return errors.Join(errs...)
}
