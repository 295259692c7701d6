package engine

import (
	"context"

	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/metrics"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

// QueueEvent hands a hardware event to the worker pool. It never blocks:
// when the inbound queue is full the event is dropped, counted and
// status.ErrNoMore is returned.
func (e *Engine) QueueEvent(ev hw.Event) error {
	kind := ev.Kind.String()
	if err := e.inbound.Enqueue(ev); err != nil {
		e.rejected.Add(1)
		metrics.RecordEventRejected(kind)
		return err
	}
	e.queued.Add(1)
	metrics.RecordEventQueued(kind, e.inbound.Len())

	select {
	case e.wake <- struct{}{}:
	default:
		// Every worker already has a wakeup pending.
	}
	return nil
}

// onHardwareEvent is the device callback. It runs on the device's thread.
func (e *Engine) onHardwareEvent(ev hw.Event, token any) {
	if token != e {
		return
	}
	if err := e.QueueEvent(ev); err != nil {
		e.dispatchLog.Warn("Hardware event dropped", "kind", ev.Kind, "error", err)
	}
}

func (e *Engine) worker(ctx context.Context, id int) error {
	log := e.dispatchLog.With("worker", id)
	log.Debug("Worker started")
	defer log.Debug("Worker stopped")

	for {
		ev, err := e.inbound.Dequeue()
		if err == nil {
			metrics.SetInboundDepth(e.inbound.Len())
			e.dispatch(ev)
			continue
		}
		if status.CodeOf(err) != status.CodeNoMore {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
		}
	}
}

func (e *Engine) dispatch(ev hw.Event) {
	e.dispatched.Add(1)
	switch ev.Kind {
	case hw.EventFrameDone:
		e.handleFrameDone(ev)
	case hw.EventSOF:
		e.handleSOF(ev)
	case hw.EventPathError:
		e.handlePathError(ev)
	case hw.EventInputStatus:
		e.handleInputStatus(ev)
	default:
		e.dispatchLog.Warn("Unknown hardware event", "kind", ev.Kind)
	}
}

func streamingOn(b hw.PathBinding) func(session.Info) bool {
	return func(info session.Info) bool {
		return info.State == session.StateStreaming && info.Bound && info.Binding == b
	}
}

func (e *Engine) unmatchedEvent(ev hw.Event) {
	e.unmatched.Add(1)
	metrics.RecordEventUnmatched(ev.Kind.String())
	e.dispatchLog.Debug("No streaming session for event", "kind", ev.Kind, "path", ev.Path.String())
}

func (e *Engine) handleFrameDone(ev hw.Event) {
	ref, ok := e.table.Find(streamingOn(ev.Path))
	if !ok {
		e.unmatchedEvent(ev)
		return
	}
	defer ref.Release()

	c := ref.Context()
	d, err := c.HandleFrameDone(ev)
	if err != nil {
		e.dispatchLog.Warn("Frame done rejected",
			"session", c.ID(), "buffer", ev.Buffer, "frame", ev.FrameID, "error", err)
		return
	}

	e.recordDelivery(c, d)
	d.Notify()
}

func (e *Engine) recordDelivery(c *session.Context, d session.Delivery) {
	input := uint32(c.Input().ID)
	depth := c.QueuedFrames()
	now := timestamp()

	for i, f := range d.Dropped {
		reason := metrics.DropLatency
		if !d.Delivered && i == len(d.Dropped)-1 {
			reason = metrics.DropQueueFull
		}
		metrics.RecordFramesDropped(d.SessionID, input, reason, 1)
		e.publish(events.FrameDroppedEvent{
			SessionID:   d.SessionID,
			Input:       input,
			FrameID:     f.FrameID,
			BufferIndex: f.BufferIndex,
			Reason:      reason,
			Timestamp:   now,
		})
	}
	if len(d.Dropped) > 0 {
		e.dispatchLog.Debug("Frames dropped", "session", d.SessionID, "count", len(d.Dropped), "queued", depth)
	}

	if !d.Delivered {
		metrics.SetQueueDepth(d.SessionID, depth)
		return
	}
	metrics.RecordFrameDelivered(d.SessionID, input, depth)
	if d.Frame.Field == hw.FieldUnknown {
		metrics.RecordFieldUnknown(d.SessionID, input)
		e.publish(events.FieldDegradedEvent{
			SessionID: d.SessionID,
			Input:     input,
			FrameID:   d.Frame.FrameID,
			Timestamp: now,
		})
	}
}

func (e *Engine) handleSOF(ev hw.Event) {
	ref, ok := e.table.Find(streamingOn(ev.Path))
	if !ok {
		e.unmatchedEvent(ev)
		return
	}
	defer ref.Release()
	ref.Context().HandleSOF(ev)
}

// handlePathError notifies every session bound to the failing core,
// whatever interface it holds.
func (e *Engine) handlePathError(ev hw.Event) {
	core := ev.Path.Core
	var sessions []string
	e.table.Traverse(func(info session.Info) bool {
		return info.Bound && info.Binding.Core == core
	}, func(c *session.Context) {
		info := c.Info()
		sessions = append(sessions, info.ID)
		c.Notifier().Send(session.Notification{
			Kind:      session.NotifyPathError,
			Handle:    info.Handle,
			SessionID: info.ID,
			Input:     info.Input,
			Err:       ev.Err,
		})
	})

	msg := "path error"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	e.dispatchLog.Error("Front-end path error", "core", core, "sessions", len(sessions), "error", msg)
	e.publish(events.PathErrorEvent{
		Core:      uint32(core),
		Sessions:  sessions,
		Error:     msg,
		Timestamp: timestamp(),
	})
}

func (e *Engine) handleInputStatus(ev hw.Event) {
	n := 0
	e.table.Traverse(func(info session.Info) bool {
		return info.Input == ev.Input
	}, func(c *session.Context) {
		n++
		info := c.Info()
		c.Notifier().Send(session.Notification{
			Kind:      session.NotifyInputSignal,
			Handle:    info.Handle,
			SessionID: info.ID,
			Input:     ev.Input,
			Locked:    ev.Locked,
		})
	})

	e.dispatchLog.Info("Input signal changed", "input", ev.Input, "locked", ev.Locked, "sessions", n)
	e.publish(events.InputSignalEvent{
		Input:     uint32(ev.Input),
		Locked:    ev.Locked,
		Timestamp: timestamp(),
	})
}
