package session

import (
	"context"
	"time"

	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/status"
)

// Wait modes for GetFrame. Any positive duration waits at most that long.
const (
	NoWait      time.Duration = 0
	WaitForever time.Duration = -1
)

// Delivery is the outcome of one frame-done event for a session.
type Delivery struct {
	Frame     hw.FrameInfo
	Delivered bool
	Dropped   []hw.FrameInfo
	Notifier  Notifier
	Handle    Handle
	SessionID string
}

// Notify sends the client its drop, field and frame-ready notifications.
// It must be called without any session lock held.
func (d Delivery) Notify() {
	for _, f := range d.Dropped {
		d.Notifier.Send(Notification{
			Kind: NotifyFrameDropped, Handle: d.Handle, SessionID: d.SessionID,
			Input: f.Input, Frame: f,
		})
	}
	if !d.Delivered {
		return
	}
	if d.Frame.Field == hw.FieldUnknown {
		d.Notifier.Send(Notification{
			Kind: NotifyFieldDegraded, Handle: d.Handle, SessionID: d.SessionID,
			Input: d.Frame.Input, Frame: d.Frame,
		})
	}
	d.Notifier.Send(Notification{
		Kind: NotifyFrameReady, Handle: d.Handle, SessionID: d.SessionID,
		Input: d.Frame.Input, Frame: d.Frame,
	})
}

func (c *Context) activate() {
	c.frameMu.Lock()
	_ = c.frames.Clear()
	c.active = true
	c.frameMu.Unlock()
}

// deactivate clears undelivered frames and wakes every GetFrame waiter.
func (c *Context) deactivate() {
	c.frameMu.Lock()
	_ = c.frames.Clear()
	c.active = false
	c.frameCond.Broadcast()
	c.frameMu.Unlock()
}

// HandleFrameDone records a completed frame. When the delivered-frame queue
// already holds LatencyMax frames, the oldest ones are dropped and their
// buffers handed straight back to the output path before the new frame is
// queued.
func (c *Context) HandleFrameDone(ev hw.Event) (Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStreaming {
		return Delivery{}, status.New(status.CodeBadState, "frame done while %s", c.state)
	}

	list := c.bufs.User()
	st, err := c.bufs.GetBufferState(list, ev.Buffer)
	if err != nil {
		return Delivery{}, err
	}
	if st != buffers.StateEnqueued {
		return Delivery{}, status.New(status.CodeBadState, "frame done for buffer %d in state %s", ev.Buffer, st)
	}

	field := hw.FieldNone
	if c.input.Interlaced {
		field = c.fields.Resolve(ev.SOFTime)
	}

	d := Delivery{
		Frame: hw.FrameInfo{
			Input:       c.input.ID,
			BufferIndex: ev.Buffer,
			FrameID:     ev.FrameID,
			Timestamp:   ev.Timestamp,
			SOFTime:     ev.SOFTime,
			Field:       field,
		},
		Notifier:  Notifier{cb: c.callback, mask: c.mask},
		Handle:    c.handle,
		SessionID: c.id,
	}
	_ = c.bufs.SetBufferState(list, ev.Buffer, buffers.StateDelivered)

	c.frameMu.Lock()
	if limit := c.params.LatencyMax; limit > 0 {
		if n := c.frames.Len(); n >= limit {
			drop := max(c.params.LatencyReduceRate, n-limit+1)
			for i := 0; i < drop; i++ {
				f, err := c.frames.Dequeue()
				if err != nil {
					break
				}
				d.Dropped = append(d.Dropped, f)
			}
		}
	}
	if err := c.frames.Enqueue(d.Frame); err != nil {
		d.Dropped = append(d.Dropped, d.Frame)
	} else {
		d.Delivered = true
		c.frameCond.Signal()
	}
	c.frameMu.Unlock()

	for _, f := range d.Dropped {
		if err := c.submitLocked(f.BufferIndex); err != nil {
			c.logger.Warn("Failed to resubmit dropped buffer", "buffer", f.BufferIndex, "error", err)
		}
	}
	return d, nil
}

// HandleSOF records the field reported at a start of frame.
func (c *Context) HandleSOF(ev hw.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStreaming && c.input.Interlaced {
		c.fields.Record(ev.Timestamp, ev.Field)
	}
}

// GetFrame removes the oldest delivered frame and hands its buffer to the
// client. With NoWait it reports status.ErrNoMore when nothing is queued;
// with WaitForever it blocks until a frame arrives; a positive timeout
// bounds the wait and reports status.ErrTimeout on expiry. A waiter woken
// by Stop or Pause, or whose ctx is done, gets status.ErrNoMore and takes
// no frame.
func (c *Context) GetFrame(ctx context.Context, timeout time.Duration) (hw.FrameInfo, error) {
	if st := c.State(); st != StateStreaming {
		return hw.FrameInfo{}, status.New(status.CodeBadState, "cannot get frame while %s", st)
	}

	frame, err := c.waitFrame(ctx, timeout)
	if err != nil {
		return hw.FrameInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.bufs.User()
	if st, _ := c.bufs.GetBufferState(list, frame.BufferIndex); st != buffers.StateDelivered {
		return hw.FrameInfo{}, status.New(status.CodeNoMore, "frame %d withdrawn", frame.FrameID)
	}
	_ = c.bufs.SetBufferState(list, frame.BufferIndex, buffers.StateAcquired)
	return frame, nil
}

func (c *Context) waitFrame(ctx context.Context, timeout time.Duration) (hw.FrameInfo, error) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	wake := func() {
		c.frameMu.Lock()
		c.frameCond.Broadcast()
		c.frameMu.Unlock()
	}
	stop := context.AfterFunc(ctx, wake)
	defer stop()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, wake)
		defer timer.Stop()
	}

	for {
		if !c.active {
			return hw.FrameInfo{}, status.New(status.CodeNoMore, "capture not active")
		}
		if err := ctx.Err(); err != nil {
			return hw.FrameInfo{}, status.Wrap(status.CodeNoMore, err, "frame wait abandoned")
		}
		if frame, err := c.frames.Dequeue(); err == nil {
			return frame, nil
		} else if status.CodeOf(err) != status.CodeNoMore {
			return hw.FrameInfo{}, err
		}
		if timeout == NoWait {
			return hw.FrameInfo{}, status.New(status.CodeNoMore, "no frame ready")
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return hw.FrameInfo{}, status.New(status.CodeTimeout, "no frame within %s", timeout)
		}
		c.frameCond.Wait()
	}
}

// QueuedFrames returns the number of undelivered frames.
func (c *Context) QueuedFrames() int {
	return c.frames.Len()
}
