package session

import (
	"github.com/smazurov/camcore/internal/status"
)

// SetParam sets a session parameter. Exposure and frame rate are forwarded
// to the input configurer and stored only if it accepts them.
func (c *Context) SetParam(id ParamID, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized {
		return status.New(status.CodeBadState, "session closed")
	}

	switch id {
	case ParamEventCallback:
		cb, ok := value.(EventCallback)
		if !ok && value != nil {
			fn, isFunc := value.(func(Notification))
			if !isFunc {
				return badType(id, value)
			}
			cb = fn
		}
		c.callback = cb
	case ParamEventMask:
		mask, ok := value.(EventMask)
		if !ok {
			return badType(id, value)
		}
		if mask&^MaskAll != 0 {
			return status.New(status.CodeBadParam, "unknown event mask bits %#x", uint32(mask&^MaskAll))
		}
		c.mask = mask
	case ParamLatencyMax:
		n, ok := value.(int)
		if !ok {
			return badType(id, value)
		}
		if n < 0 {
			return status.New(status.CodeBadParam, "latency max %d", n)
		}
		c.params.LatencyMax = n
	case ParamLatencyReduceRate:
		n, ok := value.(int)
		if !ok {
			return badType(id, value)
		}
		if n < 1 {
			return status.New(status.CodeBadParam, "latency reduce rate %d", n)
		}
		c.params.LatencyReduceRate = n
	case ParamExposure:
		e, ok := value.(Exposure)
		if !ok {
			return badType(id, value)
		}
		if e.Mode != ExposureAuto && e.Mode != ExposureManual {
			return status.New(status.CodeBadParam, "exposure mode %q", e.Mode)
		}
		if e.Mode == ExposureManual && (e.TimeUs <= 0 || e.Gain < 0) {
			return status.New(status.CodeBadParam, "manual exposure needs a positive time")
		}
		if err := c.pipeline.Input.SetParam(c, id, e); err != nil {
			return err
		}
		c.params.Exposure = e
	case ParamFrameRate:
		fps, ok := value.(float64)
		if !ok {
			return badType(id, value)
		}
		if fps <= 0 {
			return status.New(status.CodeBadParam, "frame rate %g", fps)
		}
		if err := c.pipeline.Input.SetParam(c, id, fps); err != nil {
			return err
		}
		c.params.FrameRate = fps
	case ParamResolution, ParamColorFormat, ParamFieldType:
		return status.New(status.CodeBadParam, "%s is read-only", id)
	default:
		return status.New(status.CodeUnsupported, "unknown parameter %s", id)
	}

	c.logger.Debug("Parameter set", "param", id)
	return nil
}

// GetParam reads a session parameter.
func (c *Context) GetParam(id ParamID) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized {
		return nil, status.New(status.CodeBadState, "session closed")
	}

	switch id {
	case ParamEventCallback:
		return c.callback, nil
	case ParamEventMask:
		return c.mask, nil
	case ParamLatencyMax:
		return c.params.LatencyMax, nil
	case ParamLatencyReduceRate:
		return c.params.LatencyReduceRate, nil
	case ParamExposure:
		return c.params.Exposure, nil
	case ParamFrameRate:
		return c.params.FrameRate, nil
	case ParamResolution:
		return c.input.Resolution, nil
	case ParamColorFormat:
		return c.input.Format, nil
	case ParamFieldType:
		return c.fields.last, nil
	default:
		return nil, status.New(status.CodeUnsupported, "unknown parameter %s", id)
	}
}

func badType(id ParamID, value any) error {
	return status.New(status.CodeBadParam, "%s: unexpected value type %T", id, value)
}
