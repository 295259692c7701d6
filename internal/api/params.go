package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/session"
)

var maskNames = []struct {
	name string
	bit  session.EventMask
}{
	{"frame_ready", session.MaskFrameReady},
	{"input_signal", session.MaskInputSignal},
	{"path_error", session.MaskPathError},
	{"field_degraded", session.MaskFieldDegraded},
	{"frame_dropped", session.MaskFrameDropped},
}

func maskToNames(m session.EventMask) []string {
	names := []string{}
	for _, n := range maskNames {
		if m&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return names
}

func badValue(id session.ParamID, format string, args ...any) error {
	return huma.Error400BadRequest(fmt.Sprintf("%s: %s", id, fmt.Sprintf(format, args...)))
}

func toInt(id session.ParamID, v any) (int, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, badValue(id, "expected an integer, got %v", v)
	}
	return int(f), nil
}

// decodeParam converts a JSON value into the type the session expects.
func decodeParam(id session.ParamID, v any) (any, error) {
	switch id {
	case session.ParamEventCallback:
		return nil, badValue(id, "callbacks cannot be set over HTTP, subscribe to /api/events instead")
	case session.ParamLatencyMax, session.ParamLatencyReduceRate:
		return toInt(id, v)
	case session.ParamFrameRate:
		f, ok := v.(float64)
		if !ok {
			return nil, badValue(id, "expected a number, got %v", v)
		}
		return f, nil
	case session.ParamEventMask:
		switch m := v.(type) {
		case float64:
			n, err := toInt(id, m)
			if err != nil || n < 0 {
				return nil, badValue(id, "expected a mask, got %v", v)
			}
			return session.EventMask(n), nil
		case []any:
			var mask session.EventMask
		names:
			for _, item := range m {
				for _, n := range maskNames {
					if item == n.name {
						mask |= n.bit
						continue names
					}
				}
				return nil, badValue(id, "unknown event %v", item)
			}
			return mask, nil
		}
		return nil, badValue(id, "expected a number or a list of event names")
	case session.ParamExposure:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, badValue(id, "%v", err)
		}
		var e session.Exposure
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, badValue(id, "%v", err)
		}
		return e, nil
	}
	// Read-only and unknown parameters are rejected by the session.
	return v, nil
}

// encodeParam converts a session value into its JSON form.
func encodeParam(id session.ParamID, v any) any {
	switch val := v.(type) {
	case session.EventCallback:
		return val != nil
	case session.EventMask:
		return maskToNames(val)
	case hw.FieldType:
		return val.String()
	}
	return v
}

func lookupParam(name string) (session.ParamID, error) {
	id, ok := session.ParseParam(name)
	if !ok {
		return 0, huma.Error404NotFound("unknown parameter " + name)
	}
	return id, nil
}

func (s *Server) registerParamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-param",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{handle}/params/{param}",
		Summary:     "Get Parameter",
		Description: "Read a session parameter",
		Tags:        []string{"params"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 409, 501},
	}, func(ctx context.Context, input *models.ParamPath) (*models.ParamResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		id, err := lookupParam(input.Param)
		if err != nil {
			return nil, err
		}
		v, err := s.engine.GetParam(h, id)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.ParamResponse{
			Body: models.ParamData{Param: id.String(), Value: encodeParam(id, v)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-param",
		Method:      http.MethodPut,
		Path:        "/api/sessions/{handle}/params/{param}",
		Summary:     "Set Parameter",
		Description: "Set a session parameter. Exposure and frame rate are applied to the input hardware.",
		Tags:        []string{"params"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 500, 501},
	}, func(ctx context.Context, input *models.SetParamRequest) (*models.ParamResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		id, err := lookupParam(input.Param)
		if err != nil {
			return nil, err
		}
		value, err := decodeParam(id, input.Body.Value)
		if err != nil {
			return nil, err
		}
		if err := s.engine.SetParam(h, id, value); err != nil {
			return nil, toHTTPError(err)
		}
		current, err := s.engine.GetParam(h, id)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return &models.ParamResponse{
			Body: models.ParamData{Param: id.String(), Value: encodeParam(id, current)},
		}, nil
	})
}
