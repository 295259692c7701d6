package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/status"
)

// frameTimeout converts the timeout_ms query value into a GetFrame timeout.
func frameTimeout(ms int) time.Duration {
	switch {
	case ms < 0:
		return session.WaitForever
	case ms == 0:
		return session.NoWait
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

func (s *Server) registerFrameRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-frame",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{handle}/frame",
		Summary:     "Get Frame",
		Description: "Take the oldest delivered frame. Responds 204 when no frame is ready " +
			"or the session stopped while waiting, and 408 when the timeout expires.",
		Tags:     []string{"frames"},
		Security: withAuth(),
		Errors:   []int{401, 404, 408, 409},
	}, func(ctx context.Context, input *models.GetFrameRequest) (*huma.StreamResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		frame, err := s.engine.GetFrame(ctx, h, frameTimeout(input.TimeoutMs))
		if err == nil && ctx.Err() != nil {
			// The client left between the frame arriving and the reply.
			s.returnFrame(h, frame.BufferIndex, ctx.Err())
			return nil, toHTTPError(status.Wrap(status.CodeNoMore, ctx.Err(), "client gone"))
		}
		if errors.Is(err, status.ErrNoMore) {
			return &huma.StreamResponse{Body: func(hctx huma.Context) {
				hctx.SetStatus(http.StatusNoContent)
			}}, nil
		}
		if err != nil {
			return nil, toHTTPError(err)
		}

		data := models.FrameFromInfo(frame)
		return &huma.StreamResponse{Body: func(hctx huma.Context) {
			hctx.SetHeader("Content-Type", "application/json")
			hctx.SetStatus(http.StatusOK)
			if err := json.NewEncoder(hctx.BodyWriter()).Encode(data); err != nil {
				s.returnFrame(h, data.BufferIndex, err)
			}
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "release-frame",
		Method:        http.MethodPost,
		Path:          "/api/sessions/{handle}/frames/{index}/release",
		Summary:       "Release Frame",
		Description:   "Hand a buffer taken with Get Frame back to the hardware",
		Tags:          []string{"frames"},
		DefaultStatus: http.StatusNoContent,
		Security:      withAuth(),
		Errors:        []int{400, 401, 404, 409},
	}, func(ctx context.Context, input *models.ReleaseFrameRequest) (*struct{}, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		if err := s.engine.ReleaseFrame(h, input.Index); err != nil {
			return nil, toHTTPError(err)
		}
		return &struct{}{}, nil
	})
}

// returnFrame releases a frame the client never received so its buffer
// goes back into rotation.
func (s *Server) returnFrame(h session.Handle, index int, cause error) {
	s.logger.Debug("Frame not delivered, releasing buffer", "handle", h.String(), "index", index, "error", cause)
	if err := s.engine.ReleaseFrame(h, index); err != nil {
		s.logger.Warn("Failed to release undelivered frame", "handle", h.String(), "index", index, "error", err)
	}
}
