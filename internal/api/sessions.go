package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/session"
)

func (s *Server) sessionResponse(h session.Handle) (*models.SessionResponse, error) {
	info, err := s.engine.Session(h)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &models.SessionResponse{Body: models.SessionFromInfo(info)}, nil
}

// action runs one of the named state transitions.
func (s *Server) action(h session.Handle, name string) error {
	var fn func(session.Handle) error
	switch name {
	case "reserve":
		fn = s.engine.Reserve
	case "release":
		fn = s.engine.Release
	case "start":
		fn = s.engine.Start
	case "stop":
		fn = s.engine.Stop
	case "pause":
		fn = s.engine.Pause
	case "resume":
		fn = s.engine.Resume
	default:
		return huma.Error400BadRequest("unknown action " + name)
	}
	return toHTTPError(fn(h))
}

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "List every open capture session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.SessionListResponse, error) {
		infos := s.engine.Sessions()
		resp := &models.SessionListResponse{}
		resp.Body.Sessions = make([]models.SessionData, 0, len(infos))
		for _, info := range infos {
			resp.Body.Sessions = append(resp.Body.Sessions, models.SessionFromInfo(info))
		}
		resp.Body.Count = len(infos)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/api/sessions",
		Summary:       "Open Session",
		Description:   "Open a capture session on an input",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
		Security:      withAuth(),
		Errors:        []int{400, 401, 409, 429},
	}, func(ctx context.Context, input *models.OpenSessionRequest) (*models.SessionResponse, error) {
		h, err := s.engine.Open(input.Body.Input)
		if err != nil {
			return nil, toHTTPError(err)
		}
		return s.sessionResponse(h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/sessions/{handle}",
		Summary:     "Get Session",
		Description: "Get the state of one session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *models.SessionPath) (*models.SessionResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		return s.sessionResponse(h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/api/sessions/{handle}",
		Summary:       "Close Session",
		Description:   "Stop the session if needed, release its path and invalidate the handle",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
		Security:      withAuth(),
		Errors:        []int{401, 404},
	}, func(ctx context.Context, input *models.SessionPath) (*struct{}, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Close(h); err != nil {
			return nil, toHTTPError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "session-action",
		Method:      http.MethodPost,
		Path:        "/api/sessions/{handle}/{action}",
		Summary:     "Session Transition",
		Description: "Reserve, release, start, stop, pause or resume a session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 500, 503},
	}, func(ctx context.Context, input *models.SessionActionRequest) (*models.SessionResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		if err := s.action(h, input.Action); err != nil {
			return nil, err
		}
		return s.sessionResponse(h)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-buffers",
		Method:      http.MethodPut,
		Path:        "/api/sessions/{handle}/buffers",
		Summary:     "Set Buffers",
		Description: "Register and map the client buffers of a session",
		Tags:        []string{"sessions"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 409, 500},
	}, func(ctx context.Context, input *models.SetBuffersRequest) (*models.SessionResponse, error) {
		h, err := parseHandle(input.Handle)
		if err != nil {
			return nil, err
		}
		bufs := make([]buffers.ClientBuffer, len(input.Body.Buffers))
		for i, b := range input.Body.Buffers {
			bufs[i] = buffers.ClientBuffer{Handle: b.Handle, Size: b.Size}
		}
		if err := s.engine.SetBuffers(h, bufs); err != nil {
			return nil, toHTTPError(err)
		}
		return s.sessionResponse(h)
	})
}
