package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/engine"
)

type statsResponse struct {
	Body engine.Stats
}

func (s *Server) registerEngineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-inputs",
		Method:      http.MethodGet,
		Path:        "/api/inputs",
		Summary:     "List Inputs",
		Description: "List the camera inputs of the platform",
		Tags:        []string{"inputs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.InputListResponse, error) {
		inputs := s.engine.Inputs()
		return &models.InputListResponse{
			Body: models.InputListData{Inputs: inputs, Count: len(inputs)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-paths",
		Method:      http.MethodGet,
		Path:        "/api/paths",
		Summary:     "List Hardware Paths",
		Description: "List every root/core/interface path and the session holding it",
		Tags:        []string{"inputs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.PathListResponse, error) {
		resp := &models.PathListResponse{}
		resp.Body.Paths = s.engine.Paths()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "Engine Statistics",
		Description: "Event dispatch counters and session usage",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*statsResponse, error) {
		return &statsResponse{Body: s.engine.Stats()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "power-suspend",
		Method:      http.MethodPost,
		Path:        "/api/power/suspend",
		Summary:     "Suspend",
		Description: "Pause every streaming session and power the hardware down",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, input *struct{}) (*statsResponse, error) {
		if err := s.engine.Suspend(); err != nil {
			return nil, toHTTPError(err)
		}
		return &statsResponse{Body: s.engine.Stats()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "power-resume",
		Method:      http.MethodPost,
		Path:        "/api/power/resume",
		Summary:     "Resume",
		Description: "Power the hardware up and resume the sessions paused by suspend",
		Tags:        []string{"system"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, input *struct{}) (*statsResponse, error) {
		if err := s.engine.ResumePower(); err != nil {
			return nil, toHTTPError(err)
		}
		return &statsResponse{Body: s.engine.Stats()}, nil
	})
}
