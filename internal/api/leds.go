package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// LEDRequest represents a request to control an LED
type LEDRequest struct {
	Body struct {
		Type    string  `json:"type" example:"user" doc:"LED type (board-specific: user, system, blue, ...)"`
		Enabled bool    `json:"enabled" example:"true" doc:"Whether the LED should be on or off"`
		Pattern *string `json:"pattern,omitempty" example:"solid" doc:"Optional LED pattern (solid, blink, heartbeat)"`
	}
}

// LEDCapabilities lists what the board's LEDs support.
type LEDCapabilities struct {
	AvailableTypes    []string `json:"available_types" doc:"List of available LED types on this board"`
	AvailablePatterns []string `json:"available_patterns" doc:"List of available LED patterns on this board"`
}

// LEDCapabilitiesResponse represents the LED capabilities of the current board
type LEDCapabilitiesResponse struct {
	Body LEDCapabilities
}

// registerLEDRoutes registers LED endpoints when a controller is configured.
// The indicator LED is also driven by the LED manager, which overrides
// manual settings on the next session state change.
func (s *Server) registerLEDRoutes() {
	ctrl := s.options.LEDController
	if ctrl == nil {
		s.logger.Debug("LED controller not available, skipping LED routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "control-led",
		Method:      http.MethodPost,
		Path:        "/api/leds",
		Summary:     "Control LED",
		Description: "Control an LED's state and optional pattern. LED types and patterns are board-specific.",
		Tags:        []string{"leds"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *LEDRequest) (*struct{}, error) {
		pattern := ""
		if input.Body.Pattern != nil {
			pattern = *input.Body.Pattern
		}
		if err := ctrl.Set(input.Body.Type, input.Body.Enabled, pattern); err != nil {
			return nil, huma.Error400BadRequest("Failed to control LED", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-led-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/leds/capabilities",
		Summary:     "Get LED Capabilities",
		Description: "Get the list of available LED types and patterns for this board",
		Tags:        []string{"leds"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*LEDCapabilitiesResponse, error) {
		return &LEDCapabilitiesResponse{
			Body: LEDCapabilities{
				AvailableTypes:    ctrl.Available(),
				AvailablePatterns: ctrl.Patterns(),
			},
		}, nil
	})

	s.logger.Info("LED routes registered")
}
