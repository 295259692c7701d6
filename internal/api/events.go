package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camcore/internal/engine"
	"github.com/smazurov/camcore/internal/events"
)

// StreamGap tells a lagging SSE client how many events it missed.
type StreamGap struct {
	Dropped uint64 `json:"dropped" example:"3" doc:"Events discarded because the client fell behind"`
}

// registerSSERoutes registers the engine event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session state, path error, input signal, frame drop and field events. " +
			"The first message is an engine statistics snapshot. A gap message precedes the next event after any were dropped.",
		Tags:     []string{"events"},
		Security: withAuth(),
		Errors:   []int{401},
	}, map[string]any{
		"stats":                 engine.Stats{},
		"session-state-changed": events.SessionStateChangedEvent{},
		"path-error":            events.PathErrorEvent{},
		"input-signal":          events.InputSignalEvent{},
		"frame-dropped":         events.FrameDroppedEvent{},
		"field-degraded":        events.FieldDegradedEvent{},
		"gap":                   StreamGap{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		feed := events.NewFeed(64)
		events.Follow[events.SessionStateChangedEvent](feed, s.eventBus)
		events.Follow[events.PathErrorEvent](feed, s.eventBus)
		events.Follow[events.InputSignalEvent](feed, s.eventBus)
		events.Follow[events.FrameDroppedEvent](feed, s.eventBus)
		events.Follow[events.FieldDegradedEvent](feed, s.eventBus)
		defer feed.Close()

		if err := send.Data(s.engine.Stats()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-feed.C():
				if n := feed.Dropped(); n > 0 {
					if err := send.Data(StreamGap{Dropped: n}); err != nil {
						return
					}
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
