package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/logging"
)

// LogEventFromEntry converts a buffered log entry to its event form.
func LogEventFromEntry(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

type logsResponse struct {
	Body struct {
		Entries []events.LogEntryEvent `json:"entries" doc:"Buffered log entries, oldest first"`
	}
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Return buffered log entries, optionally only those after a sequence number",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *models.LogsRequest) (*logsResponse, error) {
		resp := &logsResponse{}
		resp.Body.Entries = []events.LogEntryEvent{}
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadSince(input.Since) {
				resp.Body.Entries = append(resp.Body.Entries, LogEventFromEntry(entry))
			}
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Effective log level of every module logger",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*models.LogLevelsResponse, error) {
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying history; seq drops the overlap.
		feed := events.NewFeed(100)
		events.Follow[events.LogEntryEvent](feed, s.eventBus)
		defer feed.Close()

		var last uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if err := send.Data(LogEventFromEntry(entry)); err != nil {
					return
				}
				last = entry.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-feed.C():
				e, ok := ev.(events.LogEntryEvent)
				if !ok || e.Seq <= last {
					continue
				}
				last = e.Seq
				if err := send.Data(e); err != nil {
					return
				}
			}
		}
	})
}
