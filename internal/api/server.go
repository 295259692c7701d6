// Package api exposes the capture engine over HTTP using huma v2.
package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/camcore/internal/api/models"
	"github.com/smazurov/camcore/internal/buffers"
	"github.com/smazurov/camcore/internal/engine"
	"github.com/smazurov/camcore/internal/events"
	"github.com/smazurov/camcore/internal/hw"
	"github.com/smazurov/camcore/internal/led"
	"github.com/smazurov/camcore/internal/logging"
	"github.com/smazurov/camcore/internal/resource"
	"github.com/smazurov/camcore/internal/session"
	"github.com/smazurov/camcore/internal/version"
)

// CaptureEngine is the engine surface the API drives. *engine.Engine
// implements it.
type CaptureEngine interface {
	Running() bool
	Stats() engine.Stats
	Inputs() []hw.InputInfo
	Paths() []resource.Slot

	Open(input hw.InputID) (session.Handle, error)
	Close(h session.Handle) error
	Reserve(h session.Handle) error
	Release(h session.Handle) error
	Start(h session.Handle) error
	Stop(h session.Handle) error
	Pause(h session.Handle) error
	Resume(h session.Handle) error
	SetBuffers(h session.Handle, bufs []buffers.ClientBuffer) error
	SetParam(h session.Handle, id session.ParamID, value any) error
	GetParam(h session.Handle, id session.ParamID) (any, error)
	GetFrame(ctx context.Context, h session.Handle, timeout time.Duration) (hw.FrameInfo, error)
	ReleaseFrame(h session.Handle, index int) error
	Session(h session.Handle) (session.Info, error)
	Sessions() []session.Info

	Suspend() error
	ResumePower() error
}

// Options configures the API server.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Engine            CaptureEngine
	EventBus          *events.Bus
	PrometheusHandler http.Handler   // Optional Prometheus metrics handler
	LEDController     led.Controller // Optional
	CORSOrigin        string         // Defaults to "*"
}

// Server is the HTTP control surface of the daemon.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	engine     CaptureEngine
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// basicAuthMiddleware creates middleware for HTTP basic authentication
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	unauthorized := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="camcore"`)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		// Skip auth for operations without security requirements
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		// Authorization header first; SSE clients may pass ?auth= instead
		encoded := ctx.Query("auth")
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				unauthorized(ctx, "Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		}
		if encoded == "" {
			unauthorized(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			unauthorized(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			unauthorized(ctx, "Invalid credentials format")
			return
		}
		if user != username || pass != password {
			unauthorized(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	if opts.CORSOrigin != "" {
		corsConfig.AllowOrigin = opts.CORSOrigin
	}
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camcore API", version.String())
	config.Info.Description = "Camera capture engine control API"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	if opts.EventBus == nil {
		opts.EventBus = events.New()
	}

	server := &Server{
		api:      api,
		mux:      mux,
		engine:   opts.Engine,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camcore API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for open connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API and engine health",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
		Errors:      []int{503},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		if !s.engine.Running() {
			return nil, huma.Error503ServiceUnavailable("Capture engine not running")
		}
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "Capture engine running",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerEngineRoutes()
	s.registerSessionRoutes()
	s.registerParamRoutes()
	s.registerFrameRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
	s.registerLEDRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}

func parseHandle(s string) (session.Handle, error) {
	h, err := session.ParseHandle(s)
	if err != nil {
		return 0, toHTTPError(err)
	}
	return h, nil
}
