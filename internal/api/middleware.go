package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/logging"
)

// HTTPLoggingMiddleware logs HTTP requests with a level chosen by status code.
// Frame polling is logged at debug level.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	method := ctx.Method()
	path := ctx.URL().Path

	logAttrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if query := ctx.URL().RawQuery; query != "" {
		logAttrs = append(logAttrs, slog.String("query", query))
	}

	next(ctx)

	status := ctx.Status()
	logAttrs = append(logAttrs,
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	level := slog.LevelInfo
	switch {
	case method == http.MethodOptions, strings.HasSuffix(path, "/frame"):
		level = slog.LevelDebug
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx.Context(), level, "HTTP request completed", logAttrs...)
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig returns permissive CORS config for internal tools
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin"},
		MaxAge:       86400,
	}
}

func (c CORSConfig) headers() [][2]string {
	return [][2]string{
		{"Access-Control-Allow-Origin", c.AllowOrigin},
		{"Access-Control-Allow-Methods", strings.Join(c.AllowMethods, ", ")},
		{"Access-Control-Allow-Headers", strings.Join(c.AllowHeaders, ", ")},
		{"Access-Control-Max-Age", strconv.Itoa(c.MaxAge)},
	}
}

// NewCORSMiddleware creates CORS middleware with the given configuration
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	headers := config.headers()
	return func(ctx huma.Context, next func(huma.Context)) {
		for _, h := range headers {
			ctx.SetHeader(h[0], h[1])
		}
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests, which never reach huma routes.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	headers := config.headers()
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		for _, h := range headers {
			w.Header().Set(h[0], h[1])
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
