package logging

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{} // default level
	isInitialized   bool
	mutex           sync.RWMutex
	logBuffer       *RingBuffer
	logCallback     LogCallback

	// output is the handler chain every module logger forwards to.
	output atomic.Pointer[outputChain]
)

type outputChain struct {
	handler slog.Handler
}

func init() {
	output.Store(&outputChain{handler: createHandler("text")})
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the logging system. Loggers obtained earlier keep
// working and pick up the new outputs and levels.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	isInitialized = true

	// Create ring buffer for log history
	logBuffer = NewRingBuffer(defaultBufferSize)

	output.Store(&outputChain{handler: createHandler(config.Format)})
	applyLevelsLocked(config)

	slog.SetDefault(slog.New(&moduleHandler{level: globalLevelVar}))
}

// SetLevels applies the global and per-module levels of config without
// touching outputs. Used when the config file changes at runtime.
func SetLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()
	config.Format = globalConfig.Format
	applyLevelsLocked(config)
}

func applyLevelsLocked(config Config) {
	globalConfig = config

	globalLevel := slog.LevelInfo
	if parsed := parseLevel(config.Level); parsed != nil {
		globalLevel = *parsed
	}
	globalLevelVar.Set(globalLevel)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevelLocked(module, globalLevel))
	}
}

func moduleLevelLocked(module string, fallback slog.Level) slog.Level {
	if levelStr, exists := globalConfig.Modules[module]; exists {
		if parsed := parseLevel(levelStr); parsed != nil {
			return *parsed
		}
	}
	return fallback
}

// Levels returns the effective level of every module logger created so far.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()
	out := make(map[string]string, len(moduleLevelVars))
	for module, levelVar := range moduleLevelVars {
		out[module] = levelToString(levelVar.Level())
	}
	return out
}

// ConfiguredModules returns a copy of the per-module overrides in effect.
func ConfiguredModules() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()
	return maps.Clone(globalConfig.Modules)
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback sets a callback to be called for each new log entry.
// Used for publishing log events to SSE clients.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// Double-check in case another goroutine created it
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar, exists := moduleLevelVars[module]
	if !exists {
		levelVar = &slog.LevelVar{}
		moduleLevelVars[module] = levelVar
	}
	if isInitialized {
		levelVar.Set(moduleLevelLocked(module, globalLevelVar.Level()))
	} else {
		levelVar.Set(slog.LevelInfo)
	}

	logger := slog.New(&moduleHandler{level: levelVar}).With("module", module)
	moduleLoggers[module] = logger
	return logger
}

// moduleHandler filters records by its module's level and forwards the rest
// to the current output chain, replaying WithAttrs and WithGroup calls.
type moduleHandler struct {
	level slog.Leveler
	ops   []func(slog.Handler) slog.Handler
}

func (h *moduleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *moduleHandler) Handle(ctx context.Context, r slog.Record) error {
	out := output.Load().handler
	for _, op := range h.ops {
		out = op(out)
	}
	return out.Handle(ctx, r)
}

func (h *moduleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *moduleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *moduleHandler) with(op func(slog.Handler) slog.Handler) *moduleHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops)+1)
	copy(ops, h.ops)
	ops[len(h.ops)] = op
	return &moduleHandler{level: h.level, ops: ops}
}

// createHandler builds the output chain: stdout, the journal when
// available, and the ring buffer. Level filtering happens in moduleHandler.
func createHandler(format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(slog.LevelDebug))
	}

	// Always add buffer handler - it dynamically checks if buffer is available
	handlers = append(handlers, NewBufferHandler(slog.LevelDebug))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewFanout(handlers...)
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// Available if terminal, pipe, socket, or regular file (not /dev/null which is ModeDevice)
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		l := slog.LevelDebug
		return &l
	case "info":
		l := slog.LevelInfo
		return &l
	case "warn", "warning":
		l := slog.LevelWarn
		return &l
	case "error":
		l := slog.LevelError
		return &l
	default:
		return nil
	}
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	return parseLevel(level) != nil
}
