package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Fanout sends each record to every sink enabled for its level. A failing
// sink does not stop the others; their errors are joined.
type Fanout struct {
	sinks []slog.Handler
}

// NewFanout returns a handler over the non-nil sinks.
func NewFanout(sinks ...slog.Handler) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Enabled implements slog.Handler.
func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range f.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range f.sinks {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (f *Fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (f *Fanout) derive(op func(slog.Handler) slog.Handler) *Fanout {
	sinks := make([]slog.Handler, len(f.sinks))
	for i, s := range f.sinks {
		sinks[i] = op(s)
	}
	return &Fanout{sinks: sinks}
}
