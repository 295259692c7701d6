package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// Identifier tags every journal entry.
const Identifier = "camcore"

// fieldPrefix namespaces attribute fields so they cannot collide with
// journald's own fields. A session logger's attrs land as CAMCORE_SESSION,
// CAMCORE_INPUT and so on, which makes `journalctl CAMCORE_SESSION=<id>` work.
const fieldPrefix = "CAMCORE_"

const maxFieldName = 64

// JournalHandler writes records to the systemd journal with each attribute
// as its own field.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	send   func(msg string, pri journal.Priority, fields map[string]string) error
}

// NewJournalHandler returns a handler that sends records at or above level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level, send: journal.Send}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	pri := priority(r.Level)
	if err := h.send(r.Message, pri, h.fields(r)); err != nil {
		return fmt.Errorf("journal send: %w", err)
	}
	return nil
}

func (h *JournalHandler) fields(r slog.Record) map[string]string {
	fields := map[string]string{"SYSLOG_IDENTIFIER": Identifier}
	for _, a := range h.attrs {
		putField(fields, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		putField(fields, h.groups, a)
		return true
	})
	return fields
}

// WithAttrs implements slog.Handler. Attrs are bound to the groups open at
// the time of the call.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, nestIn(h.groups, a))
	}
	return &h2
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// nestIn wraps a in the given groups so later WithGroup calls leave it alone.
func nestIn(groups []string, a slog.Attr) slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		a = slog.Group(groups[i], a)
	}
	return a
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level > slog.LevelError:
		return journal.PriCrit
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func putField(fields map[string]string, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if a.Key != "" {
			inner = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			putField(fields, inner, ga)
		}
		return
	}
	fields[fieldName(groups, a.Key)] = fieldValue(a.Value)
}

// fieldName builds a journal field name from the group path and key. Journal
// names allow only A-Z, 0-9 and underscore; anything else becomes an
// underscore.
func fieldName(groups []string, key string) string {
	var b strings.Builder
	b.WriteString(fieldPrefix)
	for _, part := range append(append([]string(nil), groups...), key) {
		if b.Len() > len(fieldPrefix) {
			b.WriteByte('_')
		}
		for _, c := range strings.ToUpper(part) {
			if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
				b.WriteRune(c)
			} else {
				b.WriteByte('_')
			}
		}
	}
	name := b.String()
	if len(name) > maxFieldName {
		name = name[:maxFieldName]
	}
	return name
}

func fieldValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return v.String()
	}
}

// IsJournalAvailable reports whether the systemd journal socket is reachable.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
