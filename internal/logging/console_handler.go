package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one line per record:
//
//	2026-01-02T15:04:05Z INFO component[avatar]: message key=value ...
//
// The component and avatar id attributes become the line prefix instead of
// key=value pairs. Attributes added with With are rendered once.
type consoleHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	source bool

	component string
	avatarID  string
	groups    []string
	rendered  string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	var b strings.Builder
	b.WriteString(h.rendered)
	for _, attr := range attrs {
		next.appendAttr(&b, h.groups, attr)
	}
	next.rendered = b.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	line := *h
	var attrs strings.Builder
	record.Attrs(func(attr slog.Attr) bool {
		line.appendAttr(&attrs, h.groups, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var b strings.Builder
	b.Grow(96 + len(h.rendered) + attrs.Len())
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelLabel(record.Level))
	b.WriteByte(' ')
	switch {
	case line.component != "" && line.avatarID != "":
		fmt.Fprintf(&b, "%s[%s]: ", line.component, line.avatarID)
	case line.component != "":
		b.WriteString(line.component + ": ")
	case line.avatarID != "":
		b.WriteString(line.avatarID + ": ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.source {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	b.WriteString(h.rendered)
	b.WriteString(attrs.String())
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

// appendAttr renders attr as " key=value", flattening groups into dotted
// keys. Top level component and avatar id attributes are captured for the
// prefix; the first one seen wins.
func (h *consoleHandler) appendAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		inner := groups
		if attr.Key != "" {
			inner = append(groups[:len(groups):len(groups)], attr.Key)
		}
		for _, a := range attr.Value.Group() {
			h.appendAttr(b, inner, a)
		}
		return
	}
	if len(groups) == 0 {
		switch attr.Key {
		case FieldComponent:
			if h.component == "" {
				h.component = plainValue(attr.Value)
			}
			return
		case FieldAvatarID:
			if h.avatarID == "" {
				h.avatarID = plainValue(attr.Value)
			}
			return
		}
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(append(groups[:len(groups):len(groups)], key), ".")
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(plainValue(attr.Value)))
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
