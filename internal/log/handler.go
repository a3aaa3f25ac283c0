package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TimeFormat is ISO-8601 with millisecond precision in UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LineHandler renders each record as a single line:
//
//	[2024-05-01T10:00:00.000Z] message key=value ...
//
// Levels other than INFO are written before the message.
type LineHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	prefix string // pre-rendered attrs from WithAttrs
	group  string
}

// NewLineHandler creates a LineHandler writing to w.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteByte('[')
	buf.WriteString(ts.UTC().Format(TimeFormat))
	buf.WriteString("] ")
	if r.Level != slog.LevelInfo {
		buf.WriteString(r.Level.String())
		buf.WriteByte(' ')
	}
	buf.WriteString(singleLine(r.Message))
	buf.WriteString(h.prefix)

	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, h.group, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var buf bytes.Buffer
	buf.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&buf, h.group, a)
	}
	clone := *h
	clone.prefix = buf.String()
	return &clone
}

func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.group + name + "."
	return &clone
}

func appendAttr(buf *bytes.Buffer, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := group
		if a.Key != "" {
			sub = group + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, sub, ga)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(group)
	buf.WriteString(a.Key)
	buf.WriteByte('=')

	var s string
	switch a.Value.Kind() {
	case slog.KindTime:
		s = a.Value.Time().UTC().Format(TimeFormat)
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(a.Value.Any())
		}
	default:
		s = a.Value.String()
	}
	buf.WriteString(quoteIfNeeded(s))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// singleLine keeps one record per line in the log file.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}
