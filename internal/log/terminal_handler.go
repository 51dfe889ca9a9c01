package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// TerminalHandler formats log records as coloured terminal output.
//
// Output format:
//
//	15:04:05.000 INF job started job_id=abc123
type TerminalHandler struct {
	writer io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

func newTerminalHandler(w io.Writer, opts *slog.HandlerOptions) *TerminalHandler {
	var level slog.Leveler
	if opts != nil && opts.Level != nil {
		level = opts.Level
	} else {
		level = slog.LevelInfo
	}
	return &TerminalHandler{
		writer: w,
		level:  level,
		mu:     &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats a log record as coloured terminal output and writes it.
func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.Grow(256)

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ansiDim)
	buf.WriteString(ts.Format("15:04:05.000"))
	buf.WriteString(ansiReset)
	buf.WriteByte(' ')

	color, label := levelStyle(r.Level)
	buf.WriteString(color)
	buf.WriteString(label)
	buf.WriteString(ansiReset)
	buf.WriteByte(' ')

	buf.WriteString(ansiBold)
	buf.WriteString(r.Message)
	buf.WriteString(ansiReset)

	for _, a := range h.attrs {
		appendAttr(&buf, a, h.groups)
	}

	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, a, h.groups)
		return true
	})

	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// WithAttrs returns a handler whose records include the given attributes.
func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TerminalHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  merged,
		groups: h.groups,
		mu:     h.mu,
	}
}

// WithGroup returns a handler that qualifies attribute keys with name.
func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &TerminalHandler{
		writer: h.writer,
		level:  h.level,
		attrs:  h.attrs,
		groups: groups,
		mu:     h.mu,
	}
}

func levelStyle(level slog.Level) (color, label string) {
	switch {
	case level >= slog.LevelError:
		return ansiRed, "ERR"
	case level >= slog.LevelWarn:
		return ansiYellow, "WRN"
	case level >= slog.LevelInfo:
		return ansiGreen, "INF"
	default:
		return ansiCyan, "DBG"
	}
}

func appendAttr(buf *bytes.Buffer, a slog.Attr, groups []string) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(append([]string{}, groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(buf, ga, nested)
		}
		return
	}

	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	buf.WriteByte(' ')
	buf.WriteString(ansiDim)
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(ansiReset)
	buf.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	s := v.String()
	if strings.ContainsAny(s, " \t\n\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
