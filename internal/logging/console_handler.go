package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/vpnadmin/internal/brand"
)

// ConsoleHandler writes one human-readable line per record:
//
//	2025-01-02T15:04:05Z vpnadmin[1234]: [warn] health: probe failed service=xl2tpd
//
// The component attribute is promoted to the tag before the message. Groups
// are flattened into dotted keys.
type ConsoleHandler struct {
	level slog.Leveler
	out   io.Writer
	mu    *sync.Mutex

	prefix    string
	component string
	attrs     string // preformatted " key=value" pairs
	group     string
}

// NewConsoleHandler creates a ConsoleHandler writing to out.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ConsoleHandler{
		level:  level,
		out:    out,
		mu:     &sync.Mutex{},
		prefix: brand.LowerName + "[" + strconv.Itoa(os.Getpid()) + "]: ",
	}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes r.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := h.component
	var tail strings.Builder
	tail.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && h.group == "" {
			component = strings.ToLower(a.Value.String())
			return true
		}
		writeAttr(&tail, h.group, a)
		return true
	})

	var b strings.Builder
	b.Grow(64 + len(r.Message) + tail.Len())
	b.WriteString(t.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(h.prefix)
	b.WriteByte('[')
	b.WriteString(strings.ToLower(r.Level.String()))
	b.WriteString("] ")
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(r.Message)
	b.WriteString(tail.String())
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// WithAttrs returns a handler with attrs preformatted.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		if a.Key == "component" && h.group == "" {
			next.component = strings.ToLower(a.Value.String())
			continue
		}
		writeAttr(&b, h.group, a)
	}
	next.attrs = b.String()
	return &next
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
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
			writeAttr(b, sub, ga)
		}
		return
	}

	b.WriteByte(' ')
	b.WriteString(group)
	b.WriteString(a.Key)
	b.WriteByte('=')
	val := a.Value.String()
	if val == "" || strings.ContainsAny(val, " \t\n\"=") {
		val = fmt.Sprintf("%q", val)
	}
	b.WriteString(val)
}
