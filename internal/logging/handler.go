package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// SanitizingHandler wraps another handler and sanitizes log attributes.
type SanitizingHandler struct {
	handler   slog.Handler
	sanitizer *Sanitizer
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(handler slog.Handler, sanitizer *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{
		handler:   handler,
		sanitizer: sanitizer,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle sanitizes the record and passes it to the underlying handler.
func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	// Sanitize the message
	sanitizedMsg := h.sanitizer.Sanitize(r.Message)

	// Create a new record with sanitized values
	newRecord := slog.NewRecord(r.Time, r.Level, sanitizedMsg, r.PC)

	// Sanitize attributes
	r.Attrs(func(a slog.Attr) bool {
		newRecord.AddAttrs(h.sanitizeAttr(a))
		return true
	})

	return h.handler.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with sanitized attrs.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitizedAttrs := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		sanitizedAttrs[i] = h.sanitizeAttr(attr)
	}
	return &SanitizingHandler{
		handler:   h.handler.WithAttrs(sanitizedAttrs),
		sanitizer: h.sanitizer,
	}
}

// WithGroup returns a new handler with a group.
func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{
		handler:   h.handler.WithGroup(name),
		sanitizer: h.sanitizer,
	}
}

func (h *SanitizingHandler) sanitizeAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue(h.sanitizer.Sanitize(a.Value.String())),
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		sanitized := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			sanitized[i] = h.sanitizeAttr(attr)
		}
		return slog.Attr{
			Key:   a.Key,
			Value: slog.GroupValue(sanitized...),
		}
	case slog.KindAny:
		if args, ok := a.Value.Any().([]string); ok {
			return slog.Any(a.Key, h.sanitizer.SanitizeEnv(args))
		}
		return a
	default:
		return a
	}
}

// PrettyHandler renders records for a terminal:
//
//	15:04:05 INF [eventtrace] #1a2b3c4d collector ready pid=12
//
// Diagnoser and tool attributes become the bracketed prefix and the case id
// is shortened to its first eight characters.
type PrettyHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	styles  prettyStyles
	batches []groupedAttrs
	groups  []string
}

// groupedAttrs holds attrs added through WithAttrs with the groups that were
// open at that point.
type groupedAttrs struct {
	groups []string
	attrs  []slog.Attr
}

type prettyStyles struct {
	levels map[slog.Level]lipgloss.Style
	time   lipgloss.Style
	prefix lipgloss.Style
	key    lipgloss.Style
}

func newPrettyStyles(r *lipgloss.Renderer) prettyStyles {
	return prettyStyles{
		levels: map[slog.Level]lipgloss.Style{
			slog.LevelDebug: r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
			slog.LevelInfo:  r.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
			slog.LevelWarn:  r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
			slog.LevelError: r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		},
		time:   r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		prefix: r.NewStyle().Foreground(lipgloss.Color("#7C3AED")),
		key:    r.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
	}
}

// NewPrettyHandler creates a new pretty handler. Colors follow the
// capabilities of w.
func NewPrettyHandler(w io.Writer, level slog.Level) *PrettyHandler {
	return &PrettyHandler{
		mu:     &sync.Mutex{},
		w:      w,
		level:  level,
		styles: newPrettyStyles(lipgloss.NewRenderer(w)),
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var prefix, caseID string
	var rest strings.Builder
	add := func(groups []string, a slog.Attr) {
		if len(groups) == 0 {
			switch a.Key {
			case KeyDiagnoser, KeyTool:
				prefix += "[" + a.Value.String() + "]"
				return
			case KeyCase:
				caseID = shortID(a.Value.String())
				return
			}
		}
		h.writeAttr(&rest, groups, a)
	}
	for _, batch := range h.batches {
		for _, attr := range batch.attrs {
			add(batch.groups, attr)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		add(h.groups, a)
		return true
	})

	var line strings.Builder
	line.WriteString(h.styles.time.Render(r.Time.Format("15:04:05")))
	line.WriteByte(' ')
	line.WriteString(h.levelLabel(r.Level))
	line.WriteByte(' ')
	if prefix != "" {
		line.WriteString(h.styles.prefix.Render(prefix))
		line.WriteByte(' ')
	}
	if caseID != "" {
		line.WriteString("#" + caseID + " ")
	}
	line.WriteString(r.Message)
	line.WriteString(rest.String())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line.String())
	return err
}

// WithAttrs returns a new handler with attrs.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.batches = append(append([]groupedAttrs(nil), h.batches...), groupedAttrs{
		groups: h.groups,
		attrs:  append([]slog.Attr(nil), attrs...),
	})
	return &clone
}

// WithGroup returns a new handler with a group.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *PrettyHandler) levelLabel(level slog.Level) string {
	var label string
	switch {
	case level < slog.LevelInfo:
		label = "DBG"
	case level < slog.LevelWarn:
		label = "INF"
	case level < slog.LevelError:
		label = "WRN"
	default:
		label = "ERR"
	}
	style, ok := h.styles.levels[level]
	if !ok {
		return label
	}
	return style.Render(label)
}

func (h *PrettyHandler) writeAttr(b *strings.Builder, groups []string, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		inner := append(append([]string(nil), groups...), a.Key)
		for _, attr := range a.Value.Group() {
			h.writeAttr(b, inner, attr)
		}
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	fmt.Fprintf(b, " %s=%v", h.styles.key.Render(key), a.Value.Any())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
