package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Attribute keys shared by every component.
const (
	KeySession   = "session_id"
	KeyDiagnoser = "diagnoser"
	KeyCase      = "case_id"
	KeyTool      = "tool"
)

// Logger wraps slog.Logger with diagnostics scoped helpers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
// Logs go to stderr so worker and report output stay clean on stdout.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New creates a new logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level := ParseLevel(cfg.Level)
	sanitizer := NewSanitizer()
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default: // auto
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, opts)
		}
	}

	handler = NewSanitizingHandler(handler, sanitizer)

	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
	}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithSession returns a logger scoped to a session.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With(KeySession, sessionID)
}

// WithDiagnoser returns a logger scoped to a diagnoser.
func (l *Logger) WithDiagnoser(id string) *Logger {
	return l.With(KeyDiagnoser, id)
}

// WithCase returns a logger scoped to a harness-assigned case id.
func (l *Logger) WithCase(caseID string) *Logger {
	return l.With(KeyCase, caseID)
}

// WithTool returns a logger scoped to an external collector tool.
func (l *Logger) WithTool(name string) *Logger {
	return l.With(KeyTool, name)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// Slog returns the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// Sanitize sanitizes a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
