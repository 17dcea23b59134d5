package common

import (
	"io"
	"log/slog"
	"os"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Logger provides a centralized logging interface for apingest
type Logger struct {
	*slog.Logger
	level  LogLevel
	masker *Masker
}

// NewLogger creates a new structured text logger writing to stderr.
// Rows go to stdout, so logs stay out of the data stream.
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo creates a text logger writing to w.
func NewLoggerTo(w io.Writer, level LogLevel) *Logger {
	masker := NewMasker()
	opts := &slog.HandlerOptions{
		Level:       level.ToSlogLevel(),
		ReplaceAttr: maskingReplacer(masker),
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts)), level: level, masker: masker}
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	masker := NewMasker()
	opts := &slog.HandlerOptions{
		Level:       level.ToSlogLevel(),
		ReplaceAttr: maskingReplacer(masker),
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, opts)), level: level, masker: masker}
}

// NewColorLogger creates a logger using the colorized text handler
func NewColorLogger(level LogLevel) *Logger {
	h := NewColorHandler(os.Stderr, &slog.HandlerOptions{Level: level.ToSlogLevel()})
	return &Logger{Logger: slog.New(h), level: level, masker: h.masker}
}

// maskingReplacer returns a slog ReplaceAttr hook that consults the masker.
func maskingReplacer(m *Masker) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if !m.IsEnabled() || a.Value.Kind() != slog.KindString {
			return a
		}
		if masked, ok := m.MaskValue(a.Key, a.Value.String()).(string); ok {
			return slog.String(a.Key, masked)
		}
		return a
	}
}

// EnableMasking toggles sensitive data masking for this logger's output
func (l *Logger) EnableMasking(enabled bool) {
	if l.masker != nil {
		l.masker.SetEnabled(enabled)
	}
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, masker: l.masker}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithRun returns a logger tagged with the ingestion run id
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithPage returns a logger with pagination context
func (l *Logger) WithPage(page int) *Logger {
	return l.with("page", page)
}

// WithAttempt returns a logger with retry attempt context
func (l *Logger) WithAttempt(attempt int) *Logger {
	return l.with("attempt", attempt)
}

// WithStep returns a logger with prepare step context
func (l *Logger) WithStep(step string) *Logger {
	return l.with("step", step)
}

// WithRequest returns a logger with HTTP request context
func (l *Logger) WithRequest(method, url string) *Logger {
	return l.with("method", method, "url", url)
}

// Global default logger instance
var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns the default logger
func GetLogger() *Logger {
	return defaultLogger
}

// LogError logs an error with context through the default logger.
func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	defaultLogger.Error(msg, args...)
}
