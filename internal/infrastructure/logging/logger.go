package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "dobiss-bridge"

// Logger is a slog.Logger carrying the service and version fields. Its
// level can be changed while running; children made with With share it.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New writes to stdout, or stderr when cfg.Output says so.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter writes to w and ignores cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	base := slog.New(h).With("service", ServiceName, "version", version)
	return &Logger{Logger: base, level: level}
}

// Default is used until the configuration is loaded: JSON on stdout at
// info level.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info"}, "dev", os.Stdout)
}

// parseLevel falls back to info for anything it does not recognise.
func parseLevel(s string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(s)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// SetLevel changes the minimum level of this logger and every logger
// derived from it.
func (l *Logger) SetLevel(name string) error {
	lvl, ok := levelNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	l.level.Set(lvl)
	return nil
}

// Level returns the current minimum level, e.g. "INFO".
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// With returns a child logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component tags entries with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
