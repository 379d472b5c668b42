package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
)

// Logger is a slog.Logger carrying the service and version fields.
//
// Its Info/Warn/Error/Debug methods satisfy the small Logger interfaces the
// other packages declare, so one value is handed to all of them.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New returns a logger for the plain "gridctl" service, for code that
// does not run as one named process.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewService(cfg, "gridctl", version)
}

// NewService returns a logger named after one supervised process
// ("gridctl-bank", "gridctl-robot"), writing to cfg.Output.
//
// cfg.Level selects the minimum level (unknown values mean info) and
// cfg.Format picks JSON or text. Every entry carries the service and
// version fields, so the supervisor can interleave child output and still
// tell the processes apart.
func NewService(cfg config.LoggingConfig, service, version string) *Logger {
	return NewWriter(outputFor(cfg.Output), cfg, service, version)
}

// NewWriter is NewService with an explicit destination, such as a buffer
// in tests. At debug level each entry also records its source file and
// line.
func NewWriter(w io.Writer, cfg config.LoggingConfig, service, version string) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", service, "version", version)}
}

// outputFor maps the output setting to a writer; anything unknown is stdout.
func outputFor(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger with extra attributes, e.g.
//
//	log.With("component", "driver", "device", "bank")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
