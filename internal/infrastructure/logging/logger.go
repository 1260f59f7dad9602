package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hearthlight/hearth-core/internal/infrastructure/config"
)

// serviceName tags every log line so Hearth output can be told apart
// from co-located services on a shared collector.
const serviceName = "hearth"

// Logger is the engine-wide structured logger. It embeds *slog.Logger;
// subsystems consume it behind their own package-local Logger
// interfaces, so anything with Debug/Info/Warn/Error satisfies them.
//
// Thread Safety: all methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml.
// Unrecognised values fall back to JSON on stdout at info level.
func New(cfg config.LoggingConfig, version string) *Logger {
	return &Logger{Logger: slog.New(newHandler(cfg, version, writerFor(cfg.Output)))}
}

// Default returns the bootstrap logger used before configuration is
// loaded: JSON on stdout at info level, version "dev".
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Component returns a child logger tagged with a subsystem name.
// Derive these once at wiring time:
//
//	schedLog := log.Component("schedule")
//	schedLog.Info("started") // includes component=schedule
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// With returns a child logger carrying additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// newHandler builds the slog handler: format and level from config,
// service and version stamped on every record.
func newHandler(cfg config.LoggingConfig, version string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

// writerFor maps the configured output name to a destination.
// Anything other than "stderr" means stdout.
func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps a configured level string onto slog. Unknown levels
// mean info.
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
