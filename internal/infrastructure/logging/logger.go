package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Njogu-Ndegwa/swapstation/internal/infrastructure/config"
)

// Logger wraps slog.Logger with station-specific defaults.
//
// Every entry carries service, version and station fields so log lines from
// a fleet of kiosks can be told apart after aggregation.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to the configured output.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//   - stationID: Kiosk identifier for default field (may be empty)
func New(cfg config.LoggingConfig, version, stationID string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(output, cfg, version, stationID)
}

// NewWithWriter is New with an explicit destination, used by tests and the
// CLI when output must not interleave with command results.
func NewWithWriter(output io.Writer, cfg config.LoggingConfig, version, stationID string) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	attrs := []slog.Attr{
		slog.String("service", "swapstation"),
		slog.String("version", version),
	}
	if stationID != "" {
		attrs = append(attrs, slog.String("station", stationID))
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs(attrs)),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component returns a child logger tagged with a component name.
//
//	brokerLog := logger.Component("broker")
//	brokerLog.Info("call settled") // Includes component=broker
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev", "")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
