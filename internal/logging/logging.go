package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file.
	FilePath string
	// MaxSizeMB is the size in MB at which the file rotates (0 = DefaultMaxSizeMB).
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept (0 = DefaultMaxFiles).
	MaxFiles int
	// WriteToStderr mirrors the log stream to stderr.
	WriteToStderr bool
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: DefaultMaxSizeMB,
		MaxFiles:  DefaultMaxFiles,
	}
}

// DebugConfig returns configuration for debug mode.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.WriteToStderr = true
	return cfg
}

// Setup initializes file-based logging.
// Returns the configured logger and a cleanup function that closes the file.
// Rotation failures are reported on stderr, since the file itself may be
// the problem.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		cfg.FilePath = DefaultLogPath()
	}

	stderr := Fallback(cfg.Level)
	writer, err := OpenRotating(cfg.FilePath, RotateOptions{
		MaxBytes: int64(cfg.MaxSizeMB) << 20,
		Keep:     cfg.MaxFiles,
		OnError: func(err error) {
			stderr.Warn("log_rotation_failed",
				slog.String("path", cfg.FilePath),
				slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	cleanup := func() { _ = writer.Close() }
	return slog.New(handler), cleanup, nil
}

// Fallback returns a stderr logger for when the log file cannot be opened.
func Fallback(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: max(parseLevel(level), slog.LevelWarn),
	}))
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
