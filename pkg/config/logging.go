package config

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process-wide slog logger from the [logging]
// section. With a file configured the sink rotates via lumberjack;
// otherwise lines go to stderr.
func (l *LoggingConfig) NewLogger() *slog.Logger {
	var out io.Writer = os.Stderr
	if l.File != "" {
		out = &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    orDefault(l.MaxSizeMB, 50),
			MaxBackups: orDefault(l.MaxBackups, 3),
			MaxAge:     orDefault(l.MaxAgeDays, 14),
		}
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: l.Level()})
	return slog.New(h)
}

// Level maps the configured log_level string to a slog level.
func (l *LoggingConfig) Level() slog.Level {
	switch l.LogLevel {
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

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
