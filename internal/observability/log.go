package observability

import (
	"context"
	"log/slog"

	"github.com/jonathan/reel-forge/internal/stage"
)

// LogSink writes events as structured log records. Failures log at warn,
// everything else at info (running at debug).
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink uses slog.Default when logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, e Event) {
	level := slog.LevelInfo
	switch {
	case e.Status == stage.StatusFailed:
		level = slog.LevelWarn
	case e.Status == stage.StatusRunning:
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		slog.String("run_id", e.RunID),
		slog.String("stage", e.StageID),
		slog.String("status", string(e.Status)),
		slog.Int("attempt", e.Attempt),
		slog.Int64("duration_ms", e.DurationMs),
	}
	if e.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", string(e.ErrorKind)))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	if e.Restored {
		attrs = append(attrs, slog.Bool("restored", true))
	}
	if e.Degraded {
		attrs = append(attrs, slog.Bool("degraded", true))
	}
	s.logger.LogAttrs(ctx, level, "stage transition", attrs...)
}
