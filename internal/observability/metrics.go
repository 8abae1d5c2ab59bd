package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonathan/reel-forge/internal/stage"
)

// MetricsSink records stage transitions as OpenTelemetry instruments.
type MetricsSink struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	retries     metric.Int64Counter
}

// NewMetricsSink registers the instruments on meter.
func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	transitions, err := meter.Int64Counter("reel.stage.transitions",
		metric.WithDescription("Stage status transitions"))
	if err != nil {
		return nil, fmt.Errorf("create transitions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("reel.stage.duration",
		metric.WithDescription("Wall time of finished stages"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	retries, err := meter.Int64Counter("reel.stage.retries",
		metric.WithDescription("Attempts beyond the first"))
	if err != nil {
		return nil, fmt.Errorf("create retries counter: %w", err)
	}
	return &MetricsSink{transitions: transitions, duration: duration, retries: retries}, nil
}

// Emit implements Sink.
func (m *MetricsSink) Emit(ctx context.Context, e Event) {
	attrs := metric.WithAttributes(
		attribute.String("stage", e.StageID),
		attribute.String("status", string(e.Status)),
		attribute.String("error_kind", string(e.ErrorKind)),
	)
	m.transitions.Add(ctx, 1, attrs)

	if e.Status == stage.StatusRunning && e.Attempt > 1 {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", e.StageID)))
	}
	if e.Status.Terminal() && !e.Restored {
		m.duration.Record(ctx, float64(e.DurationMs), metric.WithAttributes(
			attribute.String("stage", e.StageID),
			attribute.String("status", string(e.Status)),
		))
	}
}
