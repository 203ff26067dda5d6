package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/codes"
)

func TestNoopLoggerDiscardsAllLevelsWithoutPanicking(t *testing.T) {
	logger := NewNoopLogger()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		logger.Debug(ctx, "debug", "k", "v")
		logger.Info(ctx, "info")
		logger.Warn(ctx, "warn", "k", 1)
		logger.Error(ctx, "error", "err", "boom")
	})
}

func TestNoopMetricsDiscardsWithoutPanicking(t *testing.T) {
	metrics := NewNoopMetrics()
	assert.NotPanics(t, func() {
		metrics.IncCounter("runs", 1, "status", "ok")
		metrics.RecordTimer("duration", 0)
		metrics.RecordGauge("queue_depth", 3)
	})
}

func TestNoopTracerProducesUsableSpan(t *testing.T) {
	tracer := NewNoopTracer()
	ctx, span := tracer.Start(context.Background(), "step")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	assert.NotPanics(t, func() {
		span.AddEvent("tool_called")
		span.SetStatus(codes.Ok, "done")
		span.RecordError(nil)
		span.End()
	})

	same := tracer.Span(ctx)
	assert.NotNil(t, same)
}
