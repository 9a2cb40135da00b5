package core

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per repository operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer opens a span per repository operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed exactly once with the operation's outcome.
type TraceSpan interface {
	End(err error)
}

// NoopMetricsRecorder discards observations.
type NoopMetricsRecorder struct{}

// Observe implements MetricsRecorder.
func (NoopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// NoopTracer produces spans that do nothing.
type NoopTracer struct{}

// Start implements Tracer.
func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type tableKey struct{}

// WithTable annotates ctx with the table an operation targets so recorders
// can label it.
func WithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, tableKey{}, table)
}

// TableFromContext returns the table set by WithTable.
func TableFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	table, ok := ctx.Value(tableKey{}).(string)
	return table, ok && table != ""
}
