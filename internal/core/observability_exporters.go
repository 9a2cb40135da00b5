package core

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"docrepo/pkg/domain"
)

var expvarSeq atomic.Uint64

// OpStats aggregates every observation of one operation key.
type OpStats struct {
	Count   int64   `json:"count"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// Succeeded is Count minus Errors.
func (s OpStats) Succeeded() int64 { return s.Count - s.Errors }

// MeanMS is the average duration, zero before the first observation.
func (s OpStats) MeanMS() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalMS / float64(s.Count)
}

// MetricsSnapshot is a point-in-time copy of an ExpvarMetricsRecorder. Ops is
// keyed by "table.operation", or by the bare operation when no table was in
// scope.
type MetricsSnapshot struct {
	Ops   map[string]OpStats `json:"ops"`
	Taken time.Time          `json:"taken"`
}

// ExpvarMetricsRecorder keeps per-operation stats in memory and publishes
// them as one expvar variable.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OpStats
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name is
// replaced by a generated docrepo_metrics_<n>.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("docrepo_metrics_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OpStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot implements expvar.Func.
func (r *ExpvarMetricsRecorder) Snapshot() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MetricsSnapshot{Ops: maps.Clone(r.ops), Taken: time.Now().UTC()}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	key := operation
	if table, ok := TableFromContext(ctx); ok {
		key = table + "." + operation
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ops[key]
	st.Count++
	if !success {
		st.Errors++
	}
	st.TotalMS += ms
	st.MaxMS = max(st.MaxMS, ms)
	r.ops[key] = st
}

// PrometheusMetricsRecorder feeds a duration histogram labelled by
// operation, table and status.
type PrometheusMetricsRecorder struct {
	hist *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers docrepo_operation_duration_seconds
// with reg (the default registerer when nil). Registering twice reuses the
// existing collector.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docrepo_operation_duration_seconds",
		Help:    "Duration of document repository operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "table", "status"})
	err := reg.Register(hist)
	if err == nil {
		return &PrometheusMetricsRecorder{hist: hist}, nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
	if !ok {
		return nil, fmt.Errorf("register metrics: conflicting collector %T", already.ExistingCollector)
	}
	return &PrometheusMetricsRecorder{hist: existing}, nil
}

// Collector exposes the underlying histogram.
func (r *PrometheusMetricsRecorder) Collector() prometheus.Collector { return r.hist }

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	table, _ := TableFromContext(ctx)
	r.hist.WithLabelValues(operation, table, statusLabel(success)).Observe(duration.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// ErrorKind buckets err by the domain error category it unwraps to. Nil
// yields "" and anything outside the categories is "store".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrTransient):
		return "transient"
	case errors.Is(err, domain.ErrMissing):
		return "missing"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "store"
}

// Span is one finished trace span as JSONTracer writes it.
type Span struct {
	Operation string        `json:"op"`
	Table     string        `json:"table,omitempty"`
	Start     time.Time     `json:"start"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// OK reports whether the span ended without error.
func (s Span) OK() bool { return s.ErrorKind == "" }

// JSONTracer writes each finished span as one JSON line and keeps it for
// Spans.
type JSONTracer struct {
	mu    sync.Mutex
	spans []Span
	out   *json.Encoder
}

// NewJSONTracer returns a tracer writing to w. A nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.out = json.NewEncoder(w)
	}
	return t
}

// Spans returns the finished spans in completion order.
func (t *JSONTracer) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Span(nil), t.spans...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	span := &openSpan{tracer: t}
	span.Operation = operation
	span.Table, _ = TableFromContext(ctx)
	span.Start = time.Now().UTC()
	return ctx, span
}

func (t *JSONTracer) finish(s Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, s)
	if t.out != nil {
		_ = t.out.Encode(s)
	}
}

// openSpan records only its first End.
type openSpan struct {
	Span
	tracer *JSONTracer
	ended  atomic.Bool
}

func (s *openSpan) End(err error) {
	if s.ended.Swap(true) {
		return
	}
	done := s.Span
	done.Elapsed = time.Since(s.Start)
	if err != nil {
		done.ErrorKind = ErrorKind(err)
		done.Error = err.Error()
	}
	s.tracer.finish(done)
}
