package core

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"docrepo/pkg/domain"
)

func TestTableContext(t *testing.T) {
	if _, ok := TableFromContext(context.Background()); ok {
		t.Fatalf("expected no table on bare context")
	}
	ctx := WithTable(context.Background(), "some_entity")
	if table, ok := TableFromContext(ctx); !ok || table != "some_entity" {
		t.Fatalf("unexpected table %q %v", table, ok)
	}
}

func TestNoopObservability(t *testing.T) {
	NoopMetricsRecorder{}.Observe(context.Background(), "save", true, time.Millisecond)
	ctx := context.Background()
	got, span := NoopTracer{}.Start(ctx, "save")
	if got != ctx {
		t.Fatalf("noop tracer should return the same context")
	}
	span.End(errors.New("ignored"))
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	ctx := WithTable(context.Background(), "some_entity")
	recorder.Observe(ctx, "save", true, 10*time.Millisecond)
	recorder.Observe(ctx, "save", false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "search_all", true, time.Millisecond)
	recorder.Observe(ctx, "", true, time.Millisecond)

	snapshot := recorder.Snapshot()
	save := snapshot.Ops["some_entity.save"]
	if save.Count != 2 || save.Errors != 1 || save.Succeeded() != 1 {
		t.Fatalf("unexpected save stats %+v", save)
	}
	if save.MaxMS != 10 || save.TotalMS != 15 || save.MeanMS() != 7.5 {
		t.Fatalf("unexpected save timing %+v", save)
	}
	if snapshot.Ops["search_all"].Count != 1 {
		t.Fatalf("expected untabled key, snapshot=%+v", snapshot)
	}
	if len(snapshot.Ops) != 2 {
		t.Fatalf("empty operations must be ignored, snapshot=%+v", snapshot)
	}
	if (OpStats{}).MeanMS() != 0 {
		t.Fatalf("mean of no observations must be zero")
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "some_entity.save") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	ctx := WithTable(context.Background(), "some_entity")
	recorder.Observe(ctx, "save", true, 2*time.Millisecond)
	recorder.Observe(ctx, "save", false, time.Millisecond)
	recorder.Observe(ctx, "delete", true, time.Millisecond)
	recorder.Observe(ctx, "", true, time.Millisecond)

	if n := testutil.CollectAndCount(recorder.Collector(), "docrepo_operation_duration_seconds"); n != 3 {
		t.Fatalf("expected 3 label sets, got %d", n)
	}

	again, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("re-register should reuse collector: %v", err)
	}
	if again.Collector() != recorder.Collector() {
		t.Fatalf("expected shared histogram")
	}
}

func TestPrometheusMetricsRecorderConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	other := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docrepo_operation_duration_seconds",
		Help: "Duration of document repository operations.",
	}, []string{"op", "table", "status"})
	reg.MustRegister(other)
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected conflicting collector error")
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&domain.OptimisticLockError{Table: "t"}, "conflict"},
		{fmt.Errorf("save: %w", &domain.ArgumentError{Op: "update"}), "transient"},
		{&domain.StateError{Table: "t"}, "missing"},
		{&domain.NotFoundError{Table: "t"}, "not_found"},
		{&domain.UnsupportedError{Method: "Frob"}, "unsupported"},
		{fmt.Errorf("query: %w", context.DeadlineExceeded), "canceled"},
		{errors.New("connection reset"), "store"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestJSONTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(WithTable(context.Background(), "some_entity"), "save")
	span.End(nil)
	span.End(errors.New("second end is ignored"))
	_, failed := tracer.Start(context.Background(), "delete")
	failed.End(&domain.StateError{Table: "some_entity"})

	spans := tracer.Spans()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Operation != "save" || !spans[0].OK() || spans[0].Table != "some_entity" {
		t.Fatalf("unexpected span: %+v", spans[0])
	}
	if spans[1].OK() || spans[1].ErrorKind != "missing" || spans[1].Table != "" {
		t.Fatalf("unexpected error span: %+v", spans[1])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"op":"save"`) || !strings.Contains(lines[1], `"error_kind":"missing"`) {
		t.Fatalf("unexpected JSON output: %q", buf.String())
	}
}

func TestJSONTracerWithoutWriter(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "save")
	span.End(nil)
	if len(tracer.Spans()) != 1 {
		t.Fatalf("expected retained span")
	}
}
