package repository

import (
	"log/slog"

	"docrepo/internal/core"
	"docrepo/internal/jsondoc"
	"docrepo/pkg/domain"
)

// Option customises an Engine.
type Option func(*options)

type options struct {
	table   string
	codec   domain.Codec
	logger  *slog.Logger
	metrics core.MetricsRecorder
	tracer  core.Tracer
	config  *core.Config
}

func defaultOptions() options {
	return options{
		codec:   jsondoc.NewCodec(),
		logger:  core.DiscardLogger(),
		metrics: core.NoopMetricsRecorder{},
		tracer:  core.NoopTracer{},
	}
}

// WithTable sets the table explicitly, overriding naming and config.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithCodec replaces the default JSON codec.
func WithCodec(codec domain.Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithLogger sets the logger used for debug write logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithConfig applies the table overrides in cfg.Tables.
func WithConfig(cfg *Config) Option {
	return func(o *options) { o.config = cfg }
}
