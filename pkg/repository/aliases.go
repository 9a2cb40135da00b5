package repository

import (
	"docrepo/internal/core"
)

// Facade over the internal configuration and observability types so callers
// outside the module can wire an Engine.
type (
	Config                    = core.Config
	StorageConfig             = core.StorageConfig
	LogConfig                 = core.LogConfig
	StorageDriver             = core.StorageDriver
	MetricsRecorder           = core.MetricsRecorder
	Tracer                    = core.Tracer
	TraceSpan                 = core.TraceSpan
	ExpvarMetricsRecorder     = core.ExpvarMetricsRecorder
	PrometheusMetricsRecorder = core.PrometheusMetricsRecorder
	JSONTracer                = core.JSONTracer
	Span                      = core.Span
	MetricsSnapshot           = core.MetricsSnapshot
	OpStats                   = core.OpStats
)

const (
	StorageMemory   = core.StorageMemory
	StorageSQLite   = core.StorageSQLite
	StoragePostgres = core.StoragePostgres
	StorageMySQL    = core.StorageMySQL
	StorageBolt     = core.StorageBolt
)

var (
	// LoadConfig reads a YAML config file and applies DOCREPO_* overrides.
	LoadConfig = core.LoadConfig
	// OpenStore opens the DocumentStore a StorageConfig selects.
	OpenStore = core.OpenDocumentStore
	// NewLogger builds the slog logger a LogConfig describes.
	NewLogger = core.NewLogger
	// NewExpvarMetricsRecorder publishes a recorder via expvar.
	NewExpvarMetricsRecorder = core.NewExpvarMetricsRecorder
	// NewPrometheusMetricsRecorder registers the operation histogram.
	NewPrometheusMetricsRecorder = core.NewPrometheusMetricsRecorder
	// NewJSONTracer writes spans as JSON lines.
	NewJSONTracer = core.NewJSONTracer
	// ErrorKind classifies an error by its domain category.
	ErrorKind = core.ErrorKind
)
