package telemetry

import (
	"context"
	"sync"
	"testing"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is an in-memory Telemetry for tests.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	Reader       *sdkmetric.ManualReader
	Logs         *LogRecorder
}

// LogRecorder is an sdk/log exporter that keeps records in memory.
type LogRecorder struct {
	mu      sync.Mutex
	records []sdklog.Record
}

// Export implements sdklog.Exporter.
func (r *LogRecorder) Export(_ context.Context, records []sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.records = append(r.records, rec.Clone())
	}
	return nil
}

// Shutdown implements sdklog.Exporter.
func (r *LogRecorder) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdklog.Exporter.
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Bodies returns the body of every exported record in order.
func (r *LogRecorder) Bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	bodies := make([]string, len(r.records))
	for i, rec := range r.records {
		bodies[i] = rec.Body().AsString()
	}
	return bodies
}

// Records returns a copy of the exported records.
func (r *LogRecorder) Records() []sdklog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdklog.Record(nil), r.records...)
}

// NewTestTelemetry creates telemetry backed by a span recorder, a manual
// reader and a log recorder. Logs are exported synchronously.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	logs := &LogRecorder{}

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			logProvider:    sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(logs))),
		},
		SpanRecorder: recorder,
		Reader:       reader,
		Logs:         logs,
	}
}

// SpanNames returns the names of ended spans in order.
func (t *TestTelemetry) SpanNames() []string {
	ended := t.SpanRecorder.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Collect gathers current metrics from the manual reader.
func (t *TestTelemetry) Collect(tb testing.TB) metricdata.ResourceMetrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.Reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	return rm
}

// Sum totals every data point of the named int64 counter.
func Sum(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
