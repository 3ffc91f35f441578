package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability owns the OpenTelemetry meter provider. Instruments are
// exported through the default prometheus registry, next to the promauto
// collectors in internal/common/metrics.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	tracer        trace.Tracer

	callCounter  otelmetric.Int64Counter
	callDuration otelmetric.Float64Histogram
}

// New installs a prometheus-backed meter provider. If the exporter cannot be
// built the returned value records into a no-op meter.
func New(serviceName string) *Observability {
	o := &Observability{tracer: otel.Tracer(serviceName)}

	exporter, err := prometheus.New()
	if err != nil {
		o.meter = noop.NewMeterProvider().Meter(serviceName)
	} else {
		o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
		otel.SetMeterProvider(o.meterProvider)
		o.meter = o.meterProvider.Meter(serviceName)
	}

	o.callCounter, _ = o.meter.Int64Counter(
		"decision_service.calls",
		otelmetric.WithDescription("Number of Decision Service calls"),
	)
	o.callDuration, _ = o.meter.Float64Histogram(
		"decision_service.call.duration",
		otelmetric.WithDescription("Decision Service call duration"),
		otelmetric.WithUnit("ms"),
	)
	return o
}

// NewNoop returns an Observability that records nothing. Used by tests and by
// hosts that do not serve /metrics.
func NewNoop() *Observability {
	meter := noop.NewMeterProvider().Meter("noop")
	counter, _ := meter.Int64Counter("noop")
	hist, _ := meter.Float64Histogram("noop")
	return &Observability{
		meter:        meter,
		tracer:       otel.Tracer("noop"),
		callCounter:  counter,
		callDuration: hist,
	}
}

// StartSpan opens a span on the configured tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordCall records one Decision Service call.
func (o *Observability) RecordCall(ctx context.Context, endpoint, result string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	)
	if o.callCounter != nil {
		o.callCounter.Add(ctx, 1, attrs)
	}
	if o.callDuration != nil {
		o.callDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
