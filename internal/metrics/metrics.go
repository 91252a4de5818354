// Package metrics records pipeline counters through OpenTelemetry.
package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/theburgerllc/nycayen-telemetry"

// Recorder records pipeline metrics.
// Use New for OTel metrics or NoopRecorder{} when disabled.
type Recorder interface {
	// EventTracked counts an event accepted into the pipeline.
	EventTracked(ctx context.Context, name string)

	// EventRejected counts an event dropped by validation.
	EventRejected(ctx context.Context, name, reason string)

	// BatchDelivered counts a successful flush and the events it carried.
	BatchDelivered(ctx context.Context, size int)

	// DeliveryFailed counts a failed flush attempt.
	DeliveryFailed(ctx context.Context, size int)

	// ProviderFailed counts a provider error or panic.
	ProviderFailed(ctx context.Context, provider string)

	// WebVital records a classified performance metric.
	WebVital(ctx context.Context, metricName, rating string, value float64)

	// CollectorIngested counts events persisted by the reference collector.
	CollectorIngested(ctx context.Context, accepted, duplicates int)
}

type otelRecorder struct {
	tracked        metric.Int64Counter
	rejected       metric.Int64Counter
	batches        metric.Int64Counter
	failures       metric.Int64Counter
	delivered      metric.Int64Counter
	providerErrors metric.Int64Counter
	vitals         metric.Float64Histogram
	collected      metric.Int64Counter
}

// New returns a Recorder backed by provider. A nil provider uses the
// global meter provider. If an instrument cannot be created, a no-op
// recorder is returned.
func New(provider metric.MeterProvider) Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	r, err := newOtelRecorder(provider.Meter(meterName))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", "error", err)
		return NoopRecorder{}
	}
	return r
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	r := &otelRecorder{}
	var err error

	if r.tracked, err = meter.Int64Counter("telemetry.events.tracked",
		metric.WithDescription("Events accepted into the pipeline"),
	); err != nil {
		return nil, err
	}
	if r.rejected, err = meter.Int64Counter("telemetry.events.rejected",
		metric.WithDescription("Events dropped by schema validation"),
	); err != nil {
		return nil, err
	}
	if r.batches, err = meter.Int64Counter("telemetry.delivery.batches",
		metric.WithDescription("Batches delivered to the collector"),
	); err != nil {
		return nil, err
	}
	if r.failures, err = meter.Int64Counter("telemetry.delivery.failures",
		metric.WithDescription("Failed delivery attempts"),
	); err != nil {
		return nil, err
	}
	if r.delivered, err = meter.Int64Counter("telemetry.delivery.events",
		metric.WithDescription("Events delivered to the collector"),
	); err != nil {
		return nil, err
	}
	if r.providerErrors, err = meter.Int64Counter("telemetry.provider.failures",
		metric.WithDescription("Provider report failures"),
	); err != nil {
		return nil, err
	}
	if r.vitals, err = meter.Float64Histogram("telemetry.web_vital.value",
		metric.WithDescription("Observed web vital values"),
	); err != nil {
		return nil, err
	}
	if r.collected, err = meter.Int64Counter("telemetry.collector.events",
		metric.WithDescription("Events received by the collector"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *otelRecorder) EventTracked(ctx context.Context, name string) {
	r.tracked.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name)))
}

func (r *otelRecorder) EventRejected(ctx context.Context, name, reason string) {
	r.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", name),
		attribute.String("reason", reason),
	))
}

func (r *otelRecorder) BatchDelivered(ctx context.Context, size int) {
	r.batches.Add(ctx, 1)
	r.delivered.Add(ctx, int64(size))
}

func (r *otelRecorder) DeliveryFailed(ctx context.Context, size int) {
	r.failures.Add(ctx, 1, metric.WithAttributes(attribute.Int("batch_size", size)))
}

func (r *otelRecorder) ProviderFailed(ctx context.Context, provider string) {
	r.providerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (r *otelRecorder) WebVital(ctx context.Context, metricName, rating string, value float64) {
	r.vitals.Record(ctx, value, metric.WithAttributes(
		attribute.String("metric", metricName),
		attribute.String("rating", rating),
	))
}

func (r *otelRecorder) CollectorIngested(ctx context.Context, accepted, duplicates int) {
	if accepted > 0 {
		r.collected.Add(ctx, int64(accepted), metric.WithAttributes(attribute.Bool("duplicate", false)))
	}
	if duplicates > 0 {
		r.collected.Add(ctx, int64(duplicates), metric.WithAttributes(attribute.Bool("duplicate", true)))
	}
}
