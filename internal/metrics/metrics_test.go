package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupRecorder(t *testing.T) (Recorder, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return New(provider), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNew_ReturnsOtelRecorder(t *testing.T) {
	r, _ := setupRecorder(t)
	_, isNoop := r.(NoopRecorder)
	assert.False(t, isNoop)
}

func TestRecorder_Counters(t *testing.T) {
	ctx := context.Background()
	r, reader := setupRecorder(t)

	r.EventTracked(ctx, "page_view")
	r.EventTracked(ctx, "cta_click")
	r.EventRejected(ctx, "booking_started", "validation")
	r.BatchDelivered(ctx, 10)
	r.BatchDelivered(ctx, 3)
	r.DeliveryFailed(ctx, 10)
	r.ProviderFailed(ctx, "webhook")
	r.CollectorIngested(ctx, 4, 1)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "telemetry.events.tracked")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "telemetry.events.rejected")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "telemetry.delivery.batches")))
	assert.Equal(t, int64(13), sumOf(t, findMetric(rm, "telemetry.delivery.events")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "telemetry.delivery.failures")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "telemetry.provider.failures")))
	assert.Equal(t, int64(5), sumOf(t, findMetric(rm, "telemetry.collector.events")))
}

func TestRecorder_WebVital(t *testing.T) {
	r, reader := setupRecorder(t)
	r.WebVital(context.Background(), "LCP", "good", 1800)

	m := findMetric(collectMetrics(t, reader), "telemetry.web_vital.value")
	require.NotNil(t, m)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, 1800.0, hist.DataPoints[0].Sum)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		r.EventTracked(ctx, "x")
		r.EventRejected(ctx, "x", "y")
		r.BatchDelivered(ctx, 1)
		r.DeliveryFailed(ctx, 1)
		r.ProviderFailed(ctx, "x")
		r.WebVital(ctx, "LCP", "good", 1)
		r.CollectorIngested(ctx, 1, 1)
	})
}
