package metrics

import "context"

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) EventTracked(context.Context, string)              {}
func (NoopRecorder) EventRejected(context.Context, string, string)     {}
func (NoopRecorder) BatchDelivered(context.Context, int)               {}
func (NoopRecorder) DeliveryFailed(context.Context, int)               {}
func (NoopRecorder) ProviderFailed(context.Context, string)            {}
func (NoopRecorder) WebVital(context.Context, string, string, float64) {}
func (NoopRecorder) CollectorIngested(context.Context, int, int)       {}
