// Package vitals classifies page performance measurements and forwards
// them to registered callbacks and the event bus as web_vital events.
package vitals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/theburgerllc/nycayen-telemetry/internal/events"
	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
)

type Name string

const (
	LCP  Name = "LCP"
	FCP  Name = "FCP"
	INP  Name = "INP"
	FID  Name = "FID"
	CLS  Name = "CLS"
	TTFB Name = "TTFB"
)

// All lists every metric the observer subscribes to.
var All = []Name{LCP, FCP, INP, FID, CLS, TTFB}

type Rating string

const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needs-improvement"
	Poor             Rating = "poor"
)

var (
	// ErrUnsupported is returned by a Source that cannot observe a metric.
	ErrUnsupported = errors.New("metric not supported by source")

	ErrUnknownMetric = errors.New("unknown metric")
	ErrInvalidValue  = errors.New("invalid metric value")
)

// threshold bounds are inclusive: value <= good is Good, value <= poor is
// NeedsImprovement.
type threshold struct {
	good float64
	poor float64
}

var thresholds = map[Name]threshold{
	LCP:  {good: 2500, poor: 4000},
	FCP:  {good: 1800, poor: 3000},
	INP:  {good: 200, poor: 500},
	FID:  {good: 100, poor: 300},
	CLS:  {good: 0.1, poor: 0.25},
	TTFB: {good: 800, poor: 1800},
}

// ParseName accepts metric names case-insensitively.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := thresholds[n]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
	return n, nil
}

// Classify rates value against the fixed thresholds for name.
func Classify(name Name, value float64) (Rating, error) {
	t, ok := thresholds[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	switch {
	case value <= t.good:
		return Good, nil
	case value <= t.poor:
		return NeedsImprovement, nil
	default:
		return Poor, nil
	}
}

// Measurement is a raw value reported by a source.
type Measurement struct {
	Name           Name    `json:"name"`
	Value          float64 `json:"value"`
	ID             string  `json:"id,omitempty"`
	Delta          float64 `json:"delta,omitempty"`
	NavigationType string  `json:"navigation_type,omitempty"`
}

// Metric is a classified measurement.
type Metric struct {
	Measurement
	Rating Rating `json:"rating"`
}

// Payload converts the metric into its web_vital event.
func (m Metric) Payload() events.WebVital {
	return events.WebVital{
		Metric:         string(m.Name),
		Value:          m.Value,
		Rating:         string(m.Rating),
		ID:             m.ID,
		Delta:          m.Delta,
		NavigationType: m.NavigationType,
	}
}

// Source delivers measurements for one metric to handler. It returns
// ErrUnsupported when the runtime cannot observe the metric.
type Source interface {
	Observe(name Name, handler func(Measurement)) error
}

// SinkFunc receives every classified metric as a web_vital payload.
type SinkFunc func(ctx context.Context, p events.WebVital)

// Observer is purely observational: failures are logged, never returned
// to the code that reports measurements.
type Observer struct {
	sink     SinkFunc
	recorder metrics.Recorder

	mu        sync.RWMutex
	callbacks []func(Metric)
}

// NewObserver creates an observer that forwards to sink. sink and
// recorder may be nil.
func NewObserver(sink SinkFunc, recorder metrics.Recorder) *Observer {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Observer{sink: sink, recorder: recorder}
}

// OnMetric registers cb for every classified metric.
func (o *Observer) OnMetric(cb func(Metric)) {
	if cb == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = append(o.callbacks, cb)
}

// Subscribe attaches the observer to src for the given metrics (All when
// none are named). Unsupported metrics are logged and skipped. It returns
// how many subscriptions succeeded.
func (o *Observer) Subscribe(src Source, names ...Name) int {
	if len(names) == 0 {
		names = All
	}
	subscribed := 0
	for _, name := range names {
		if err := o.subscribe(src, name); err != nil {
			if errors.Is(err, ErrUnsupported) {
				slog.Info("Web vital not supported by source, skipping", "metric", name)
			} else {
				slog.Warn("Failed to subscribe to web vital", "metric", name, "error", err)
			}
			continue
		}
		subscribed++
	}
	return subscribed
}

func (o *Observer) subscribe(src Source, name Name) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscribe %s panicked: %v", name, r)
		}
	}()
	return src.Observe(name, func(m Measurement) {
		if m.Name == "" {
			m.Name = name
		}
		o.Record(context.Background(), m)
	})
}

// Record classifies m and forwards it. ok is false when m was rejected.
func (o *Observer) Record(ctx context.Context, m Measurement) (Metric, bool) {
	rating, err := Classify(m.Name, m.Value)
	if err != nil {
		slog.Warn("Dropping web vital", "metric", m.Name, "value", m.Value, "error", err)
		return Metric{}, false
	}
	metric := Metric{Measurement: m, Rating: rating}

	o.recorder.WebVital(ctx, string(m.Name), string(rating), m.Value)

	o.mu.RLock()
	callbacks := make([]func(Metric), len(o.callbacks))
	copy(callbacks, o.callbacks)
	o.mu.RUnlock()

	for _, cb := range callbacks {
		invoke(cb, metric)
	}
	if o.sink != nil {
		o.sink(ctx, metric.Payload())
	}
	return metric, true
}

func invoke(cb func(Metric), m Metric) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Web vital callback panicked", "metric", m.Name, "panic", r)
		}
	}()
	cb(m)
}
