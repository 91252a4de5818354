// Package providers fans tracked events out to external analytics
// integrations. Every provider is isolated: an error or panic in one
// never reaches the others or the delivery worker.
package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
)

// Provider is the "report event" contract. Report must not block.
type Provider interface {
	Name() string
	Report(eventName string, props map[string]interface{}) error
}

type entry struct {
	provider Provider
	allow    map[string]bool // nil means every event
}

// FanOut reports each event to every configured provider.
type FanOut struct {
	entries  []entry
	recorder metrics.Recorder
}

// Option configures a FanOut.
type Option func(*FanOut)

// WithRecorder counts provider failures.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *FanOut) {
		if r != nil {
			f.recorder = r
		}
	}
}

// NewFanOut creates an empty fan-out.
func NewFanOut(opts ...Option) *FanOut {
	f := &FanOut{recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add registers p. When events is non-empty, p only receives those names.
func (f *FanOut) Add(p Provider, events ...string) {
	e := entry{provider: p}
	if len(events) > 0 {
		e.allow = make(map[string]bool, len(events))
		for _, name := range events {
			e.allow[name] = true
		}
	}
	f.entries = append(f.entries, e)
}

// Len returns the number of registered providers.
func (f *FanOut) Len() int { return len(f.entries) }

// Report calls every provider that accepts eventName with its own copy of
// props. It returns how many providers failed.
func (f *FanOut) Report(ctx context.Context, eventName string, props map[string]interface{}) int {
	failed := 0
	for _, e := range f.entries {
		if e.allow != nil && !e.allow[eventName] {
			continue
		}
		if err := safeReport(e.provider, eventName, schema.Clone(props)); err != nil {
			failed++
			f.recorder.ProviderFailed(ctx, e.provider.Name())
			slog.Warn("Provider failed to report event",
				"provider", e.provider.Name(),
				"event", eventName,
				"error", err,
			)
		}
	}
	return failed
}

// Close stops providers that hold background resources.
func (f *FanOut) Close() error {
	var firstErr error
	for _, e := range f.entries {
		c, ok := e.provider.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %s: %w", e.provider.Name(), err)
		}
	}
	return firstErr
}

func safeReport(p Provider, eventName string, props map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Report(eventName, props)
}
