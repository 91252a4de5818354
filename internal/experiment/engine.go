// Package experiment assigns visitors to A/B test variants
// deterministically and without a server round trip.
package experiment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/theburgerllc/nycayen-telemetry/internal/events"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
)

// KeyAssignments is the storage key owned by the engine.
const KeyAssignments = "experiment.assignments"

// Assignment is a cached variant decision.
type Assignment struct {
	TestName   string `json:"test_name"`
	Variant    string `json:"variant"`
	AssignedAt int64  `json:"assigned_at"` // epoch ms
}

// EmitFunc receives an ab_test_assignment payload for every new decision.
type EmitFunc func(ctx context.Context, p events.ABTestAssignment)

type Options struct {
	Emit EmitFunc
	Now  func() time.Time
}

// Engine caches assignments per visitor. The hash stays the source of
// truth: losing the cache reproduces the same decisions.
type Engine struct {
	visitorID string
	store     kv.Store
	emit      EmitFunc
	now       func() time.Time

	mu          sync.Mutex
	assignments map[string]Assignment
	degraded    bool
}

// NewEngine loads cached assignments for visitorID from store.
func NewEngine(ctx context.Context, store kv.Store, visitorID string, opts Options) *Engine {
	e := &Engine{
		visitorID:   visitorID,
		store:       store,
		emit:        opts.Emit,
		now:         opts.Now,
		assignments: make(map[string]Assignment),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if store == nil {
		e.degraded = true
		return e
	}

	var loaded map[string]Assignment
	err := kv.GetJSON(ctx, store, KeyAssignments, &loaded)
	switch {
	case err == nil:
		for k, a := range loaded {
			e.assignments[k] = a
		}
	case errors.Is(err, kv.ErrNotFound):
	default:
		slog.Warn("Failed to load variant assignments, recomputing on demand", "error", err)
		e.degraded = errors.Is(err, kv.ErrUnavailable)
	}
	return e
}

// Variant returns the visitor's variant for testName. A cached decision is
// returned unchanged even if variants has since changed. New decisions are
// persisted and emitted. An empty variants list yields "".
func (e *Engine) Variant(ctx context.Context, testName string, variants []string, weights []float64) string {
	key := Key(testName, e.visitorID)

	e.mu.Lock()
	if cached, ok := e.assignments[key]; ok {
		e.mu.Unlock()
		return cached.Variant
	}

	if len(variants) == 0 {
		e.mu.Unlock()
		slog.Warn("Variant requested with no candidates", "test", testName)
		return ""
	}

	variant := pick(Bucket(key), variants, weights)
	e.assignments[key] = Assignment{
		TestName:   testName,
		Variant:    variant,
		AssignedAt: e.now().UnixMilli(),
	}
	e.persistLocked(ctx)
	e.mu.Unlock()

	if e.emit != nil {
		e.emit(ctx, events.ABTestAssignment{
			TestName:      testName,
			Variant:       variant,
			AssignmentKey: key,
		})
	}
	return variant
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil || e.degraded {
		return
	}
	if err := kv.SetJSON(ctx, e.store, KeyAssignments, e.assignments); err != nil {
		slog.Warn("Failed to persist variant assignments, continuing in-memory", "error", err)
		e.degraded = true
	}
}

// Assignments returns a copy of the cached decisions keyed by
// "testName:visitorId".
func (e *Engine) Assignments() map[string]Assignment {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]Assignment, len(e.assignments))
	for k, a := range e.assignments {
		out[k] = a
	}
	return out
}

// Degraded reports whether assignments are no longer being persisted.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}
