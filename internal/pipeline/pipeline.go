// Package pipeline wires the identity store, schema registry, attribution
// tracker, assignment engine, performance observer, provider fan-out and
// delivery worker into one explicitly constructed instance.
//
// No public method returns an error to the host or panics into it:
// rejected events and internal failures are reported on the Diagnostics
// channel and in the logs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	"github.com/theburgerllc/nycayen-telemetry/internal/attribution"
	"github.com/theburgerllc/nycayen-telemetry/internal/delivery"
	"github.com/theburgerllc/nycayen-telemetry/internal/events"
	"github.com/theburgerllc/nycayen-telemetry/internal/experiment"
	"github.com/theburgerllc/nycayen-telemetry/internal/identity"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
	"github.com/theburgerllc/nycayen-telemetry/internal/providers"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema/builtin"
	"github.com/theburgerllc/nycayen-telemetry/internal/vitals"
)

const diagnosticsBuffer = 128

// Config holds the recognised pipeline options.
type Config struct {
	BatchSize             int
	FlushInterval         time.Duration
	AttributionWindowDays int
	MaxTouchpoints        int
	SiteHost              string
}

// Deps are the collaborators the pipeline is built from. Only Durable is
// required in practice; nil fields get in-memory or no-op defaults.
type Deps struct {
	Registry *schema.Registry
	Durable  kv.Store
	Session  kv.Store
	Sender   delivery.Sender
	FanOut   *providers.FanOut
	Recorder metrics.Recorder
	Now      func() time.Time
}

// Page is the page context stamped on events.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type DiagnosticKind string

const (
	DiagnosticValidation DiagnosticKind = "validation"
	DiagnosticProvider   DiagnosticKind = "provider"
	DiagnosticInternal   DiagnosticKind = "internal"
)

// Diagnostic reports an event the pipeline dropped or a failure it absorbed.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Event   string         `json:"event,omitempty"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
	Err     error          `json:"-"`
}

type Stats struct {
	Tracked             int64          `json:"tracked"`
	Rejected            int64          `json:"rejected"`
	DiagnosticsDropped  int64          `json:"diagnostics_dropped"`
	Delivery            delivery.Stats `json:"delivery"`
	IdentityDegraded    bool           `json:"identity_degraded"`
	AttributionDegraded bool           `json:"attribution_degraded"`
}

type Pipeline struct {
	registry *schema.Registry
	identity *identity.Store
	tracker  *attribution.Tracker
	engine   *experiment.Engine
	observer *vitals.Observer
	worker   *delivery.Worker
	fanout   *providers.FanOut
	recorder metrics.Recorder
	now      func() time.Time

	pageMu sync.RWMutex
	page   Page

	diagnostics chan Diagnostic
	tracked     atomic.Int64
	rejected    atomic.Int64
	diagDropped atomic.Int64
}

// New builds the pipeline. Identity and persisted state are loaded once
// here; storage failures degrade the affected component to memory.
func New(ctx context.Context, cfg Config, deps Deps) *Pipeline {
	if deps.Registry == nil {
		reg, err := builtin.NewRegistry()
		if err != nil {
			slog.Error("Built-in schemas failed to load, every event will be rejected", "error", err)
			reg = schema.NewRegistry()
		}
		deps.Registry = reg
	}
	if deps.Session == nil {
		deps.Session = kv.NewMemoryStore()
	}
	if deps.FanOut == nil {
		deps.FanOut = providers.NewFanOut()
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	p := &Pipeline{
		registry:    deps.Registry,
		fanout:      deps.FanOut,
		recorder:    deps.Recorder,
		now:         deps.Now,
		diagnostics: make(chan Diagnostic, diagnosticsBuffer),
	}

	p.identity = identity.LoadOrCreate(ctx, deps.Durable, deps.Session)
	p.tracker = attribution.NewTracker(ctx, deps.Durable, attribution.Options{
		WindowDays:     cfg.AttributionWindowDays,
		MaxTouchpoints: cfg.MaxTouchpoints,
		SiteHost:       cfg.SiteHost,
		Now:            deps.Now,
	})
	p.engine = experiment.NewEngine(ctx, deps.Durable, p.identity.VisitorID(), experiment.Options{
		Emit: func(ctx context.Context, a events.ABTestAssignment) { p.TrackPayload(ctx, a) },
		Now:  deps.Now,
	})
	p.observer = vitals.NewObserver(func(ctx context.Context, v events.WebVital) {
		p.TrackPayload(ctx, v)
	}, deps.Recorder)
	p.worker = delivery.NewWorker(deps.Sender, deps.Durable, delivery.Options{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Recorder:      deps.Recorder,
	})

	slog.Info("Pipeline initialized",
		"visitor_id", p.identity.VisitorID(),
		"session_id", p.identity.SessionID(),
		"schemas", len(p.registry.Names()),
		"providers", p.fanout.Len(),
	)
	return p
}

// Start reconciles the delivery queue and starts the worker.
func (p *Pipeline) Start(ctx context.Context) {
	p.worker.Start(ctx)
}

// Track validates, enriches and enqueues an event. It reports whether the
// event was accepted; rejections go to Diagnostics.
func (p *Pipeline) Track(ctx context.Context, name string, props map[string]interface{}) (accepted bool) {
	defer p.guard("track", name, &accepted)

	validated, err := p.registry.Validate(name, props)
	if err != nil {
		p.rejected.Add(1)
		p.recorder.EventRejected(ctx, name, "validation")
		p.report(Diagnostic{Kind: DiagnosticValidation, Event: name, Message: "event rejected by schema", Err: err})
		return false
	}

	if p.registry.WantsAttribution(name) {
		p.attachTouches(validated)
	}

	page := p.Page()
	id := p.identity.Identity()
	ev := v1.NewEvent(name, validated, v1.Context{
		VisitorID: id.VisitorID,
		SessionID: id.SessionID,
		PageURL:   page.URL,
		PageTitle: page.Title,
	}, p.now())

	// Undeclared properties are not type checked, so a NaN or a channel can
	// still reach this point. Such an event could never be mirrored or sent.
	if _, err := json.Marshal(ev); err != nil {
		p.rejected.Add(1)
		p.recorder.EventRejected(ctx, name, "unencodable")
		p.report(Diagnostic{Kind: DiagnosticValidation, Event: name, Message: "event properties cannot be encoded as JSON", Err: err})
		return false
	}

	if failed := p.fanout.Report(ctx, name, providerProperties(ev)); failed > 0 {
		p.report(Diagnostic{
			Kind:    DiagnosticProvider,
			Event:   name,
			Message: fmt.Sprintf("%d provider(s) failed", failed),
		})
	}

	if !p.worker.Enqueue(ev) {
		p.report(Diagnostic{Kind: DiagnosticInternal, Event: name, Message: "pipeline closed"})
		return false
	}
	p.tracked.Add(1)
	p.recorder.EventTracked(ctx, name)
	return true
}

// TrackPayload tracks a typed payload.
func (p *Pipeline) TrackPayload(ctx context.Context, payload events.Payload) bool {
	if payload == nil {
		return false
	}
	return p.Track(ctx, payload.EventName(), payload.Properties())
}

// Variant returns the visitor's variant for testName.
func (p *Pipeline) Variant(ctx context.Context, testName string, variants []string, weights []float64) (variant string) {
	defer func() {
		if r := recover(); r != nil {
			p.report(Diagnostic{Kind: DiagnosticInternal, Message: fmt.Sprintf("variant panicked: %v", r)})
			variant = ""
		}
	}()
	return p.engine.Variant(ctx, testName, variants, weights)
}

// Touchpoints returns touchpoints within windowDays, oldest first. A
// non-positive windowDays uses the configured attribution window.
func (p *Pipeline) Touchpoints(windowDays int) []attribution.Touchpoint {
	return p.tracker.Touchpoints(windowDays)
}

// AttributionWindowDays is the configured attribution window.
func (p *Pipeline) AttributionWindowDays() int { return p.tracker.WindowDays() }

// CaptureEntryTouchpoint records a touchpoint for a top-level navigation
// and emits touchpoint_captured. Internal navigations record nothing.
func (p *Pipeline) CaptureEntryTouchpoint(ctx context.Context, sig attribution.Signals) (attribution.Touchpoint, bool) {
	tp, ok := p.tracker.CaptureEntryTouchpoint(ctx, sig)
	if !ok {
		return tp, false
	}
	p.TrackPayload(ctx, events.TouchpointCaptured{
		Source:   tp.Source,
		Medium:   tp.Medium,
		Campaign: tp.Campaign,
		Content:  tp.Content,
		Term:     tp.Term,
		Page:     tp.Page,
		Referrer: tp.Referrer,
	})
	return tp, true
}

// Navigation describes a top-level page load.
type Navigation struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Navigate updates the page context, captures the entry touchpoint and
// tracks a page_view.
func (p *Pipeline) Navigate(ctx context.Context, nav Navigation) (attribution.Touchpoint, bool) {
	p.SetPage(Page{URL: nav.URL, Title: nav.Title})
	tp, ok := p.CaptureEntryTouchpoint(ctx, attribution.Signals{URL: nav.URL, Referrer: nav.Referrer})
	p.TrackPayload(ctx, events.PageView{
		Path:     pathOf(nav.URL),
		Title:    nav.Title,
		Referrer: nav.Referrer,
	})
	return tp, ok
}

func (p *Pipeline) SetPage(page Page) {
	p.pageMu.Lock()
	defer p.pageMu.Unlock()
	p.page = page
}

func (p *Pipeline) Page() Page {
	p.pageMu.RLock()
	defer p.pageMu.RUnlock()
	return p.page
}

// Observer exposes the performance observer for callbacks and sources.
func (p *Pipeline) Observer() *vitals.Observer { return p.observer }

func (p *Pipeline) Identity() identity.Identity { return p.identity.Identity() }

// Assignments returns the cached variant decisions.
func (p *Pipeline) Assignments() map[string]experiment.Assignment {
	return p.engine.Assignments()
}

// Flush delivers everything tracked so far.
func (p *Pipeline) Flush(ctx context.Context) error {
	return p.worker.Flush(ctx)
}

// PageHide makes the final best-effort flush before the host goes away.
func (p *Pipeline) PageHide(ctx context.Context) error {
	return p.worker.PageHide(ctx)
}

// Pending returns how many events wait behind any in-flight batch.
func (p *Pipeline) Pending(ctx context.Context) int {
	return p.worker.Pending(ctx)
}

// Diagnostics is the side channel for dropped events and absorbed
// failures. Reports are dropped when nobody drains it.
func (p *Pipeline) Diagnostics() <-chan Diagnostic {
	return p.diagnostics
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Tracked:             p.tracked.Load(),
		Rejected:            p.rejected.Load(),
		DiagnosticsDropped:  p.diagDropped.Load(),
		Delivery:            p.worker.Stats(),
		IdentityDegraded:    p.identity.Degraded(),
		AttributionDegraded: p.tracker.Degraded(),
	}
}

// Close stops the worker after a final flush, then stops providers.
func (p *Pipeline) Close(ctx context.Context) error {
	werr := p.worker.Close(ctx)
	if perr := p.fanout.Close(); perr != nil {
		slog.Warn("Failed to close providers", "error", perr)
	}
	return werr
}

func (p *Pipeline) attachTouches(props map[string]interface{}) {
	window := p.tracker.WindowDays()
	if first, ok := p.tracker.FirstTouch(window); ok {
		props["first_touch"] = touchProperties(first)
	}
	if last, ok := p.tracker.LastTouch(window); ok {
		props["last_touch"] = touchProperties(last)
	}
}

func (p *Pipeline) report(d Diagnostic) {
	if d.At.IsZero() {
		d.At = p.now()
	}
	slog.Warn("Telemetry diagnostic",
		"kind", d.Kind,
		"event", d.Event,
		"message", d.Message,
		"error", d.Err,
	)
	select {
	case p.diagnostics <- d:
	default:
		p.diagDropped.Add(1)
	}
}

// guard converts a panic inside a public entry point into a diagnostic.
func (p *Pipeline) guard(op, event string, accepted *bool) {
	if r := recover(); r != nil {
		*accepted = false
		p.report(Diagnostic{
			Kind:    DiagnosticInternal,
			Event:   event,
			Message: fmt.Sprintf("%s panicked: %v", op, r),
		})
	}
}
