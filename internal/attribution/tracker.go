// Package attribution records marketing touchpoints at entry navigations
// and keeps a capped, time-windowed, ordered history per visitor.
package attribution

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
)

// KeyTouchpoints is the storage key owned by the tracker.
const KeyTouchpoints = "attribution.touchpoints"

const (
	DefaultWindowDays     = 30
	DefaultMaxTouchpoints = 10
)

// Touchpoint is one recorded marketing-channel interaction.
type Touchpoint struct {
	Source    string `json:"source"`
	Medium    string `json:"medium"`
	Campaign  string `json:"campaign"`
	Content   string `json:"content,omitempty"`
	Term      string `json:"term,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch ms
	Page      string `json:"page"`
	Referrer  string `json:"referrer"`
}

// Time returns the touchpoint timestamp.
func (t Touchpoint) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// Signals are the entry-point inputs of a top-level navigation.
type Signals struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

// Options configures a Tracker.
type Options struct {
	// WindowDays bounds retention on every write.
	WindowDays int

	// MaxTouchpoints caps the stored history to the most recent entries.
	MaxTouchpoints int

	// SiteHost identifies internal navigations. Defaults to the landing URL's host.
	SiteHost string

	// Now is swapped in tests.
	Now func() time.Time
}

func (o Options) normalized() Options {
	n := o
	if n.WindowDays <= 0 {
		n.WindowDays = DefaultWindowDays
	}
	if n.MaxTouchpoints <= 0 {
		n.MaxTouchpoints = DefaultMaxTouchpoints
	}
	if n.Now == nil {
		n.Now = time.Now
	}
	return n
}

// Tracker owns the touchpoint list. The list is always sorted by
// timestamp ascending, within the window and capped.
type Tracker struct {
	store kv.Store
	opts  Options

	mu          sync.Mutex
	touchpoints []Touchpoint
	degraded    bool
}

// NewTracker loads the persisted history from store. Storage errors
// degrade the tracker to in-memory operation.
func NewTracker(ctx context.Context, store kv.Store, opts Options) *Tracker {
	t := &Tracker{store: store, opts: opts.normalized()}

	if store == nil {
		t.degraded = true
		return t
	}

	var loaded []Touchpoint
	err := kv.GetJSON(ctx, store, KeyTouchpoints, &loaded)
	switch {
	case err == nil:
		t.touchpoints = t.prune(loaded)
	case errors.Is(err, kv.ErrNotFound):
	default:
		slog.Warn("Failed to load touchpoints, starting empty", "error", err)
		t.degraded = errors.Is(err, kv.ErrUnavailable)
	}
	return t
}

// CaptureEntryTouchpoint classifies the navigation and records the
// resulting touchpoint. It returns false for internal navigations.
func (t *Tracker) CaptureEntryTouchpoint(ctx context.Context, sig Signals) (Touchpoint, bool) {
	tp, ok := Classify(sig, t.opts.SiteHost)
	if !ok {
		return Touchpoint{}, false
	}
	tp.Timestamp = t.opts.Now().UnixMilli()
	t.Record(ctx, tp)
	return tp, true
}

// Record appends tp, prunes to the window and cap, and persists the list.
func (t *Tracker) Record(ctx context.Context, tp Touchpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Touchpoint, 0, len(t.touchpoints)+1)
	next = append(next, t.touchpoints...)
	next = append(next, tp)
	t.touchpoints = t.prune(next)

	if t.store == nil || t.degraded {
		return
	}
	if err := kv.SetJSON(ctx, t.store, KeyTouchpoints, t.touchpoints); err != nil {
		slog.Warn("Failed to persist touchpoints, continuing in-memory", "error", err)
		t.degraded = true
	}
}

// prune sorts ascending, drops entries outside the configured window and
// keeps the most recent MaxTouchpoints.
func (t *Tracker) prune(list []Touchpoint) []Touchpoint {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp < list[j].Timestamp
	})
	list = withinWindow(list, t.opts.WindowDays, t.opts.Now())
	if len(list) > t.opts.MaxTouchpoints {
		list = list[len(list)-t.opts.MaxTouchpoints:]
	}
	out := make([]Touchpoint, len(list))
	copy(out, list)
	return out
}

// withinWindow keeps entries no older than windowDays relative to now.
// list must be sorted ascending.
func withinWindow(list []Touchpoint, windowDays int, now time.Time) []Touchpoint {
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour).UnixMilli()
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp >= cutoff
	})
	return list[i:]
}

// Touchpoints returns the entries within windowDays, oldest first.
// A non-positive windowDays uses the configured window.
func (t *Tracker) Touchpoints(windowDays int) []Touchpoint {
	if windowDays <= 0 {
		windowDays = t.opts.WindowDays
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	list := withinWindow(t.touchpoints, windowDays, t.opts.Now())
	out := make([]Touchpoint, len(list))
	copy(out, list)
	return out
}

// FirstTouch returns the oldest touchpoint within windowDays.
func (t *Tracker) FirstTouch(windowDays int) (Touchpoint, bool) {
	list := t.Touchpoints(windowDays)
	if len(list) == 0 {
		return Touchpoint{}, false
	}
	return list[0], true
}

// LastTouch returns the most recent touchpoint within windowDays.
func (t *Tracker) LastTouch(windowDays int) (Touchpoint, bool) {
	list := t.Touchpoints(windowDays)
	if len(list) == 0 {
		return Touchpoint{}, false
	}
	return list[len(list)-1], true
}

// WindowDays returns the configured retention window.
func (t *Tracker) WindowDays() int { return t.opts.WindowDays }

// Degraded reports whether the history is no longer being persisted.
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}
