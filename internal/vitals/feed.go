package vitals

import (
	"fmt"
	"sync"
)

// Feed is a Source fed by pushed reports, such as beacons posted by a
// browser. Metrics outside its supported set return ErrUnsupported.
type Feed struct {
	supported map[Name]bool

	mu       sync.RWMutex
	handlers map[Name][]func(Measurement)
}

// NewFeed supports the named metrics, or All when none are named.
func NewFeed(names ...Name) *Feed {
	if len(names) == 0 {
		names = All
	}
	f := &Feed{
		supported: make(map[Name]bool, len(names)),
		handlers:  make(map[Name][]func(Measurement)),
	}
	for _, n := range names {
		f.supported[n] = true
	}
	return f
}

func (f *Feed) Observe(name Name, handler func(Measurement)) error {
	if !f.supported[name] {
		return fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], handler)
	return nil
}

// Push dispatches m to the handlers observing m.Name. It returns false
// when nothing observes that metric.
func (f *Feed) Push(m Measurement) bool {
	f.mu.RLock()
	handlers := f.handlers[m.Name]
	f.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
	return len(handlers) > 0
}
