package providers

import (
	"sync"
	"time"
)

// DefaultDataLayerSize bounds the in-memory data layer.
const DefaultDataLayerSize = 500

// DataLayerEntry mirrors a tag-manager dataLayer push.
type DataLayerEntry struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties"`
	PushedAt   time.Time              `json:"pushed_at"`
}

// DataLayer is an append-only tag-manager data layer. When full, the
// oldest entries are discarded.
type DataLayer struct {
	name  string
	limit int
	now   func() time.Time

	mu      sync.RWMutex
	entries []DataLayerEntry
}

func NewDataLayer(name string, limit int) *DataLayer {
	if limit <= 0 {
		limit = DefaultDataLayerSize
	}
	return &DataLayer{name: name, limit: limit, now: time.Now}
}

func (d *DataLayer) Name() string { return d.name }

func (d *DataLayer) Report(eventName string, props map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = append(d.entries, DataLayerEntry{
		Event:      eventName,
		Properties: props,
		PushedAt:   d.now(),
	})
	if over := len(d.entries) - d.limit; over > 0 {
		d.entries = append(d.entries[:0:0], d.entries[over:]...)
	}
	return nil
}

// Entries returns a snapshot of the data layer, oldest first.
func (d *DataLayer) Entries() []DataLayerEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]DataLayerEntry, len(d.entries))
	copy(out, d.entries)
	return out
}
