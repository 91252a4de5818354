package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same id was already collected.
var ErrDuplicate = errors.New("event already exists")

// StoredEvent is a collected event together with its server-side bookkeeping.
type StoredEvent struct {
	v1.Event

	// IngestSeq is the collector's monotonic insertion order.
	IngestSeq  int64     `json:"ingest_seq"`
	ReceivedAt time.Time `json:"received_at"`
}

// EventStore persists events accepted by the collector.
type EventStore interface {
	// SaveEvent stores event, returning ErrDuplicate when its id is already known.
	// Redelivered batches rely on this to turn at-least-once delivery into
	// idempotent ingestion.
	SaveEvent(ctx context.Context, event *v1.Event, receivedAt time.Time) error

	// RetrieveEventsAfterCursor fetches events after a cursor (ingest_seq) in strict total order.
	// cursor=0 means "from the beginning"
	RetrieveEventsAfterCursor(ctx context.Context, cursor int64, limit int) ([]StoredEvent, error)
}
