package v1

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the enriched, immutable unit the pipeline delivers.
// It separates the "Envelope" (pipeline attributes) from the "Letter" (Properties).
type Event struct {
	// --- Envelope ---

	// ID is a ULID assigned at construction. Collectors dedupe on it, which
	// turns at-least-once delivery into idempotent ingestion.
	ID string `json:"id"`

	// Name is the registered event name (e.g., "booking_started", "web_vital").
	// This acts as the key for the Schema Registry lookup.
	Name string `json:"name"`

	// Timestamp is when the event was tracked, in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	PageURL   string `json:"page_url,omitempty"`
	PageTitle string `json:"page_title,omitempty"`

	// --- Letter ---

	// Properties is the validated, schema-conforming payload.
	Properties map[string]interface{} `json:"properties"`
}

// Context is the identity and page context stamped on every event.
type Context struct {
	VisitorID string
	SessionID string
	PageURL   string
	PageTitle string
}

// Batch is the collector request body.
type Batch struct {
	Events []Event `json:"events"`
}

// NewEvent builds an enriched event. props must already be a private copy
// (the schema registry returns one); the event takes ownership of it.
func NewEvent(name string, props map[string]interface{}, ctx Context, at time.Time) Event {
	if props == nil {
		props = map[string]interface{}{}
	}
	return Event{
		ID:         ulid.Make().String(),
		Name:       name,
		Timestamp:  at.UnixMilli(),
		VisitorID:  ctx.VisitorID,
		SessionID:  ctx.SessionID,
		PageURL:    ctx.PageURL,
		PageTitle:  ctx.PageTitle,
		Properties: props,
	}
}

// Time returns Timestamp as a time.Time in UTC.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Validate ensures the event has all required envelope attributes.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, err := ulid.ParseStrict(e.ID); err != nil {
		return fmt.Errorf("id must be a ULID: %w", err)
	}

	if e.Name == "" {
		return fmt.Errorf("name is required")
	}

	if e.VisitorID == "" {
		return fmt.Errorf("visitor_id is required")
	}

	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}

	return nil
}
