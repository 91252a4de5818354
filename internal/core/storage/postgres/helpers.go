package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	"github.com/theburgerllc/nycayen-telemetry/internal/core/storage"
)

// marshalProperties encodes an event's properties for the JSONB column.
// Nil properties are stored as an empty object rather than JSON null.
func marshalProperties(event *v1.Event) ([]byte, error) {
	if event.Properties == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(event.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return data, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into a StoredEvent.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (storage.StoredEvent, error) {
	var (
		evt        storage.StoredEvent
		occurredAt time.Time
		propsJSON  []byte
	)

	err := row.Scan(
		&evt.ID,
		&evt.Name,
		&evt.VisitorID,
		&evt.SessionID,
		&evt.PageURL,
		&evt.PageTitle,
		&occurredAt,
		&evt.ReceivedAt,
		&propsJSON,
		&evt.IngestSeq,
	)
	if err != nil {
		return storage.StoredEvent{}, fmt.Errorf("failed to scan event row: %w", err)
	}
	evt.Timestamp = occurredAt.UnixMilli()

	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &evt.Properties); err != nil {
			return storage.StoredEvent{}, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}

	return evt, nil
}
