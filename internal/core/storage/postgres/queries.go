package postgres

// SQL queries for collected event storage

const (
	// querySaveEvent inserts an event keyed by its client-assigned ULID.
	// RETURNING clause retrieves auto-generated ingest_seq for cursor tracking.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for redelivered events.
	querySaveEvent = `
		INSERT INTO events (
			id, name, visitor_id, session_id, page_url, page_title,
			occurred_at, received_at, properties
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING ingest_seq
	`

	// queryRetrieveEventsAfterCursor fetches events after a cursor (ingest_seq)
	// in strict insertion order.
	queryRetrieveEventsAfterCursor = `
		SELECT
			id, name, visitor_id, session_id, page_url, page_title,
			occurred_at, received_at, properties, ingest_seq
		FROM events
		WHERE ingest_seq > $1
		ORDER BY ingest_seq ASC
		LIMIT $2
	`
)
