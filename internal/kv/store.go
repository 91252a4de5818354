package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a key has never been written or was deleted.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable wraps any failure of the underlying persistence layer.
	// Callers degrade to in-memory operation when they see it.
	ErrUnavailable = errors.New("storage unavailable")

	ErrClosed = errors.New("store is closed")
)

// Store is a process-surviving key-value layer. Keys are partitioned by the
// component that owns them (identity.*, attribution.*, experiment.*, delivery.*)
// so no cross-component locking is needed.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error

	Close() error
}

// GetJSON reads key and unmarshals it into dst.
func GetJSON(ctx context.Context, s Store, key string, dst interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
