// Package kvtest provides kv.Store doubles for tests.
package kvtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
)

// FailingStore wraps a kv.Store and fails every call while Broken is set.
type FailingStore struct {
	inner kv.Store

	mu     sync.Mutex
	broken bool
	writes int
}

// NewFailingStore wraps inner. The store starts broken when broken is true.
func NewFailingStore(inner kv.Store, broken bool) *FailingStore {
	return &FailingStore{inner: inner, broken: broken}
}

// SetBroken toggles failure mode.
func (f *FailingStore) SetBroken(broken bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = broken
}

// Writes returns how many successful Set calls reached the inner store.
func (f *FailingStore) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *FailingStore) fail(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return fmt.Errorf("%w: %s %s: disk full", kv.ErrUnavailable, op, key)
	}
	return nil
}

func (f *FailingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.fail("get", key); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

func (f *FailingStore) Set(ctx context.Context, key string, value []byte) error {
	if err := f.fail("set", key); err != nil {
		return err
	}
	if err := f.inner.Set(ctx, key, value); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	return nil
}

func (f *FailingStore) Delete(ctx context.Context, key string) error {
	if err := f.fail("delete", key); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

func (f *FailingStore) Ping(ctx context.Context) error {
	if err := f.fail("ping", ""); err != nil {
		return err
	}
	return f.inner.Ping(ctx)
}

func (f *FailingStore) Close() error {
	return f.inner.Close()
}
