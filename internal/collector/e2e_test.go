package collector_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	"github.com/theburgerllc/nycayen-telemetry/internal/collector"
	"github.com/theburgerllc/nycayen-telemetry/internal/core/storage"
	"github.com/theburgerllc/nycayen-telemetry/internal/delivery"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/pipeline"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema/builtin"
)

// memoryEventStore keeps collected events in arrival order.
type memoryEventStore struct {
	mu     sync.Mutex
	seq    int64
	byID   map[string]bool
	events []storage.StoredEvent
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{byID: make(map[string]bool)}
}

func (m *memoryEventStore) SaveEvent(_ context.Context, event *v1.Event, receivedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[event.ID] {
		return storage.ErrDuplicate
	}
	m.byID[event.ID] = true
	m.seq++
	m.events = append(m.events, storage.StoredEvent{Event: *event, IngestSeq: m.seq, ReceivedAt: receivedAt})
	return nil
}

func (m *memoryEventStore) RetrieveEventsAfterCursor(_ context.Context, cursor int64, limit int) ([]storage.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.StoredEvent
	for _, e := range m.events {
		if e.IngestSeq > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEventStore) snapshot() []storage.StoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.StoredEvent(nil), m.events...)
}

func startCollector(t *testing.T, store storage.EventStore) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := collector.NewService(store, nil, 1)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	r := gin.New()
	svc.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestPipelineDeliversToCollector(t *testing.T) {
	tests := []struct {
		name        string
		compression delivery.Compression
	}{
		{name: "plain json", compression: delivery.CompressionNone},
		{name: "zstd", compression: delivery.CompressionZstd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryEventStore()
			srv := startCollector(t, store)

			sender, err := delivery.NewHTTPSender(srv.URL+"/v1/collect", delivery.HTTPSenderOptions{
				Timeout:     2 * time.Second,
				Compression: tt.compression,
			})
			require.NoError(t, err)

			reg, err := builtin.NewRegistry()
			require.NoError(t, err)

			ctx := context.Background()
			p := pipeline.New(ctx, pipeline.Config{BatchSize: 50, FlushInterval: time.Hour}, pipeline.Deps{
				Registry: reg,
				Durable:  kv.NewMemoryStore(),
				Sender:   sender,
			})
			p.Start(ctx)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = p.Close(closeCtx)
			}()

			require.True(t, p.Track(ctx, "cta_click", map[string]interface{}{"cta_id": "book-now", "label": "Book"}))
			require.True(t, p.Track(ctx, "search", map[string]interface{}{"query": "balayage", "results": 3}))

			flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			require.NoError(t, p.Flush(flushCtx))

			stored := store.snapshot()
			require.Len(t, stored, 2)
			names := []string{stored[0].Name, stored[1].Name}
			sort.Strings(names)
			assert.Equal(t, []string{"cta_click", "search"}, names)
			for _, e := range stored {
				assert.Equal(t, p.Identity().VisitorID, e.VisitorID)
				assert.False(t, e.ReceivedAt.IsZero())
			}
			assert.Equal(t, 0, p.Pending(ctx))
		})
	}
}

func TestRedeliveredBatchIsDeduplicated(t *testing.T) {
	store := newMemoryEventStore()
	srv := startCollector(t, store)

	sender, err := delivery.NewHTTPSender(srv.URL+"/v1/collect", delivery.HTTPSenderOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)

	at := time.Date(2026, 5, 2, 15, 4, 5, 0, time.UTC)
	batch := []v1.Event{
		v1.NewEvent("cta_click", map[string]interface{}{"cta_id": "hero"}, v1.Context{VisitorID: "v1", SessionID: "s1"}, at),
		v1.NewEvent("cta_click", map[string]interface{}{"cta_id": "footer"}, v1.Context{VisitorID: "v1", SessionID: "s1"}, at.Add(time.Second)),
	}

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, batch))
	require.NoError(t, sender.Send(ctx, batch))

	stored := store.snapshot()
	require.Len(t, stored, 2)
	assert.Equal(t, batch[0].ID, stored[0].ID)
	assert.Equal(t, batch[1].ID, stored[1].ID)
}
