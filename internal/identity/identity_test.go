package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv"
	"github.com/theburgerllc/nycayen-telemetry/internal/kv/kvtest"
)

func TestLoadOrCreate_CreatesAndPersists(t *testing.T) {
	ctx := context.Background()
	durable := kv.NewMemoryStore()
	session := kv.NewMemoryStore()

	s := LoadOrCreate(ctx, durable, session)
	require.False(t, s.Degraded())

	_, err := uuid.Parse(s.VisitorID())
	require.NoError(t, err, "visitor id should be a UUID")
	_, err = uuid.Parse(s.SessionID())
	require.NoError(t, err, "session id should be a UUID")
	assert.NotEqual(t, s.VisitorID(), s.SessionID())

	stored, err := durable.Get(ctx, KeyVisitorID)
	require.NoError(t, err)
	assert.Equal(t, s.VisitorID(), string(stored))

	stored, err = session.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID(), string(stored))
}

func TestLoadOrCreate_VisitorIDStableAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	durable := kv.NewMemoryStore()

	first := LoadOrCreate(ctx, durable, kv.NewMemoryStore())
	for i := 0; i < 3; i++ {
		assert.Equal(t, first.VisitorID(), first.VisitorID())
	}

	// New process lifetime: durable storage intact, session storage fresh.
	second := LoadOrCreate(ctx, durable, kv.NewMemoryStore())
	assert.Equal(t, first.VisitorID(), second.VisitorID())
	assert.NotEqual(t, first.SessionID(), second.SessionID(), "new session store yields a new session id")
}

func TestLoadOrCreate_SessionReusedWithinSession(t *testing.T) {
	ctx := context.Background()
	session := kv.NewMemoryStore()

	first := LoadOrCreate(ctx, kv.NewMemoryStore(), session)
	second := LoadOrCreate(ctx, kv.NewMemoryStore(), session)
	assert.Equal(t, first.SessionID(), second.SessionID())
}

func TestLoadOrCreate_DegradesWhenStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	broken := kvtest.NewFailingStore(kv.NewMemoryStore(), true)

	s := LoadOrCreate(ctx, broken, kv.NewMemoryStore())
	assert.True(t, s.Degraded())
	assert.NotEmpty(t, s.VisitorID())

	// Value is held in memory: repeated reads are stable.
	assert.Equal(t, s.VisitorID(), s.Identity().VisitorID)
}

func TestLoadOrCreate_NilStores(t *testing.T) {
	s := LoadOrCreate(context.Background(), nil, nil)
	assert.True(t, s.Degraded())
	assert.NotEmpty(t, s.VisitorID())
	assert.NotEmpty(t, s.SessionID())
}

func TestLoadOrCreate_UsesGenerator(t *testing.T) {
	ids := []string{"visitor-fixed", "session-fixed"}
	orig := newID
	newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	defer func() { newID = orig }()

	s := LoadOrCreate(context.Background(), kv.NewMemoryStore(), kv.NewMemoryStore())
	assert.Equal(t, Identity{VisitorID: "visitor-fixed", SessionID: "session-fixed"}, s.Identity())
}
