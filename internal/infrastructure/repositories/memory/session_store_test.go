package memory

import (
	"context"
	"testing"

	"camlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession(identity, sessionID, spectatorID string) *domain.StoredSession {
	return &domain.StoredSession{
		Identity:    identity,
		DisplayName: "name-" + identity,
		SessionID:   sessionID,
		SpectatorID: spectatorID,
	}
}

func TestMemorySessionStore_PutGet(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("u1", "sid1", "spid1")))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sid1", got.SessionID)
	assert.Equal(t, "spid1", got.SpectatorID)

	_, err = store.Get(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemorySessionStore_PutDuplicateIdentity(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("u1", "sid1", "spid1")))
	err := store.Put(ctx, sampleSession("u1", "sid2", "spid2"))
	assert.ErrorIs(t, err, domain.ErrIdentityExists)
}

func TestMemorySessionStore_ReplaceDropsOldIndexes(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("u1", "sid1", "spid1")))
	require.NoError(t, store.Replace(ctx, sampleSession("u1", "sid2", "spid2")))

	exists, err := store.SessionIDExists(ctx, "sid1")
	require.NoError(t, err)
	assert.False(t, exists, "old session id should be free after replace")

	exists, err = store.SessionIDExists(ctx, "sid2")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.GetBySpectatorID(ctx, "spid1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	got, err := store.GetBySpectatorID(ctx, "spid2")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Identity)
}

func TestMemorySessionStore_ReplaceUnknownIdentity(t *testing.T) {
	store := NewMemorySessionStore()
	err := store.Replace(context.Background(), sampleSession("ghost", "sid", "spid"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemorySessionStore_SpectatorLookup(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("u1", "sid1", "spid1")))

	exists, err := store.SpectatorIDExists(ctx, "spid1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetBySpectatorID(ctx, "spid1")
	require.NoError(t, err)
	assert.Equal(t, "sid1", got.SessionID)
}

func TestMemorySessionStore_GetReturnsCopy(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("u1", "sid1", "spid1")))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	got.SessionID = "mutated"

	again, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sid1", again.SessionID)
}
