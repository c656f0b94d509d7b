package feedcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(start time.Time) (*MemoryStore, *time.Time) {
	now := start
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	return s, &now
}

func entryFor(userID string, now, expires time.Time) *Entry {
	return &Entry{
		UserID:      userID,
		Ciphertext:  []byte("ciphertext"),
		KeyID:       "k1",
		LastUpdated: now,
		ExpiresAt:   expires,
	}
}

func TestGet_MissingUser(t *testing.T) {
	s, _ := newTestStore(time.Unix(1_700_000_000, 0))

	_, ok, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutGet_LiveEntry(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, _ := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(time.Hour))))

	e, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "k1", e.KeyID)
	assert.Equal(t, []byte("ciphertext"), e.Ciphertext)
}

func TestGet_ExpiredEntryIsAbsent(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, now := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(3600*time.Second))))

	// One second past the TTL the entry reads as absent even though it is
	// still physically present.
	*now = start.Add(3601 * time.Second)
	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_ExactExpiryIsAbsent(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, now := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(time.Hour))))

	*now = start.Add(time.Hour)
	_, ok, _ := s.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestPut_ReplacesExisting(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, _ := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(time.Hour))))

	replacement := entryFor("u1", start.Add(time.Minute), start.Add(2*time.Hour))
	replacement.KeyID = "k2"
	require.NoError(t, s.Put(ctx, replacement))

	e, ok, _ := s.Get(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "k2", e.KeyID, "refresh supersedes, never merges")
}

func TestDelete(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, _ := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(time.Hour))))
	require.NoError(t, s.Delete(ctx, "u1"))

	_, ok, _ := s.Get(ctx, "u1")
	assert.False(t, ok)
}

func TestReap_PurgesOnlyExpired(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	s, now := newTestStore(start)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entryFor("u1", start, start.Add(time.Minute))))
	require.NoError(t, s.Put(ctx, entryFor("u2", start, start.Add(time.Hour))))

	*now = start.Add(30 * time.Minute)
	assert.Equal(t, 1, s.reap())

	_, ok, _ := s.Get(ctx, "u2")
	assert.True(t, ok)
}
