package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lborres/templatex/core"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// Requirement: values survive a restart and clients do not see each other's keys
func TestLocalStorage_NamespacedRoundTrip(t *testing.T) {
	mr, client := newTestClient(t)
	alice := NewLocalStorage(client, "", "alice")
	bob := NewLocalStorage(client, "", "bob")

	_, ok, err := alice.GetItem("prefs.locale")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, alice.SetItem("prefs.locale", "KZ"))

	restarted := NewLocalStorage(client, "", "alice")
	v, ok, err := restarted.GetItem("prefs.locale")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "KZ", v)

	_, ok, err = bob.GetItem("prefs.locale")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("templatex:alice:prefs.locale"))
}

func TestLocalStorage_Unavailable(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewLocalStorage(client, "", "alice")
	mr.Close()

	_, _, err := s.GetItem("k")
	assert.Error(t, err)
	assert.Error(t, s.SetItem("k", "v"))
}

func TestSessionCache(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewSessionCache(client, "", time.Minute)
	session := &core.SessionRecord{
		ID:        "s1",
		UserID:    "u1",
		TokenHash: "hash1",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}

	_, err := cache.Get("hash1")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	require.NoError(t, cache.Set("hash1", session))
	got, err := cache.Get("hash1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "hash1", got.TokenHash)
	assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get("hash1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set("hash1", session))
	require.NoError(t, cache.Set("hash2", session))
	require.NoError(t, cache.Clear())
	_, err = cache.Get("hash2")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSessionCache_ExpiredSessionNotCached(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewSessionCache(client, "", time.Minute)

	require.NoError(t, cache.Set("old", &core.SessionRecord{ID: "s", ExpiresAt: time.Now().Add(-time.Second)}))

	_, err := cache.Get("old")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
