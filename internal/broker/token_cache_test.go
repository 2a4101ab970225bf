package broker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	c := NewTokenCache(filepath.Join(t.TempDir(), "token.db"))

	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok, "an unwritten cache must report not-found, not an error")

	require.NoError(t, c.Store("tok-abc", time.Now().Add(time.Hour)))

	token, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-abc", token)
}

func TestTokenCacheExpiredTokenNotReused(t *testing.T) {
	c := NewTokenCache(filepath.Join(t.TempDir(), "token.db"))
	require.NoError(t, c.Store("stale-tok", time.Now().Add(-time.Minute)))

	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok, "an expired token must not be reused")
}

func TestTokenCacheStoreOverwritesPrior(t *testing.T) {
	c := NewTokenCache(filepath.Join(t.TempDir(), "token.db"))
	require.NoError(t, c.Store("first", time.Now().Add(time.Hour)))
	require.NoError(t, c.Store("second", time.Now().Add(time.Hour)))

	token, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", token)
}
