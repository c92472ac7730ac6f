package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/datastore"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := NewResponseCache(store, time.Hour, nil)

	in := Biography{Text: "formed in Bristol in 1988", Source: "lastfm"}
	require.NoError(t, c.Save(datastore.EntityArtist, 1, "lastfm:biography", &in, 0))

	var out Biography
	require.True(t, c.Get(datastore.EntityArtist, 1, "lastfm:biography", &out))
	assert.Equal(t, in, out)
}

func TestResponseCacheMiss(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := NewResponseCache(store, time.Hour, nil)

	var out Biography
	assert.False(t, c.Get(datastore.EntityArtist, 99, "lastfm:biography", &out))
}

func TestResponseCacheExpiredRowRemoved(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	// Row already past its expiry
	require.NoError(t, store.SaveMetadataCache(&datastore.MetadataCache{
		EntityType: datastore.EntityArtist,
		EntityID:   7,
		Source:     "lastfm:biography",
		Payload:    `{"text":"stale","source":"lastfm"}`,
		FetchedAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
	}))

	c := NewResponseCache(store, time.Hour, nil)
	var out Biography
	assert.False(t, c.Get(datastore.EntityArtist, 7, "lastfm:biography", &out))

	// The stale row is gone, not just skipped
	row, err := store.GetMetadataCache(datastore.EntityArtist, 7, "lastfm:biography")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestResponseCacheProviderTTLOverride(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := NewResponseCache(store, time.Hour, nil)

	in := Biography{Text: "bio", Source: "theaudiodb"}
	require.NoError(t, c.Save(datastore.EntityArtist, 2, "theaudiodb:biography", &in, 14))

	row, err := store.GetMetadataCache(datastore.EntityArtist, 2, "theaudiodb:biography")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), row.ExpiresAt, time.Minute)
}

func TestResponseCacheCorruptPayloadDropped(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.SaveMetadataCache(&datastore.MetadataCache{
		EntityType: datastore.EntityArtist,
		EntityID:   3,
		Source:     "lastfm:biography",
		Payload:    "{not json",
		FetchedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}))

	c := NewResponseCache(store, time.Hour, nil)
	var out Biography
	assert.False(t, c.Get(datastore.EntityArtist, 3, "lastfm:biography", &out))

	row, err := store.GetMetadataCache(datastore.EntityArtist, 3, "lastfm:biography")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestResponseCacheClearExpired(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := NewResponseCache(store, time.Hour, nil)
	require.NoError(t, c.Save(datastore.EntityArtist, 1, "a", &Biography{Text: "x"}, 0))
	require.NoError(t, store.SaveMetadataCache(&datastore.MetadataCache{
		EntityType: datastore.EntityArtist,
		EntityID:   2,
		Source:     "b",
		Payload:    "{}",
		ExpiresAt:  time.Now().Add(-time.Hour),
	}))

	removed, err := c.ClearExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
