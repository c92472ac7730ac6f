package conflict

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/metadata"
)

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestHasConflict(t *testing.T) {
	t.Parallel()

	assert.False(t, HasConflict("", "new"))
	assert.False(t, HasConflict("old", ""))
	assert.False(t, HasConflict("same", "same"))
	assert.True(t, HasConflict("old", "new"))
}

func TestCreateDedupBySource(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	l := NewLedger(store, nil, nil, nil)

	data := Data{
		EntityType:     datastore.EntityArtist,
		EntityID:       1,
		Field:          FieldBiography,
		CurrentValue:   "old bio",
		SuggestedValue: "new bio",
		Source:         "lastfm",
	}
	first, err := l.Create(data)
	require.NoError(t, err)

	second, err := l.Create(data)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "duplicate pending conflict must be reused")

	// A different source is a separate conflict for non-cover fields
	data.Source = "theaudiodb"
	third, err := l.Create(data)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreatePriorityDefaults(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	l := NewLedger(store, nil, nil, nil)

	authoritative, err := l.Create(Data{
		EntityType: datastore.EntityAlbum, EntityID: 1, Field: FieldMusicBrainzID,
		SuggestedValue: "mbid", Source: "musicbrainz",
	})
	require.NoError(t, err)
	assert.Equal(t, datastore.PriorityHigh, authoritative.Priority)

	community, err := l.Create(Data{
		EntityType: datastore.EntityArtist, EntityID: 1, Field: FieldThumbURL,
		SuggestedValue: "https://x/t.jpg", Source: "fanarttv",
	})
	require.NoError(t, err)
	assert.Equal(t, datastore.PriorityMedium, community.Priority)
}

// Cover suggestions keep a single pending conflict per entity; only a
// strictly higher pixel count replaces it.
func TestCoverDedupResolutionUpgrade(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	l := NewLedger(store, nil, nil, nil)

	base := Data{
		EntityType:   datastore.EntityAlbum,
		EntityID:     5,
		Field:        FieldExternalCover,
		CurrentValue: "https://current/cover.jpg",
	}

	small := base
	small.SuggestedValue = "https://covers/600.jpg"
	small.Source = "theaudiodb"
	small.Metadata = map[string]string{"resolution": "600x600"}
	first, err := l.Create(small)
	require.NoError(t, err)

	big := base
	big.SuggestedValue = "https://covers/1200.jpg"
	big.Source = "fanarttv"
	big.Metadata = map[string]string{"resolution": "1200x1200"}
	second, err := l.Create(big)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://covers/1200.jpg", second.SuggestedValue)
	assert.Equal(t, "fanarttv", second.Source)

	mid := base
	mid.SuggestedValue = "https://covers/800.jpg"
	mid.Source = "coverartarchive"
	mid.Metadata = map[string]string{"resolution": "800x800"}
	third, err := l.Create(mid)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "https://covers/1200.jpg", third.SuggestedValue,
		"lower resolution must not replace the pending suggestion")

	pending, total, err := l.List(datastore.ConflictFilter{
		EntityType: datastore.EntityAlbum,
		Status:     datastore.ConflictPending,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, pending, 1)
}

func TestParseResolutionPixels(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(360000), parseResolutionPixels("600x600"))
	assert.Equal(t, int64(1440000), parseResolutionPixels("1200×1200"))
	assert.Equal(t, int64(0), parseResolutionPixels(""))
	assert.Equal(t, int64(0), parseResolutionPixels("junk"))
	assert.Equal(t, int64(0), parseResolutionPixels("-600x600"))
}

func TestAcceptAppliesBiography(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack", Biography: "old"}
	require.NoError(t, store.SaveArtist(artist))

	l := NewLedger(store, nil, nil, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityArtist,
		EntityID:       artist.ID,
		Field:          FieldBiography,
		CurrentValue:   "old",
		SuggestedValue: "Bristol trip hop collective.",
		Source:         "lastfm",
	})
	require.NoError(t, err)

	require.NoError(t, l.Accept(context.Background(), row.ID, "admin"))

	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bristol trip hop collective.", got.Biography)
	assert.Equal(t, "lastfm", got.BiographySource)

	resolved, err := l.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.ConflictAccepted, resolved.Status)
	assert.Equal(t, "admin", resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestAcceptParsesYear(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	album := &datastore.Album{Name: "Mezzanine"}
	require.NoError(t, store.SaveAlbum(album))

	l := NewLedger(store, nil, nil, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityAlbum,
		EntityID:       album.ID,
		Field:          FieldYear,
		SuggestedValue: "1998",
		Source:         "musicbrainz",
	})
	require.NoError(t, err)
	require.NoError(t, l.Accept(context.Background(), row.ID, ""))

	got, err := store.GetAlbum(album.ID)
	require.NoError(t, err)
	assert.Equal(t, 1998, got.Year)
}

func TestAcceptRejectsNonNumericYear(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	album := &datastore.Album{Name: "Mezzanine"}
	require.NoError(t, store.SaveAlbum(album))

	l := NewLedger(store, nil, nil, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityAlbum,
		EntityID:       album.ID,
		Field:          FieldYear,
		SuggestedValue: "late nineties",
		Source:         "theaudiodb",
	})
	require.NoError(t, err)

	err = l.Accept(context.Background(), row.ID, "")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	// The conflict stays pending after a failed apply
	got, err := l.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, datastore.ConflictPending, got.Status)
}

func TestResolvingTwiceIsValidationError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Portishead"}
	require.NoError(t, store.SaveArtist(artist))

	l := NewLedger(store, nil, nil, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityArtist,
		EntityID:       artist.ID,
		Field:          FieldThumbURL,
		SuggestedValue: "https://x/t.jpg",
		Source:         "fanarttv",
	})
	require.NoError(t, err)

	require.NoError(t, l.Reject(row.ID, "admin"))

	err = l.Accept(context.Background(), row.ID, "admin")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	err = l.Ignore(row.ID, "admin")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRejectAndIgnoreLeaveEntityUntouched(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Tricky", Biography: "original"}
	require.NoError(t, store.SaveArtist(artist))

	l := NewLedger(store, nil, nil, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityArtist,
		EntityID:       artist.ID,
		Field:          FieldBiography,
		CurrentValue:   "original",
		SuggestedValue: "replacement",
		Source:         "lastfm",
	})
	require.NoError(t, err)
	require.NoError(t, l.Ignore(row.ID, "admin"))

	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Biography)
}

type fakeInvalidator struct {
	keys []string
}

func (f *fakeInvalidator) Invalidate(kind string, id uint, imageType string) {
	f.keys = append(f.keys, kind+":"+imageType)
}

func TestAcceptImageFieldInvalidatesArtwork(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Portishead"}
	require.NoError(t, store.SaveArtist(artist))

	inv := &fakeInvalidator{}
	l := NewLedger(store, nil, inv, nil)
	row, err := l.Create(Data{
		EntityType:     datastore.EntityArtist,
		EntityID:       artist.ID,
		Field:          FieldThumbURL,
		SuggestedValue: "https://x/new-thumb.jpg",
		Source:         "fanarttv",
	})
	require.NoError(t, err)
	require.NoError(t, l.Accept(context.Background(), row.ID, ""))

	assert.Contains(t, inv.keys, datastore.EntityArtist+":thumb")
}

func TestSuggestIdentifierCarriesSuggestions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	l := NewLedger(store, nil, nil, nil)

	suggestions := []metadata.Match{
		{ID: "mbid-1", Name: "Top", Score: 82},
		{ID: "mbid-2", Name: "Second", Score: 78},
	}
	require.NoError(t, l.SuggestIdentifier(context.Background(),
		datastore.EntityArtist, 9, "", suggestions))

	rows, total, err := l.List(datastore.ConflictFilter{EntityType: datastore.EntityArtist})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, FieldMusicBrainzID, rows[0].Field)
	assert.Equal(t, datastore.PriorityMedium, rows[0].Priority)
	assert.Equal(t, "mbid-1", rows[0].SuggestedValue)
	assert.Contains(t, rows[0].Metadata, "mbid-2")
}
