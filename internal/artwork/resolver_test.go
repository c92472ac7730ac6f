package artwork

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/filestore"
	"github.com/echo-music/echo-server/internal/httpclient"
)

type fixture struct {
	store    datastore.Interface
	resolver *Resolver
	root     string
}

func newFixture(t *testing.T) *fixture {
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

	root := t.TempDir()
	client := httpclient.New(nil)
	t.Cleanup(client.Close)
	files, err := filestore.New(root, client)
	require.NoError(t, err)

	defaultCover := filepath.Join(root, "default-cover.jpg")
	require.NoError(t, os.WriteFile(defaultCover, []byte("default"), 0o644))

	return &fixture{
		store:    store,
		resolver: NewResolver(store, files, root, defaultCover, time.Minute),
		root:     root,
	}
}

func (f *fixture) writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("img:"+name), 0o644))
	return path
}

func TestResolveTierOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	localPath := f.writeFile(t, "local/cover.jpg")
	externalPath := f.writeFile(t, "external/cover.jpg")
	customPath := f.writeFile(t, "custom/cover.jpg")

	album := &datastore.Album{Name: "Mezzanine", CoverPath: localPath, ExternalCoverPath: externalPath}
	require.NoError(t, f.store.SaveAlbum(album))
	custom := &datastore.CustomImage{
		OwnerKind: KindAlbum, OwnerID: album.ID, ImageType: TypeCover,
		Path: customPath, MimeType: "image/jpeg", Active: true,
	}
	require.NoError(t, f.store.SaveCustomImage(custom))

	// Custom upload wins while active
	img, err := f.resolver.Resolve(KindAlbum, album.ID, TypeCover)
	require.NoError(t, err)
	assert.Equal(t, customPath, img.Path)
	assert.Equal(t, SourceCustom, img.Source)

	// Deactivated custom falls through to local
	require.NoError(t, f.store.DeactivateCustomImage(custom.ID))
	f.resolver.Invalidate(KindAlbum, album.ID, TypeCover)
	img, err = f.resolver.Resolve(KindAlbum, album.ID, TypeCover)
	require.NoError(t, err)
	assert.Equal(t, localPath, img.Path)
	assert.Equal(t, SourceLocal, img.Source)

	// Local gone on disk falls through to external and clears the reference
	require.NoError(t, os.Remove(localPath))
	f.resolver.Invalidate(KindAlbum, album.ID, TypeCover)
	img, err = f.resolver.Resolve(KindAlbum, album.ID, TypeCover)
	require.NoError(t, err)
	assert.Equal(t, externalPath, img.Path)
	assert.Equal(t, SourceExternal, img.Source)
	got, err := f.store.GetAlbum(album.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CoverPath)

	// Everything gone serves the bundled default
	require.NoError(t, os.Remove(externalPath))
	f.resolver.Invalidate(KindAlbum, album.ID, TypeCover)
	img, err = f.resolver.Resolve(KindAlbum, album.ID, TypeCover)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, img.Source)
}

func TestResolveMissingCustomDeactivatesRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	artist := &datastore.Artist{Name: "Portishead"}
	require.NoError(t, f.store.SaveArtist(artist))
	custom := &datastore.CustomImage{
		OwnerKind: KindArtist, OwnerID: artist.ID, ImageType: TypeThumb,
		Path: filepath.Join(f.root, "gone.jpg"), Active: true,
	}
	require.NoError(t, f.store.SaveCustomImage(custom))

	_, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	row, err := f.store.GetActiveCustomImage(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)
	assert.Nil(t, row, "stale custom record must be deactivated")
}

func TestResolveArtistThumbWithoutDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	artist := &datastore.Artist{Name: "Tricky"}
	require.NoError(t, f.store.SaveArtist(artist))

	// No default fallback exists for artist images
	_, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveUnknownImageType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.resolver.Resolve(KindArtist, 1, "poster")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestResolveResultCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := f.writeFile(t, "artist/thumb.jpg")
	artist := &datastore.Artist{Name: "Massive Attack", LocalImagePath: path}
	require.NoError(t, f.store.SaveArtist(artist))

	img, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)

	// Remove the file; the cached result still serves until invalidated
	require.NoError(t, os.Remove(path))
	cached, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)
	assert.Equal(t, img.Path, cached.Path)

	f.resolver.Invalidate(KindArtist, artist.ID, TypeThumb)
	_, err = f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.Error(t, err)
}

func TestTagStability(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := f.writeFile(t, "artist/thumb.jpg")
	artist := &datastore.Artist{Name: "Portishead", LocalImagePath: path}
	require.NoError(t, f.store.SaveArtist(artist))

	first, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)

	f.resolver.Invalidate(KindArtist, artist.ID, TypeThumb)
	second, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)
	assert.Equal(t, first.Tag, second.Tag, "unchanged file must keep its tag")

	// Touching the file changes the tag
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	f.resolver.Invalidate(KindArtist, artist.ID, TypeThumb)
	third, err := f.resolver.Resolve(KindArtist, artist.ID, TypeThumb)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tag, third.Tag)

	match, err := f.resolver.CheckTag(KindArtist, artist.ID, TypeThumb, third.Tag)
	require.NoError(t, err)
	assert.True(t, match)
	match, err = f.resolver.CheckTag(KindArtist, artist.ID, TypeThumb, first.Tag)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestNormalizePathHandlesForeignSeparators(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rel := f.resolver.normalizePath(`custom\uploads\cover.jpg`)
	assert.Equal(t, filepath.Join(f.root, "custom", "uploads", "cover.jpg"), rel)
}
