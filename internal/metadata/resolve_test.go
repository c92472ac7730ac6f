package metadata

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
)

type captureIdentifierSink struct {
	entityType  string
	entityID    uint
	current     string
	suggestions []Match
	calls       int
}

func (s *captureIdentifierSink) SuggestIdentifier(_ context.Context, entityType string, entityID uint, current string, suggestions []Match) error {
	s.calls++
	s.entityType = entityType
	s.entityID = entityID
	s.current = current
	s.suggestions = suggestions
	return nil
}

func newTestResolver(t *testing.T, store datastore.Interface, searcher Agent, sink IdentifierConflictSink, settings conf.AutoSearchSettings) *Resolver {
	t.Helper()
	registry := NewRegistry()
	if searcher != nil {
		require.NoError(t, registry.Register(searcher))
	}
	cache := NewSearchCache(store, time.Hour, nil)
	return NewResolver(store, registry, cache, sink, nil, settings)
}

func searchAgent(matches []Match) *testAgent {
	return &testAgent{
		name: "musicbrainz", priority: 1, enabled: true,
		capabilities: []Capability{CapabilityIdentifierSearch},
		matches:      matches,
	}
}

func manyMatches(topScore int) []Match {
	matches := []Match{{ID: "top-mbid", Name: "Top Match", Score: topScore}}
	for i := 1; i < 8; i++ {
		matches = append(matches, Match{
			ID:    fmt.Sprintf("mbid-%d", i),
			Name:  fmt.Sprintf("Match %d", i),
			Score: topScore - i*3,
		})
	}
	return matches
}

func enabledSettings() conf.AutoSearchSettings {
	return conf.AutoSearchSettings{
		Enabled:             true,
		ConfidenceThreshold: 95,
		CreateConflicts:     true,
	}
}

func TestResolveArtistAutoApply(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	sink := &captureIdentifierSink{}
	r := newTestResolver(t, store, searchAgent(manyMatches(96)), sink, enabledSettings())

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAutoApplied, outcome.Action)
	require.NotNil(t, outcome.TopMatch)
	assert.Equal(t, "top-mbid", outcome.TopMatch.ID)

	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Equal(t, "top-mbid", got.MusicBrainzID)
	assert.Zero(t, sink.calls, "auto-apply must not create a conflict")
}

func TestResolveArtistMidScoreCreatesConflict(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	sink := &captureIdentifierSink{}
	r := newTestResolver(t, store, searchAgent(manyMatches(80)), sink, enabledSettings())

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionConflictCreated, outcome.Action)

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, datastore.EntityArtist, sink.entityType)
	assert.Equal(t, artist.ID, sink.entityID)
	assert.Len(t, sink.suggestions, 5)

	// No identifier was written
	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MusicBrainzID)
}

func TestResolveArtistLowScoreIgnored(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	sink := &captureIdentifierSink{}
	r := newTestResolver(t, store, searchAgent(manyMatches(50)), sink, enabledSettings())

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, outcome.Action)
	assert.Zero(t, sink.calls)

	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MusicBrainzID)
}

// The engine assigns identifiers only to entities missing one; an entity that
// already carries an identifier is reported, never searched or overwritten.
func TestResolveArtistAlreadyResolvedIsUntouched(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack", MusicBrainzID: "existing-mbid"}
	require.NoError(t, store.SaveArtist(artist))

	agent := searchAgent(manyMatches(99))
	r := newTestResolver(t, store, agent, nil, enabledSettings())

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAlreadyResolved, outcome.Action)
	assert.Zero(t, agent.searchCalls)

	got, err := store.GetArtist(artist.ID)
	require.NoError(t, err)
	assert.Equal(t, "existing-mbid", got.MusicBrainzID)
}

// The review floor is configuration: raising it turns a would-be conflict
// into an ignore.
func TestResolveConflictFloorIsConfigurable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	settings := enabledSettings()
	settings.ConflictFloor = 90

	sink := &captureIdentifierSink{}
	r := newTestResolver(t, store, searchAgent(manyMatches(80)), sink, settings)

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, outcome.Action)
	assert.Zero(t, sink.calls)
}

func TestResolveDisabledByDefault(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	agent := searchAgent(manyMatches(99))
	r := newTestResolver(t, store, agent, nil, conf.AutoSearchSettings{})

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionDisabled, outcome.Action)
	assert.Zero(t, agent.searchCalls)
}

func TestResolveNoSearcher(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	r := newTestResolver(t, store, nil, nil, enabledSettings())
	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionDisabled, outcome.Action)
}

func TestResolveSearchFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	agent := searchAgent(nil)
	agent.findErr = fmt.Errorf("musicbrainz unreachable")
	r := newTestResolver(t, store, agent, nil, enabledSettings())

	outcome, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionNoResults, outcome.Action)
	assert.Contains(t, outcome.Reason, "unreachable")
}

func TestResolveArtistUsesSearchCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))

	agent := searchAgent(manyMatches(50))
	r := newTestResolver(t, store, agent, nil, enabledSettings())

	_, err := r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	_, err = r.ResolveArtist(context.Background(), artist.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.searchCalls, "second pass must hit the search cache")
}

func TestResolveTrackPassesDurationAndPosition(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	artist := &datastore.Artist{Name: "Massive Attack"}
	require.NoError(t, store.SaveArtist(artist))
	album := &datastore.Album{ArtistID: artist.ID, Name: "Mezzanine"}
	require.NoError(t, store.SaveAlbum(album))
	track := &datastore.Track{
		AlbumID: album.ID, ArtistID: artist.ID,
		Title: "Teardrop", TrackNumber: 3, DurationMS: 330000,
	}
	require.NoError(t, store.SaveTrack(track))

	r := newTestResolver(t, store, searchAgent(manyMatches(97)), nil, enabledSettings())
	outcome, err := r.ResolveTrack(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionAutoApplied, outcome.Action)

	got, err := store.GetTrack(track.ID)
	require.NoError(t, err)
	assert.Equal(t, "top-mbid", got.MusicBrainzID)
}
