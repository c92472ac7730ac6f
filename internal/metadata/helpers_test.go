package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/httpclient"
)

// newTestStore opens a throwaway SQLite store in a temp dir.
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

// newTestDeps returns agent deps with a near-zero rate limit fallback and an
// HTTP client wired for httpmock interception.
func newTestDeps(t *testing.T) AgentDeps {
	t.Helper()
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	t.Cleanup(client.Close)
	return AgentDeps{
		HTTP:    client,
		Limiter: NewRateLimiter(time.Millisecond),
	}
}

// fastAgentSettings enables an agent with test-friendly intervals.
func fastAgentSettings(apiKey string) conf.AgentSettings {
	return conf.AgentSettings{
		Enabled:    true,
		APIKey:     apiKey,
		RateLimit:  time.Millisecond,
		MaxRetries: 1,
		Timeout:    5 * time.Second,
	}
}

// testAgent is a scriptable in-memory agent for orchestrator tests.
type testAgent struct {
	name         string
	priority     int
	enabled      bool
	capabilities []Capability

	bio     *Biography
	bioErr  error
	images  *ArtistImages
	imgErr  error
	cover   *CoverArt
	coverr  error
	matches []Match
	findErr error

	bioCalls    int
	imageCalls  int
	coverCalls  int
	searchCalls int
}

func (a *testAgent) Name() string               { return a.name }
func (a *testAgent) Priority() int              { return a.priority }
func (a *testAgent) Enabled() bool              { return a.enabled }
func (a *testAgent) Capabilities() []Capability { return a.capabilities }

func (a *testAgent) FetchBiography(context.Context, ArtistQuery) (*Biography, error) {
	a.bioCalls++
	return a.bio, a.bioErr
}

func (a *testAgent) FetchArtistImages(context.Context, ArtistQuery) (*ArtistImages, error) {
	a.imageCalls++
	return a.images, a.imgErr
}

func (a *testAgent) FetchAlbumCover(context.Context, AlbumQuery) (*CoverArt, error) {
	a.coverCalls++
	return a.cover, a.coverr
}

func (a *testAgent) SearchArtist(context.Context, string) ([]Match, error) {
	a.searchCalls++
	return a.matches, a.findErr
}

func (a *testAgent) SearchAlbum(context.Context, string, string) ([]Match, error) {
	a.searchCalls++
	return a.matches, a.findErr
}

func (a *testAgent) SearchRecording(context.Context, RecordingQuery) ([]Match, error) {
	a.searchCalls++
	return a.matches, a.findErr
}
