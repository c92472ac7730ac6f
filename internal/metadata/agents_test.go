package metadata

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
)

func TestEscapeLucene(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Massive Attack", "Massive Attack"},
		{"AC/DC", `AC\/DC`},
		{`say "hello"`, `say \"hello\"`},
		{"Panic! At The Disco", `Panic\! At The Disco`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, escapeLucene(tc.in))
	}
}

func TestValidMBID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidMBID("10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8"))
	assert.False(t, ValidMBID("not-a-uuid"))
	assert.False(t, ValidMBID(""))
}

func TestMusicBrainzSearchArtist(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewMusicBrainzAgent(fastAgentSettings(""), deps)

	httpmock.RegisterResponder("GET", `=~^https://musicbrainz\.org/ws/2/artist`,
		httpmock.NewStringResponder(200, `{
			"artists": [
				{"id": "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8", "name": "Massive Attack",
				 "sort-name": "Massive Attack", "score": 100, "type": "Group"},
				{"id": "aaaa0000-a2c0-4bf3-8249-2b4cbf6e6ca8", "name": "Massive Attack V",
				 "score": 61}
			]
		}`))

	matches, err := agent.SearchArtist(context.Background(), "Massive Attack")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8", matches[0].ID)
	assert.Equal(t, 100, matches[0].Score)
	assert.Equal(t, "Group", matches[0].Extra["type"])

	// Second identical search is served from the client-side memo
	_, err = agent.SearchArtist(context.Background(), "Massive Attack")
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestMusicBrainzSearchRecordingQuery(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewMusicBrainzAgent(fastAgentSettings(""), deps)

	var captured string
	httpmock.RegisterResponder("GET", `=~^https://musicbrainz\.org/ws/2/recording`,
		func(req *http.Request) (*http.Response, error) {
			captured = req.URL.Query().Get("query")
			return httpmock.NewStringResponse(200, `{"recordings": []}`), nil
		})

	_, err := agent.SearchRecording(context.Background(), RecordingQuery{
		Artist:     "Massive Attack",
		Title:      "Teardrop",
		DurationMS: 330000,
	})
	require.NoError(t, err)
	assert.Contains(t, captured, `recording:"Teardrop"`)
	assert.Contains(t, captured, `artist:"Massive Attack"`)
	assert.Contains(t, captured, "dur:[325000 TO 335000]")
}

func TestCoverArtArchivePrefers1200Thumbnail(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewCoverArtArchiveAgent(fastAgentSettings(""), deps)

	httpmock.RegisterResponder("GET", `=~^https://coverartarchive\.org/release-group/`,
		httpmock.NewStringResponder(200, `{
			"images": [
				{"front": false, "image": "https://archive.org/back.jpg", "thumbnails": {}},
				{"front": true, "image": "https://archive.org/front-original.jpg",
				 "thumbnails": {"large": "https://archive.org/front-500.jpg",
				                "1200": "https://archive.org/front-1200.jpg"}}
			]
		}`))

	cover, err := agent.FetchAlbumCover(context.Background(), AlbumQuery{
		Album:         "Mezzanine",
		MusicBrainzID: "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://archive.org/front-1200.jpg", cover.URL)
	assert.Equal(t, 1200, cover.Width)
	assert.Equal(t, coverArtArchiveName, cover.Source)
}

func TestCoverArtArchiveRequiresMBID(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewCoverArtArchiveAgent(fastAgentSettings(""), deps)

	_, err := agent.FetchAlbumCover(context.Background(), AlbumQuery{Album: "Mezzanine"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestFanartTVArtistImages(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewFanartTVAgent(fastAgentSettings("key"), deps)

	httpmock.RegisterResponder("GET", `=~^https://webservice\.fanart\.tv/v3/music/`,
		httpmock.NewStringResponder(200, `{
			"name": "Massive Attack",
			"artistthumb": [{"url": "https://assets.fanart.tv/thumb.jpg", "likes": "12"}],
			"artistbackground": [{"url": "https://assets.fanart.tv/bg.jpg", "likes": "3"}]
		}`))

	images, err := agent.FetchArtistImages(context.Background(), ArtistQuery{
		Name:          "Massive Attack",
		MusicBrainzID: "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.fanart.tv/thumb.jpg", images.ThumbURL)
	assert.Equal(t, "https://assets.fanart.tv/bg.jpg", images.BackgroundURL)
	assert.Empty(t, images.BannerURL)
}

func TestFanartTVDisabledWithoutKey(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewFanartTVAgent(fastAgentSettings(""), deps)
	assert.False(t, agent.Enabled())
}

func TestTheAudioDBBiography(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewTheAudioDBAgent(fastAgentSettings("key"), deps)

	httpmock.RegisterResponder("GET", `=~^https://www\.theaudiodb\.com/api/v1/json/key/search\.php`,
		httpmock.NewStringResponder(200, `{
			"artists": [{"strArtist": "Massive Attack",
			             "strBiographyEN": "Massive Attack are a trip hop collective.",
			             "strArtistThumb": "https://theaudiodb.com/thumb.jpg"}]
		}`))

	bio, err := agent.FetchBiography(context.Background(), ArtistQuery{Name: "Massive Attack"})
	require.NoError(t, err)
	assert.Equal(t, "Massive Attack are a trip hop collective.", bio.Text)
	assert.Equal(t, theAudioDBName, bio.Source)
}

func TestTheAudioDBNullArtists(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewTheAudioDBAgent(fastAgentSettings("key"), deps)

	httpmock.RegisterResponder("GET", `=~^https://www\.theaudiodb\.com/`,
		httpmock.NewStringResponder(200, `{"artists": null}`))

	_, err := agent.FetchBiography(context.Background(), ArtistQuery{Name: "Nobody"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLastFMBiographyStripsHTMLAndLicense(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewLastFMAgent(fastAgentSettings("key"), deps)

	httpmock.RegisterResponder("GET", `=~^https://ws\.audioscrobbler\.com/2\.0/`,
		httpmock.NewStringResponder(200, `{
			"artist": {
				"name": "Massive Attack",
				"image": [
					{"#text": "https://lastfm.freetls.fastly.net/small.png", "size": "small"},
					{"#text": "https://lastfm.freetls.fastly.net/mega.png", "size": "mega"}
				],
				"bio": {"content": "<b>Massive Attack</b> are from Bristol. <a href=\"https://www.last.fm/music/Massive+Attack\">Read more on Last.fm</a>."}
			}
		}`))

	bio, err := agent.FetchBiography(context.Background(), ArtistQuery{Name: "Massive Attack"})
	require.NoError(t, err)
	assert.Equal(t, "Massive Attack are from Bristol.", bio.Text)

	images, err := agent.FetchArtistImages(context.Background(), ArtistQuery{Name: "Massive Attack"})
	require.NoError(t, err)
	assert.Equal(t, "https://lastfm.freetls.fastly.net/mega.png", images.ThumbURL)
}

func TestLastFMErrorEnvelope(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewLastFMAgent(fastAgentSettings("bad-key"), deps)

	httpmock.RegisterResponder("GET", `=~^https://ws\.audioscrobbler\.com/2\.0/`,
		httpmock.NewStringResponder(200, `{"error": 10, "message": "Invalid API key"}`))

	_, err := agent.FetchBiography(context.Background(), ArtistQuery{Name: "Massive Attack"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestAgentRetryOnServerError(t *testing.T) {
	deps := newTestDeps(t)
	settings := fastAgentSettings("")
	settings.MaxRetries = 3
	agent := NewCoverArtArchiveAgent(settings, deps)

	calls := 0
	httpmock.RegisterResponder("GET", `=~^https://coverartarchive\.org/release-group/`,
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(503, "unavailable"), nil
			}
			return httpmock.NewStringResponse(200,
				`{"images": [{"front": true, "image": "https://archive.org/front.jpg", "thumbnails": {}}]}`), nil
		})

	cover, err := agent.FetchAlbumCover(context.Background(), AlbumQuery{
		MusicBrainzID: "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "https://archive.org/front.jpg", cover.URL)
}

func TestAgentNoRetryOnAuthFailure(t *testing.T) {
	deps := newTestDeps(t)
	settings := fastAgentSettings("key")
	settings.MaxRetries = 3
	agent := NewFanartTVAgent(settings, deps)

	httpmock.RegisterResponder("GET", `=~^https://webservice\.fanart\.tv/`,
		httpmock.NewStringResponder(403, `{"error": "invalid api key"}`))

	_, err := agent.FetchArtistImages(context.Background(), ArtistQuery{
		MusicBrainzID: "10adbe5e-a2c0-4bf3-8249-2b4cbf6e6ca8",
	})
	require.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

// base agent settings fall back sanely
func TestBaseAgentDefaults(t *testing.T) {
	deps := newTestDeps(t)
	agent := NewMusicBrainzAgent(conf.AgentSettings{Enabled: true}, deps)
	assert.True(t, agent.Enabled())
	assert.Equal(t, musicBrainzMinInterval, deps.Limiter.Interval(musicBrainzName))
}
