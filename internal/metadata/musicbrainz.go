package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/echo-music/echo-server/internal/conf"
)

const (
	musicBrainzName    = "musicbrainz"
	musicBrainzBaseURL = "https://musicbrainz.org/ws/2"

	// MusicBrainz asks anonymous clients to stay at or below 1 req/s.
	musicBrainzMinInterval = 1100 * time.Millisecond

	mbSearchLimit = 10
)

// MusicBrainzAgent searches the MusicBrainz web service for artist, release
// group and recording identifiers. It is the only identifier-search source and
// needs no credentials.
type MusicBrainzAgent struct {
	baseAgent
	baseURL string
	// Short-lived memo in front of the persistent search cache, so one
	// resolution pass never repeats an identical request.
	memo *cache.Cache
}

// NewMusicBrainzAgent returns the MusicBrainz search agent.
func NewMusicBrainzAgent(settings conf.AgentSettings, deps AgentDeps) *MusicBrainzAgent {
	if settings.RateLimit <= 0 || settings.RateLimit < musicBrainzMinInterval {
		settings.RateLimit = musicBrainzMinInterval
	}
	return &MusicBrainzAgent{
		baseAgent: newBaseAgent(musicBrainzName, 1, settings, false, deps),
		baseURL:   musicBrainzBaseURL,
		memo:      cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (a *MusicBrainzAgent) Capabilities() []Capability {
	return []Capability{CapabilityIdentifierSearch}
}

// ValidMBID reports whether s parses as a MusicBrainz identifier.
func ValidMBID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// escapeLucene escapes the characters the MusicBrainz search grammar treats
// specially, so raw tag values are safe inside quoted terms.
func escapeLucene(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type mbArtistSearchResponse struct {
	Artists []struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		SortName       string `json:"sort-name"`
		Score          int    `json:"score"`
		Disambiguation string `json:"disambiguation"`
		Type           string `json:"type"`
	} `json:"artists"`
}

type mbReleaseGroupSearchResponse struct {
	ReleaseGroups []struct {
		ID               string `json:"id"`
		Title            string `json:"title"`
		Score            int    `json:"score"`
		PrimaryType      string `json:"primary-type"`
		FirstReleaseDate string `json:"first-release-date"`
		ArtistCredit     []struct {
			Name string `json:"name"`
		} `json:"artist-credit"`
	} `json:"release-groups"`
}

type mbRecordingSearchResponse struct {
	Recordings []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		Score        int    `json:"score"`
		Length       int    `json:"length"`
		ArtistCredit []struct {
			Name string `json:"name"`
		} `json:"artist-credit"`
	} `json:"recordings"`
}

// SearchArtist queries the artist index and returns scored matches in
// MusicBrainz score order.
func (a *MusicBrainzAgent) SearchArtist(ctx context.Context, name string) ([]Match, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`artist:"%s"`, escapeLucene(name))
	searchURL := a.searchURL("artist", query)

	start := time.Now()
	matches, err := a.searchArtistRaw(ctx, searchURL)
	a.observe(CapabilityIdentifierSearch, start, err)
	return matches, err
}

func (a *MusicBrainzAgent) searchArtistRaw(ctx context.Context, searchURL string) ([]Match, error) {
	if cached, found := a.memo.Get(searchURL); found {
		if matches, ok := cached.([]Match); ok {
			return matches, nil
		}
	}
	var resp mbArtistSearchResponse
	if err := a.fetchJSON(ctx, searchURL, nil, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Artists))
	for _, art := range resp.Artists {
		m := Match{
			ID:    art.ID,
			Name:  art.Name,
			Score: art.Score,
		}
		if art.Disambiguation != "" || art.SortName != "" || art.Type != "" {
			m.Extra = map[string]string{}
			if art.Disambiguation != "" {
				m.Extra["disambiguation"] = art.Disambiguation
			}
			if art.SortName != "" {
				m.Extra["sort_name"] = art.SortName
			}
			if art.Type != "" {
				m.Extra["type"] = art.Type
			}
		}
		matches = append(matches, m)
	}
	a.memo.Set(searchURL, matches, cache.DefaultExpiration)
	return matches, nil
}

// SearchAlbum queries the release-group index scoped to the artist name.
func (a *MusicBrainzAgent) SearchAlbum(ctx context.Context, artist, album string) ([]Match, error) {
	album = strings.TrimSpace(album)
	if album == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`releasegroup:"%s"`, escapeLucene(album))
	if artist = strings.TrimSpace(artist); artist != "" {
		query += fmt.Sprintf(` AND artist:"%s"`, escapeLucene(artist))
	}
	searchURL := a.searchURL("release-group", query)

	start := time.Now()
	matches, err := a.searchAlbumRaw(ctx, searchURL)
	a.observe(CapabilityIdentifierSearch, start, err)
	return matches, err
}

func (a *MusicBrainzAgent) searchAlbumRaw(ctx context.Context, searchURL string) ([]Match, error) {
	if cached, found := a.memo.Get(searchURL); found {
		if matches, ok := cached.([]Match); ok {
			return matches, nil
		}
	}
	var resp mbReleaseGroupSearchResponse
	if err := a.fetchJSON(ctx, searchURL, nil, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.ReleaseGroups))
	for _, rg := range resp.ReleaseGroups {
		m := Match{
			ID:    rg.ID,
			Name:  rg.Title,
			Score: rg.Score,
		}
		if len(rg.ArtistCredit) > 0 {
			m.Artist = rg.ArtistCredit[0].Name
		}
		extra := map[string]string{}
		if rg.PrimaryType != "" {
			extra["primary_type"] = rg.PrimaryType
		}
		if len(rg.FirstReleaseDate) >= 4 {
			extra["year"] = rg.FirstReleaseDate[:4]
		}
		if len(extra) > 0 {
			m.Extra = extra
		}
		matches = append(matches, m)
	}
	a.memo.Set(searchURL, matches, cache.DefaultExpiration)
	return matches, nil
}

// SearchRecording queries the recording index. Duration, when known, is added
// as a scoring term so same-titled recordings of different length rank lower.
func (a *MusicBrainzAgent) SearchRecording(ctx context.Context, q RecordingQuery) ([]Match, error) {
	title := strings.TrimSpace(q.Title)
	if title == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`recording:"%s"`, escapeLucene(title))
	if artist := strings.TrimSpace(q.Artist); artist != "" {
		query += fmt.Sprintf(` AND artist:"%s"`, escapeLucene(artist))
	}
	if q.DurationMS > 0 {
		query += fmt.Sprintf(` AND dur:[%d TO %d]`, q.DurationMS-5000, q.DurationMS+5000)
	}
	searchURL := a.searchURL("recording", query)

	start := time.Now()
	matches, err := a.searchRecordingRaw(ctx, searchURL)
	a.observe(CapabilityIdentifierSearch, start, err)
	return matches, err
}

func (a *MusicBrainzAgent) searchRecordingRaw(ctx context.Context, searchURL string) ([]Match, error) {
	if cached, found := a.memo.Get(searchURL); found {
		if matches, ok := cached.([]Match); ok {
			return matches, nil
		}
	}
	var resp mbRecordingSearchResponse
	if err := a.fetchJSON(ctx, searchURL, nil, &resp); err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resp.Recordings))
	for _, rec := range resp.Recordings {
		m := Match{
			ID:    rec.ID,
			Name:  rec.Title,
			Score: rec.Score,
		}
		if len(rec.ArtistCredit) > 0 {
			m.Artist = rec.ArtistCredit[0].Name
		}
		if rec.Length > 0 {
			m.Extra = map[string]string{"duration_ms": fmt.Sprintf("%d", rec.Length)}
		}
		matches = append(matches, m)
	}
	a.memo.Set(searchURL, matches, cache.DefaultExpiration)
	return matches, nil
}

func (a *MusicBrainzAgent) searchURL(entity, query string) string {
	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", fmt.Sprintf("%d", mbSearchLimit))
	return fmt.Sprintf("%s/%s?%s", a.baseURL, entity, params.Encode())
}
