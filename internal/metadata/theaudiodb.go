package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
)

const (
	theAudioDBName    = "theaudiodb"
	theAudioDBBaseURL = "https://www.theaudiodb.com/api/v1/json"
)

// TheAudioDBAgent fetches biographies, artist images and album covers from
// TheAudioDB. Lookups are by name, so it also serves entities without a
// resolved identifier. The API returns null for missing records and
// inconsistently typed fields, so responses are walked dynamically.
type TheAudioDBAgent struct {
	baseAgent
	baseURL string
}

// NewTheAudioDBAgent returns the TheAudioDB agent. It requires an API key.
func NewTheAudioDBAgent(settings conf.AgentSettings, deps AgentDeps) *TheAudioDBAgent {
	return &TheAudioDBAgent{
		baseAgent: newBaseAgent(theAudioDBName, 4, settings, true, deps),
		baseURL:   theAudioDBBaseURL,
	}
}

func (a *TheAudioDBAgent) Capabilities() []Capability {
	return []Capability{CapabilityBiography, CapabilityImages, CapabilityCoverArt}
}

// FetchBiography returns the English biography for an artist.
func (a *TheAudioDBAgent) FetchBiography(ctx context.Context, q ArtistQuery) (*Biography, error) {
	start := time.Now()
	artist, err := a.searchArtist(ctx, q)
	a.observe(CapabilityBiography, start, err)
	if err != nil {
		return nil, err
	}
	bio, err := artist.GetString("strBiographyEN")
	if err != nil || strings.TrimSpace(bio) == "" {
		return nil, a.notFound("no biography", q.Name)
	}
	return &Biography{
		Text:   strings.TrimSpace(bio),
		Source: a.name,
	}, nil
}

// FetchArtistImages returns the thumb, fanart and banner slots.
func (a *TheAudioDBAgent) FetchArtistImages(ctx context.Context, q ArtistQuery) (*ArtistImages, error) {
	start := time.Now()
	artist, err := a.searchArtist(ctx, q)
	a.observe(CapabilityImages, start, err)
	if err != nil {
		return nil, err
	}
	images := &ArtistImages{Source: a.name}
	if v, err := artist.GetString("strArtistThumb"); err == nil {
		images.ThumbURL = v
	}
	if v, err := artist.GetString("strArtistFanart"); err == nil {
		images.BackgroundURL = v
	}
	if v, err := artist.GetString("strArtistBanner"); err == nil {
		images.BannerURL = v
	}
	if images.Empty() {
		return nil, a.notFound("no artist images", q.Name)
	}
	return images, nil
}

// FetchAlbumCover searches by artist and album name and returns the album
// thumb, which TheAudioDB serves as the front cover.
func (a *TheAudioDBAgent) FetchAlbumCover(ctx context.Context, q AlbumQuery) (*CoverArt, error) {
	if q.Artist == "" || q.Album == "" {
		return nil, errors.Newf("album cover search requires artist and album names").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Build()
	}
	reqURL := fmt.Sprintf("%s/%s/searchalbum.php?s=%s&a=%s",
		a.baseURL, a.settings.APIKey,
		url.QueryEscape(q.Artist), url.QueryEscape(q.Album))

	start := time.Now()
	body, err := a.fetchBody(ctx, reqURL, nil)
	a.observe(CapabilityCoverArt, start, err)
	if err != nil {
		return nil, err
	}
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, a.parseError(err, reqURL)
	}
	albums, err := root.GetObjectArray("album")
	if err != nil || len(albums) == 0 {
		return nil, a.notFound("no album match", q.Album)
	}
	thumb, err := albums[0].GetString("strAlbumThumb")
	if err != nil || thumb == "" {
		return nil, a.notFound("no album cover", q.Album)
	}
	return &CoverArt{
		URL:    thumb,
		Source: a.name,
	}, nil
}

// searchArtist resolves the best artist record, by MBID when one is known and
// by name otherwise.
func (a *TheAudioDBAgent) searchArtist(ctx context.Context, q ArtistQuery) (*jason.Object, error) {
	var reqURL string
	switch {
	case q.MusicBrainzID != "" && ValidMBID(q.MusicBrainzID):
		reqURL = fmt.Sprintf("%s/%s/artist-mb.php?i=%s", a.baseURL, a.settings.APIKey, q.MusicBrainzID)
	case strings.TrimSpace(q.Name) != "":
		reqURL = fmt.Sprintf("%s/%s/search.php?s=%s", a.baseURL, a.settings.APIKey, url.QueryEscape(q.Name))
	default:
		return nil, errors.Newf("artist lookup requires a name or identifier").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Build()
	}

	body, err := a.fetchBody(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, a.parseError(err, reqURL)
	}
	// The API answers {"artists": null} for unknown names.
	artists, err := root.GetObjectArray("artists")
	if err != nil || len(artists) == 0 {
		return nil, a.notFound("no artist match", q.Name)
	}
	return artists[0], nil
}

func (a *TheAudioDBAgent) notFound(what, name string) error {
	return errors.Newf("%s for %q", what, name).
		Component("metadata").
		Category(errors.CategoryNotFound).
		Context("source", a.name).
		Build()
}

func (a *TheAudioDBAgent) parseError(err error, reqURL string) error {
	return errors.Newf("failed to parse %s response: %w", a.name, err).
		Component("metadata").
		Category(errors.CategoryMetadataProvider).
		Context("source", a.name).
		Context("url", reqURL).
		Build()
}
