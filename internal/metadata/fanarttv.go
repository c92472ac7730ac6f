package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
)

const (
	fanartTVName    = "fanarttv"
	fanartTVBaseURL = "https://webservice.fanart.tv/v3/music"
)

// FanartTVAgent fetches artist images and album covers from fanart.tv.
// Lookups are keyed by MBID only, so unresolved entities are skipped.
type FanartTVAgent struct {
	baseAgent
	baseURL string
}

// NewFanartTVAgent returns the fanart.tv agent. It requires an API key.
func NewFanartTVAgent(settings conf.AgentSettings, deps AgentDeps) *FanartTVAgent {
	return &FanartTVAgent{
		baseAgent: newBaseAgent(fanartTVName, 3, settings, true, deps),
		baseURL:   fanartTVBaseURL,
	}
}

func (a *FanartTVAgent) Capabilities() []Capability {
	return []Capability{CapabilityImages, CapabilityCoverArt}
}

type fanartImage struct {
	URL   string `json:"url"`
	Likes string `json:"likes"`
}

type fanartArtistResponse struct {
	Name             string        `json:"name"`
	ArtistThumb      []fanartImage `json:"artistthumb"`
	ArtistBackground []fanartImage `json:"artistbackground"`
	MusicBanner      []fanartImage `json:"musicbanner"`
	Albums           map[string]struct {
		AlbumCover []fanartImage `json:"albumcover"`
	} `json:"albums"`
}

// FetchArtistImages returns the first image of each fanart.tv list; the API
// orders lists by community likes.
func (a *FanartTVAgent) FetchArtistImages(ctx context.Context, q ArtistQuery) (*ArtistImages, error) {
	resp, err := a.fetchArtist(ctx, q.MusicBrainzID, q.Name, CapabilityImages)
	if err != nil {
		return nil, err
	}
	images := &ArtistImages{Source: a.name}
	if len(resp.ArtistThumb) > 0 {
		images.ThumbURL = resp.ArtistThumb[0].URL
	}
	if len(resp.ArtistBackground) > 0 {
		images.BackgroundURL = resp.ArtistBackground[0].URL
	}
	if len(resp.MusicBanner) > 0 {
		images.BannerURL = resp.MusicBanner[0].URL
	}
	if images.Empty() {
		return nil, errors.Newf("no artist images for %s", q.Name).
			Component("metadata").
			Category(errors.CategoryNotFound).
			Context("source", a.name).
			Context("mbid", q.MusicBrainzID).
			Build()
	}
	return images, nil
}

// FetchAlbumCover returns the album cover from the artist's fanart.tv page.
// The artist endpoint carries covers for all its albums keyed by
// release-group MBID, so both identifiers are required.
func (a *FanartTVAgent) FetchAlbumCover(ctx context.Context, q AlbumQuery) (*CoverArt, error) {
	if q.MusicBrainzID == "" {
		return nil, errors.Newf("fanart.tv cover lookup requires a release-group identifier").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Context("album", q.Album).
			Build()
	}
	resp, err := a.fetchArtist(ctx, q.ArtistMBID, q.Artist, CapabilityCoverArt)
	if err != nil {
		return nil, err
	}
	if album, ok := resp.Albums[q.MusicBrainzID]; ok && len(album.AlbumCover) > 0 {
		return &CoverArt{
			URL:    album.AlbumCover[0].URL,
			Source: a.name,
		}, nil
	}
	return nil, errors.Newf("no album cover for release group %s", q.MusicBrainzID).
		Component("metadata").
		Category(errors.CategoryNotFound).
		Context("source", a.name).
		Context("release_group", q.MusicBrainzID).
		Build()
}

func (a *FanartTVAgent) fetchArtist(ctx context.Context, mbid, name string, capability Capability) (*fanartArtistResponse, error) {
	if mbid == "" {
		return nil, errors.Newf("fanart.tv lookup requires an artist identifier").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Context("artist", name).
			Build()
	}
	if !ValidMBID(mbid) {
		return nil, errors.Newf("invalid artist identifier: %s", mbid).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Build()
	}

	url := fmt.Sprintf("%s/%s?api_key=%s", a.baseURL, mbid, a.settings.APIKey)
	start := time.Now()
	var resp fanartArtistResponse
	err := a.fetchJSON(ctx, url, nil, &resp)
	a.observe(capability, start, err)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
