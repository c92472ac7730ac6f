package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
)

const (
	coverArtArchiveName    = "coverartarchive"
	coverArtArchiveBaseURL = "https://coverartarchive.org"
)

// CoverArtArchiveAgent fetches album covers from the Cover Art Archive by
// release-group MBID. It needs no credentials and cannot help albums without
// a resolved identifier.
type CoverArtArchiveAgent struct {
	baseAgent
	baseURL string
}

// NewCoverArtArchiveAgent returns the Cover Art Archive agent.
func NewCoverArtArchiveAgent(settings conf.AgentSettings, deps AgentDeps) *CoverArtArchiveAgent {
	return &CoverArtArchiveAgent{
		baseAgent: newBaseAgent(coverArtArchiveName, 2, settings, false, deps),
		baseURL:   coverArtArchiveBaseURL,
	}
}

func (a *CoverArtArchiveAgent) Capabilities() []Capability {
	return []Capability{CapabilityCoverArt}
}

type caaResponse struct {
	Images []struct {
		Front      bool   `json:"front"`
		Approved   bool   `json:"approved"`
		Image      string `json:"image"`
		Thumbnails struct {
			Large   string `json:"large"`
			Small   string `json:"small"`
			Res1200 string `json:"1200"`
		} `json:"thumbnails"`
	} `json:"images"`
}

// FetchAlbumCover returns the front cover for a release group. The archive
// serves full-size originals; the 1200px thumbnail is preferred when present
// because originals can run to tens of megabytes.
func (a *CoverArtArchiveAgent) FetchAlbumCover(ctx context.Context, q AlbumQuery) (*CoverArt, error) {
	if q.MusicBrainzID == "" {
		return nil, errors.Newf("cover art archive lookup requires a release-group identifier").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Context("album", q.Album).
			Build()
	}
	if !ValidMBID(q.MusicBrainzID) {
		return nil, errors.Newf("invalid release-group identifier: %s", q.MusicBrainzID).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Build()
	}

	url := fmt.Sprintf("%s/release-group/%s", a.baseURL, q.MusicBrainzID)
	start := time.Now()
	var resp caaResponse
	err := a.fetchJSON(ctx, url, nil, &resp)
	a.observe(CapabilityCoverArt, start, err)
	if err != nil {
		return nil, err
	}

	for _, img := range resp.Images {
		if !img.Front {
			continue
		}
		cover := &CoverArt{
			Source: a.name,
		}
		switch {
		case img.Thumbnails.Res1200 != "":
			cover.URL = img.Thumbnails.Res1200
			cover.Width, cover.Height = 1200, 1200
		case img.Thumbnails.Large != "":
			cover.URL = img.Thumbnails.Large
			cover.Width, cover.Height = 500, 500
		default:
			cover.URL = img.Image
		}
		return cover, nil
	}
	return nil, errors.Newf("no front cover for release group %s", q.MusicBrainzID).
		Component("metadata").
		Category(errors.CategoryNotFound).
		Context("source", a.name).
		Context("release_group", q.MusicBrainzID).
		Build()
}
