package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
)

const (
	lastFMName    = "lastfm"
	lastFMBaseURL = "https://ws.audioscrobbler.com/2.0/"

	// Last.fm appends a licensing link to every biography.
	lastFMLinkMarker = "<a href=\"https://www.last.fm"
)

// LastFMAgent fetches artist biographies and images from the Last.fm API.
// Biographies arrive as HTML fragments and are converted to plain text.
type LastFMAgent struct {
	baseAgent
	baseURL string
}

// NewLastFMAgent returns the Last.fm agent. It requires an API key.
func NewLastFMAgent(settings conf.AgentSettings, deps AgentDeps) *LastFMAgent {
	return &LastFMAgent{
		baseAgent: newBaseAgent(lastFMName, 5, settings, true, deps),
		baseURL:   lastFMBaseURL,
	}
}

func (a *LastFMAgent) Capabilities() []Capability {
	return []Capability{CapabilityBiography, CapabilityImages}
}

// FetchBiography returns the artist biography as plain text, with the
// trailing Last.fm licensing link removed.
func (a *LastFMAgent) FetchBiography(ctx context.Context, q ArtistQuery) (*Biography, error) {
	start := time.Now()
	root, err := a.getArtistInfo(ctx, q)
	a.observe(CapabilityBiography, start, err)
	if err != nil {
		return nil, err
	}
	content, err := root.GetString("artist", "bio", "content")
	if err != nil || strings.TrimSpace(content) == "" {
		return nil, a.notFound("no biography", q.Name)
	}
	text := cleanLastFMBio(content)
	if text == "" {
		return nil, a.notFound("no biography", q.Name)
	}
	return &Biography{
		Text:   text,
		Source: a.name,
	}, nil
}

// FetchArtistImages returns the largest artist image as the thumb slot.
// Last.fm carries no fanart or banner images.
func (a *LastFMAgent) FetchArtistImages(ctx context.Context, q ArtistQuery) (*ArtistImages, error) {
	start := time.Now()
	root, err := a.getArtistInfo(ctx, q)
	a.observe(CapabilityImages, start, err)
	if err != nil {
		return nil, err
	}
	imgs, err := root.GetObjectArray("artist", "image")
	if err != nil || len(imgs) == 0 {
		return nil, a.notFound("no artist images", q.Name)
	}
	// Entries are ordered small to large; take the last non-empty URL.
	var best string
	for _, img := range imgs {
		if u, err := img.GetString("#text"); err == nil && u != "" {
			best = u
		}
	}
	if best == "" {
		return nil, a.notFound("no artist images", q.Name)
	}
	return &ArtistImages{
		ThumbURL: best,
		Source:   a.name,
	}, nil
}

func (a *LastFMAgent) getArtistInfo(ctx context.Context, q ArtistQuery) (*jason.Object, error) {
	params := url.Values{}
	params.Set("method", "artist.getinfo")
	params.Set("api_key", a.settings.APIKey)
	params.Set("format", "json")
	params.Set("autocorrect", "1")
	switch {
	case q.MusicBrainzID != "" && ValidMBID(q.MusicBrainzID):
		params.Set("mbid", q.MusicBrainzID)
	case strings.TrimSpace(q.Name) != "":
		params.Set("artist", q.Name)
	default:
		return nil, errors.Newf("artist lookup requires a name or identifier").
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("source", a.name).
			Build()
	}

	reqURL := fmt.Sprintf("%s?%s", a.baseURL, params.Encode())
	body, err := a.fetchBody(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, errors.Newf("failed to parse %s response: %w", a.name, err).
			Component("metadata").
			Category(errors.CategoryMetadataProvider).
			Context("source", a.name).
			Build()
	}
	// API errors come back as 200 with an error envelope.
	if code, err := root.GetInt64("error"); err == nil {
		msg, _ := root.GetString("message")
		category := errors.CategoryMetadataProvider
		switch code {
		case 6: // artist not found
			category = errors.CategoryNotFound
		case 10, 26: // invalid or suspended API key
			category = errors.CategoryConfiguration
		case 29: // rate limit exceeded
			category = errors.CategoryLimit
		}
		return nil, errors.Newf("last.fm error %d: %s", code, msg).
			Component("metadata").
			Category(category).
			Context("source", a.name).
			Context("api_error_code", code).
			Build()
	}
	return root, nil
}

// cleanLastFMBio strips the licensing link and converts the HTML fragment to
// plain text.
func cleanLastFMBio(content string) string {
	if idx := strings.Index(content, lastFMLinkMarker); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(html2text.HTML2Text(content))
}

func (a *LastFMAgent) notFound(what, name string) error {
	return errors.Newf("%s for %q", what, name).
		Component("metadata").
		Category(errors.CategoryNotFound).
		Context("source", a.name).
		Build()
}
