// Package metadata implements the enrichment pipeline for the music library:
// the capability-based source registry, per-source rate limiting, the response
// and search caches, the external source agents, the enrichment orchestrator
// and the identifier resolution engine.
package metadata

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/echo-music/echo-server/internal/logging"
)

// Package-level logger specific to the metadata service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "metadata.log")
	initialLevel := slog.LevelInfo
	serviceLevelVar.Set(initialLevel)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "metadata", serviceLevelVar)
	if err != nil {
		// Fallback: disable service logging rather than failing startup
		log.Printf("Failed to initialize metadata file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "metadata")
		closeLogger = func() error { return nil }
	}
}

// SetLogLevel adjusts the metadata service log level at runtime.
func SetLogLevel(level slog.Level) {
	serviceLevelVar.Set(level)
}

// CloseLogger releases the metadata log writer.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// Capability is a typed ability an agent may support.
type Capability string

const (
	CapabilityBiography        Capability = "biography"
	CapabilityImages           Capability = "images"
	CapabilityCoverArt         Capability = "cover-art"
	CapabilityIdentifierSearch Capability = "identifier-search"
)

// Agent is an adapter to one external metadata provider. The capability set is
// the source of truth for what an agent supports; the typed fetch interfaces
// below are asserted only after filtering by capability.
type Agent interface {
	Name() string
	Priority() int
	Enabled() bool
	Capabilities() []Capability
}

// HasCapability reports whether the agent advertises the given capability.
func HasCapability(a Agent, c Capability) bool {
	for _, have := range a.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

// ArtistQuery identifies an artist for biography and image lookups.
type ArtistQuery struct {
	Name          string
	MusicBrainzID string
}

// AlbumQuery identifies an album for cover lookups. Sources key by name or by
// identifier; both are carried so each agent can use what it needs.
type AlbumQuery struct {
	Artist        string
	Album         string
	MusicBrainzID string // release-group MBID
	ArtistMBID    string
}

// RecordingQuery identifies a track for identifier search. Duration and
// position are passed through to the search source as scoring inputs.
type RecordingQuery struct {
	Artist     string
	Title      string
	DurationMS int
	Position   int
}

// Biography is a provider's biography result. TTLDays of zero means the
// configured default applies.
type Biography struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	TTLDays int    `json:"ttlDays,omitempty"`
}

// ArtistImages carries the image URL slots a provider returned. Empty slots
// stay empty; the orchestrator merges slots across providers.
type ArtistImages struct {
	ThumbURL      string `json:"thumbUrl,omitempty"`
	BackgroundURL string `json:"backgroundUrl,omitempty"`
	BannerURL     string `json:"bannerUrl,omitempty"`
	Source        string `json:"source"`
	TTLDays       int    `json:"ttlDays,omitempty"`
}

// Complete reports whether every image slot is filled.
func (a *ArtistImages) Complete() bool {
	return a.ThumbURL != "" && a.BackgroundURL != "" && a.BannerURL != ""
}

// Empty reports whether no image slot is filled.
func (a *ArtistImages) Empty() bool {
	return a.ThumbURL == "" && a.BackgroundURL == "" && a.BannerURL == ""
}

// Merge fills still-empty slots of a from b. Slots already filled keep their
// value, so earlier (higher priority) sources win per slot.
func (a *ArtistImages) Merge(b *ArtistImages) {
	if b == nil {
		return
	}
	if a.ThumbURL == "" {
		a.ThumbURL = b.ThumbURL
	}
	if a.BackgroundURL == "" {
		a.BackgroundURL = b.BackgroundURL
	}
	if a.BannerURL == "" {
		a.BannerURL = b.BannerURL
	}
}

// CoverArt is a provider's album cover result.
type CoverArt struct {
	URL     string `json:"url"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Source  string `json:"source"`
	TTLDays int    `json:"ttlDays,omitempty"`
}

// Match is one scored identifier-search result. Score is 0-100.
type Match struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Artist string            `json:"artist,omitempty"`
	Score  int               `json:"score"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// BiographyFetcher is implemented by agents advertising CapabilityBiography.
type BiographyFetcher interface {
	FetchBiography(ctx context.Context, q ArtistQuery) (*Biography, error)
}

// ImageFetcher is implemented by agents advertising CapabilityImages.
type ImageFetcher interface {
	FetchArtistImages(ctx context.Context, q ArtistQuery) (*ArtistImages, error)
}

// CoverFetcher is implemented by agents advertising CapabilityCoverArt.
type CoverFetcher interface {
	FetchAlbumCover(ctx context.Context, q AlbumQuery) (*CoverArt, error)
}

// IdentifierSearcher is implemented by agents advertising
// CapabilityIdentifierSearch.
type IdentifierSearcher interface {
	SearchArtist(ctx context.Context, name string) ([]Match, error)
	SearchAlbum(ctx context.Context, artist, album string) ([]Match, error)
	SearchRecording(ctx context.Context, q RecordingQuery) ([]Match, error)
}
