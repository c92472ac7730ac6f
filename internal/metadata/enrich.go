package metadata

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// Field groups reported in EnrichmentResult.UpdatedFields.
const (
	FieldBiography = "biography"
	FieldImages    = "images"
	FieldCover     = "cover"
)

// EnrichmentResult summarizes one enrichment pass. Errors holds per-agent
// failure messages that were logged and swallowed, never raised.
type EnrichmentResult struct {
	EntityType    string
	EntityID      uint
	UpdatedFields []string
	Errors        []string
}

// CoverDownloader persists a remote cover image for an album and returns the
// stored file path.
type CoverDownloader interface {
	DownloadCover(ctx context.Context, albumID uint, url string) (string, error)
}

// CoverConflictSink receives cover suggestions for albums that already have
// artwork, instead of overwriting it.
type CoverConflictSink interface {
	SuggestCover(ctx context.Context, albumID uint, current string, suggested *CoverArt) error
}

// Enricher orchestrates metadata enrichment across the registered agents.
// Per-agent failures degrade the result but never abort it.
type Enricher struct {
	store    datastore.Interface
	registry *Registry
	cache    *ResponseCache
	covers   CoverDownloader   // optional, nil records URLs only
	sink     CoverConflictSink // optional, nil skips conflicting covers
	metrics  *metrics.EnrichmentMetrics
	settings conf.EnrichmentSettings
}

// NewEnricher wires the enrichment orchestrator. covers and sink may be nil.
func NewEnricher(store datastore.Interface, registry *Registry, cache *ResponseCache,
	covers CoverDownloader, sink CoverConflictSink,
	m *metrics.EnrichmentMetrics, settings conf.EnrichmentSettings) *Enricher {
	return &Enricher{
		store:    store,
		registry: registry,
		cache:    cache,
		covers:   covers,
		sink:     sink,
		metrics:  m,
		settings: settings,
	}
}

// EnrichArtist fills the artist's biography and image slots from the enabled
// sources. Populated fields are skipped unless forceRefresh is set.
func (e *Enricher) EnrichArtist(ctx context.Context, artistID uint, forceRefresh bool) (*EnrichmentResult, error) {
	artist, err := e.store.GetArtist(artistID)
	if err != nil {
		return nil, err
	}

	result := &EnrichmentResult{EntityType: datastore.EntityArtist, EntityID: artistID}
	changed := make(map[string]any)

	e.enrichBiography(ctx, artist, forceRefresh, changed, result)
	e.enrichImages(ctx, artist, forceRefresh, changed, result)

	if len(changed) > 0 {
		if err := e.store.UpdateArtist(artistID, changed); err != nil {
			return nil, err
		}
	}
	logger.Info("artist enrichment finished",
		"artist_id", artistID,
		"artist", artist.Name,
		"updated", result.UpdatedFields,
		"errors", len(result.Errors),
		"force_refresh", forceRefresh)
	return result, nil
}

func (e *Enricher) enrichBiography(ctx context.Context, artist *datastore.Artist, force bool, changed map[string]any, result *EnrichmentResult) {
	if artist.Biography != "" && !force {
		return
	}
	q := ArtistQuery{Name: artist.Name, MusicBrainzID: artist.MusicBrainzID}

	for _, agent := range e.registry.WithCapability(CapabilityBiography) {
		fetcher, ok := agent.(BiographyFetcher)
		if !ok {
			continue
		}
		var bio Biography
		if !force && e.cache.Get(datastore.EntityArtist, artist.ID, cacheSource(agent, CapabilityBiography), &bio) {
			if bio.Text != "" {
				applyBiography(&bio, changed, result)
				return
			}
			continue
		}
		fetched, err := fetcher.FetchBiography(ctx, q)
		if err != nil {
			e.recordAgentFailure(result, agent.Name(), string(CapabilityBiography), artist.ID, err)
			continue
		}
		if fetched == nil || fetched.Text == "" {
			continue
		}
		if err := e.cache.Save(datastore.EntityArtist, artist.ID, cacheSource(agent, CapabilityBiography), fetched, fetched.TTLDays); err != nil {
			logger.Warn("biography cache write failed", "source", agent.Name(), "artist_id", artist.ID, "error", err)
		}
		applyBiography(fetched, changed, result)
		return
	}
}

func applyBiography(bio *Biography, changed map[string]any, result *EnrichmentResult) {
	changed["biography"] = bio.Text
	changed["biography_source"] = bio.Source
	result.UpdatedFields = append(result.UpdatedFields, FieldBiography)
}

func (e *Enricher) enrichImages(ctx context.Context, artist *datastore.Artist, force bool, changed map[string]any, result *EnrichmentResult) {
	accumulated := &ArtistImages{}
	if !force {
		// Existing slots stay authoritative, agents only fill gaps
		accumulated.ThumbURL = artist.ThumbURL
		accumulated.BackgroundURL = artist.BackgroundURL
		accumulated.BannerURL = artist.BannerURL
	}
	if accumulated.Complete() {
		return
	}
	q := ArtistQuery{Name: artist.Name, MusicBrainzID: artist.MusicBrainzID}

	for _, agent := range e.registry.WithCapability(CapabilityImages) {
		fetcher, ok := agent.(ImageFetcher)
		if !ok {
			continue
		}
		var imgs ArtistImages
		if !force && e.cache.Get(datastore.EntityArtist, artist.ID, cacheSource(agent, CapabilityImages), &imgs) {
			accumulated.Merge(&imgs)
		} else {
			fetched, err := fetcher.FetchArtistImages(ctx, q)
			if err != nil {
				e.recordAgentFailure(result, agent.Name(), string(CapabilityImages), artist.ID, err)
				continue
			}
			if fetched == nil || fetched.Empty() {
				continue
			}
			if err := e.cache.Save(datastore.EntityArtist, artist.ID, cacheSource(agent, CapabilityImages), fetched, fetched.TTLDays); err != nil {
				logger.Warn("image cache write failed", "source", agent.Name(), "artist_id", artist.ID, "error", err)
			}
			accumulated.Merge(fetched)
		}
		if accumulated.Complete() {
			break
		}
	}

	// A source returning nothing is "no result", never an instruction to
	// blank a stored slot
	updated := false
	if accumulated.ThumbURL != "" && accumulated.ThumbURL != artist.ThumbURL {
		changed["thumb_url"] = accumulated.ThumbURL
		updated = true
	}
	if accumulated.BackgroundURL != "" && accumulated.BackgroundURL != artist.BackgroundURL {
		changed["background_url"] = accumulated.BackgroundURL
		updated = true
	}
	if accumulated.BannerURL != "" && accumulated.BannerURL != artist.BannerURL {
		changed["banner_url"] = accumulated.BannerURL
		updated = true
	}
	if updated {
		result.UpdatedFields = append(result.UpdatedFields, FieldImages)
	}
}

// EnrichAlbum fetches a cover for the album. When the album already has
// artwork and a differing suggestion arrives, the suggestion is routed to the
// conflict sink instead of overwriting.
func (e *Enricher) EnrichAlbum(ctx context.Context, albumID uint, forceRefresh bool) (*EnrichmentResult, error) {
	album, err := e.store.GetAlbum(albumID)
	if err != nil {
		return nil, err
	}
	artist, err := e.store.GetArtist(album.ArtistID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	result := &EnrichmentResult{EntityType: datastore.EntityAlbum, EntityID: albumID}
	hasCover := album.CoverPath != "" || album.ExternalCoverPath != ""
	if hasCover && !forceRefresh && album.ExternalCoverURL != "" {
		return result, nil
	}

	q := AlbumQuery{
		Album:         album.Name,
		MusicBrainzID: album.MusicBrainzID,
	}
	if artist != nil {
		q.Artist = artist.Name
		q.ArtistMBID = artist.MusicBrainzID
	}

	cover := e.fetchCover(ctx, album.ID, q, forceRefresh, result)
	if cover == nil {
		return result, nil
	}

	if hasCover && album.ExternalCoverURL != cover.URL {
		// Existing artwork is never silently replaced
		if e.sink != nil {
			current := album.ExternalCoverURL
			if current == "" {
				current = album.CoverPath
			}
			if err := e.sink.SuggestCover(ctx, album.ID, current, cover); err != nil {
				logger.Warn("cover conflict creation failed", "album_id", album.ID, "error", err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cover.Source, err))
			}
		}
		return result, nil
	}

	changed := make(map[string]any)
	if album.ExternalCoverURL != cover.URL {
		changed["external_cover_url"] = cover.URL
	}
	if e.covers != nil {
		path, err := e.covers.DownloadCover(ctx, album.ID, cover.URL)
		switch {
		case err != nil:
			// Download failure blocks the file but not the URL record
			logger.Warn("cover download failed", "album_id", album.ID, "url", cover.URL, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", cover.Source, err))
		case path != album.ExternalCoverPath:
			changed["external_cover_path"] = path
		}
	}
	if len(changed) > 0 {
		if err := e.store.UpdateAlbum(albumID, changed); err != nil {
			return nil, err
		}
		result.UpdatedFields = append(result.UpdatedFields, FieldCover)
	}
	return result, nil
}

func (e *Enricher) fetchCover(ctx context.Context, albumID uint, q AlbumQuery, force bool, result *EnrichmentResult) *CoverArt {
	for _, agent := range e.registry.WithCapability(CapabilityCoverArt) {
		fetcher, ok := agent.(CoverFetcher)
		if !ok {
			continue
		}
		var cover CoverArt
		if !force && e.cache.Get(datastore.EntityAlbum, albumID, cacheSource(agent, CapabilityCoverArt), &cover) {
			if cover.URL != "" {
				return &cover
			}
			continue
		}
		fetched, err := fetcher.FetchAlbumCover(ctx, q)
		if err != nil {
			// Agents that cannot serve this album (no identifier) are an
			// expected skip, not a failure worth surfacing
			if errors.IsValidation(err) || errors.IsNotFound(err) {
				logger.Debug("cover source skipped", "source", agent.Name(), "album_id", albumID, "reason", err.Error())
				continue
			}
			e.recordAgentFailure(result, agent.Name(), string(CapabilityCoverArt), albumID, err)
			continue
		}
		if fetched == nil || fetched.URL == "" {
			continue
		}
		if err := e.cache.Save(datastore.EntityAlbum, albumID, cacheSource(agent, CapabilityCoverArt), fetched, fetched.TTLDays); err != nil {
			logger.Warn("cover cache write failed", "source", agent.Name(), "album_id", albumID, "error", err)
		}
		return fetched
	}
	return nil
}

// EnrichAllArtists enriches every artist with bounded concurrency. Individual
// artist failures are collected, not fatal.
func (e *Enricher) EnrichAllArtists(ctx context.Context, forceRefresh bool) ([]EnrichmentResult, error) {
	artists, err := e.store.GetAllArtists()
	if err != nil {
		return nil, err
	}
	concurrency := e.settings.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]EnrichmentResult, len(artists))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range artists {
		i := i
		g.Go(func() error {
			res, err := e.EnrichArtist(gctx, artists[i].ID, forceRefresh)
			if err != nil {
				results[i] = EnrichmentResult{
					EntityType: datastore.EntityArtist,
					EntityID:   artists[i].ID,
					Errors:     []string{err.Error()},
				}
				logger.Error("artist enrichment failed", "artist_id", artists[i].ID, "error", err)
				return nil
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Enricher) recordAgentFailure(result *EnrichmentResult, source, capability string, entityID uint, err error) {
	logger.Warn("agent call failed",
		"source", source,
		"capability", capability,
		"entity_id", entityID,
		"error", err)
	result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", source, capability, err))
}

// cacheSource namespaces response cache rows per capability so one source's
// biography and image payloads do not collide.
func cacheSource(agent Agent, c Capability) string {
	return agent.Name() + ":" + string(c)
}
