// Package pipeline assembles the enrichment stack from settings: datastore,
// HTTP client, rate limiter, source registry, caches, conflict ledger,
// artwork resolver and the orchestrators on top of them. Commands build one
// Pipeline, use the pieces they need and Close it on the way out.
package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/echo-music/echo-server/internal/artwork"
	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/conflict"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/filestore"
	"github.com/echo-music/echo-server/internal/httpclient"
	"github.com/echo-music/echo-server/internal/metadata"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// defaultAgentInterval paces sources that carry no explicit rate limit.
const defaultAgentInterval = 500 * time.Millisecond

// Pipeline holds the wired components of the enrichment stack.
type Pipeline struct {
	Settings *conf.Settings
	Store    datastore.Interface
	Registry *metadata.Registry
	Enricher *metadata.Enricher
	Resolver *metadata.Resolver
	Ledger   *conflict.Ledger
	Artwork  *artwork.Resolver
	Files    *filestore.Store

	ResponseCache *metadata.ResponseCache
	SearchCache   *metadata.SearchCache
	Metrics       *metrics.EnrichmentMetrics

	http *httpclient.Client
}

// New builds the full pipeline from settings and opens the datastore.
func New(settings *conf.Settings) (*Pipeline, error) {
	store, err := datastore.New(settings)
	if err != nil {
		return nil, err
	}
	if err := store.Open(); err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	m, err := metrics.NewEnrichmentMetrics(promRegistry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := httpclient.New(nil)
	limiter := metadata.NewRateLimiter(defaultAgentInterval)
	deps := metadata.AgentDeps{HTTP: client, Limiter: limiter, Metrics: m}

	registry := metadata.NewRegistry()
	agents := []metadata.Agent{
		metadata.NewMusicBrainzAgent(settings.Enrichment.MusicBrainz, deps),
		metadata.NewCoverArtArchiveAgent(settings.Enrichment.CoverArtArchive, deps),
		metadata.NewFanartTVAgent(settings.Enrichment.FanartTV, deps),
		metadata.NewTheAudioDBAgent(settings.Enrichment.TheAudioDB, deps),
		metadata.NewLastFMAgent(settings.Enrichment.LastFM, deps),
	}
	for _, agent := range agents {
		if err := registry.Register(agent); err != nil {
			client.Close()
			_ = store.Close()
			return nil, err
		}
	}

	files, err := filestore.New(settings.Library.MetadataPath, client)
	if err != nil {
		client.Close()
		_ = store.Close()
		return nil, err
	}

	art := artwork.NewResolver(store, files,
		settings.Library.MetadataPath, settings.Artwork.DefaultCoverPath,
		settings.Artwork.ResultCacheTTL)
	ledger := conflict.NewLedger(store, files, art, m)

	responseCache := metadata.NewResponseCache(store,
		daysToTTL(settings.Enrichment.Cache.MetadataTTLDays, conf.DefaultMetadataTTLDays), m)
	searchCache := metadata.NewSearchCache(store,
		daysToTTL(settings.Enrichment.Cache.SearchTTLDays, conf.DefaultSearchTTLDays), m)

	return &Pipeline{
		Settings:      settings,
		Store:         store,
		Registry:      registry,
		Enricher:      metadata.NewEnricher(store, registry, responseCache, files, ledger, m, settings.Enrichment),
		Resolver:      metadata.NewResolver(store, registry, searchCache, ledger, m, settings.Enrichment.AutoSearch),
		Ledger:        ledger,
		Artwork:       art,
		Files:         files,
		ResponseCache: responseCache,
		SearchCache:   searchCache,
		Metrics:       m,
		http:          client,
	}, nil
}

// Close releases the datastore connection and idle HTTP connections.
func (p *Pipeline) Close() error {
	p.http.Close()
	return p.Store.Close()
}

func daysToTTL(days, fallback int) time.Duration {
	if days <= 0 {
		days = fallback
	}
	return time.Duration(days) * 24 * time.Hour
}
