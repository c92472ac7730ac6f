package metadata

import (
	"context"
	"fmt"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

// Actions a resolution pass can take.
const (
	ActionAutoApplied     = "auto-applied"
	ActionConflictCreated = "conflict-created"
	ActionIgnored         = "ignored"
	ActionDisabled        = "disabled"
	ActionNoResults       = "no-results"
	ActionAlreadyResolved = "already-resolved"
)

const (
	searchStoreLimit = 10 // raw matches kept in the search cache
	suggestionLimit  = 5  // matches carried into outcomes and conflicts
)

// ResolveOutcome reports what a resolution pass saw and did. It is returned
// on every branch, including the ones with no side effect.
type ResolveOutcome struct {
	TopMatch    *Match  `json:"topMatch,omitempty"`
	Suggestions []Match `json:"suggestions,omitempty"`
	Action      string  `json:"action"`
	Reason      string  `json:"reason"`
}

// IdentifierConflictSink receives mid-confidence identifier suggestions for
// manual review.
type IdentifierConflictSink interface {
	SuggestIdentifier(ctx context.Context, entityType string, entityID uint, current string, suggestions []Match) error
}

// Resolver assigns canonical external identifiers to entities that lack one,
// using the authoritative search source behind the search cache. It is off by
// default because it performs writes and third-party calls.
type Resolver struct {
	store    datastore.Interface
	registry *Registry
	cache    *SearchCache
	sink     IdentifierConflictSink // optional
	metrics  *metrics.EnrichmentMetrics
	settings conf.AutoSearchSettings
}

// NewResolver wires the identifier resolution engine. sink may be nil, which
// turns the create-conflict branch into a no-op record.
func NewResolver(store datastore.Interface, registry *Registry, cache *SearchCache,
	sink IdentifierConflictSink, m *metrics.EnrichmentMetrics, settings conf.AutoSearchSettings) *Resolver {
	if settings.ConfidenceThreshold <= 0 || settings.ConfidenceThreshold > 100 {
		settings.ConfidenceThreshold = conf.DefaultConfidenceThreshold
	}
	if settings.ConflictFloor <= 0 || settings.ConflictFloor > settings.ConfidenceThreshold {
		settings.ConflictFloor = conf.DefaultConflictFloor
	}
	return &Resolver{
		store:    store,
		registry: registry,
		cache:    cache,
		sink:     sink,
		metrics:  m,
		settings: settings,
	}
}

// ResolveArtist resolves the artist's canonical identifier.
func (r *Resolver) ResolveArtist(ctx context.Context, artistID uint) (*ResolveOutcome, error) {
	artist, err := r.store.GetArtist(artistID)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, datastore.EntityArtist, artistID, artist.MusicBrainzID,
		func(s IdentifierSearcher) ([]Match, error) {
			if cached := r.cache.Get(artist.Name, QueryArtist, nil); cached != nil {
				return cached, nil
			}
			matches, err := s.SearchArtist(ctx, artist.Name)
			if err != nil {
				return nil, err
			}
			r.saveMatches(artist.Name, QueryArtist, nil, matches)
			return matches, nil
		},
		func(id string) error {
			return r.store.UpdateArtist(artistID, map[string]any{"music_brainz_id": id})
		})
}

// ResolveAlbum resolves the album's release-group identifier.
func (r *Resolver) ResolveAlbum(ctx context.Context, albumID uint) (*ResolveOutcome, error) {
	album, err := r.store.GetAlbum(albumID)
	if err != nil {
		return nil, err
	}
	var artistName string
	if artist, err := r.store.GetArtist(album.ArtistID); err == nil {
		artistName = artist.Name
	}
	queryText := artistName + " " + album.Name
	params := map[string]string{"artist": NormalizeQuery(artistName)}

	return r.resolve(ctx, datastore.EntityAlbum, albumID, album.MusicBrainzID,
		func(s IdentifierSearcher) ([]Match, error) {
			if cached := r.cache.Get(queryText, QueryAlbum, params); cached != nil {
				return cached, nil
			}
			matches, err := s.SearchAlbum(ctx, artistName, album.Name)
			if err != nil {
				return nil, err
			}
			r.saveMatches(queryText, QueryAlbum, params, matches)
			return matches, nil
		},
		func(id string) error {
			return r.store.UpdateAlbum(albumID, map[string]any{"music_brainz_id": id})
		})
}

// ResolveTrack resolves the track's recording identifier. Duration and track
// position are forwarded to the search source as scoring inputs.
func (r *Resolver) ResolveTrack(ctx context.Context, trackID uint) (*ResolveOutcome, error) {
	track, err := r.store.GetTrack(trackID)
	if err != nil {
		return nil, err
	}
	var artistName string
	if artist, err := r.store.GetArtist(track.ArtistID); err == nil {
		artistName = artist.Name
	}
	q := RecordingQuery{
		Artist:     artistName,
		Title:      track.Title,
		DurationMS: track.DurationMS,
		Position:   track.TrackNumber,
	}
	queryText := artistName + " " + track.Title
	params := recordingParams(q)

	return r.resolve(ctx, datastore.EntityTrack, trackID, track.MusicBrainzID,
		func(s IdentifierSearcher) ([]Match, error) {
			if cached := r.cache.Get(queryText, QueryRecording, params); cached != nil {
				return cached, nil
			}
			matches, err := s.SearchRecording(ctx, q)
			if err != nil {
				return nil, err
			}
			r.saveMatches(queryText, QueryRecording, params, matches)
			return matches, nil
		},
		func(id string) error {
			return r.store.UpdateTrack(trackID, map[string]any{"music_brainz_id": id})
		})
}

// resolve runs the shared three-way decision policy.
func (r *Resolver) resolve(ctx context.Context, entityType string, entityID uint, currentID string,
	search func(IdentifierSearcher) ([]Match, error), apply func(id string) error) (*ResolveOutcome, error) {

	if !r.settings.Enabled {
		return r.outcome(entityType, &ResolveOutcome{
			Action: ActionDisabled,
			Reason: "automatic identifier search is disabled",
		}), nil
	}

	// The engine only assigns identifiers to entities missing one; replacing
	// an identifier is an explicit review decision, never a search side effect
	if currentID != "" {
		return r.outcome(entityType, &ResolveOutcome{
			Action: ActionAlreadyResolved,
			Reason: "entity already has an identifier",
		}), nil
	}

	searcher := r.registry.Searcher()
	if searcher == nil {
		return r.outcome(entityType, &ResolveOutcome{
			Action: ActionDisabled,
			Reason: "no identifier search source is enabled",
		}), nil
	}

	matches, err := search(searcher)
	if err != nil {
		// Source failures are logged, never propagated past this boundary
		logger.Warn("identifier search failed",
			"entity_type", entityType, "entity_id", entityID, "error", err)
		return r.outcome(entityType, &ResolveOutcome{
			Action: ActionNoResults,
			Reason: fmt.Sprintf("search failed: %v", err),
		}), nil
	}
	if len(matches) == 0 {
		return r.outcome(entityType, &ResolveOutcome{
			Action: ActionNoResults,
			Reason: "search returned no matches",
		}), nil
	}

	suggestions := matches
	if len(suggestions) > suggestionLimit {
		suggestions = suggestions[:suggestionLimit]
	}
	top := suggestions[0]
	outcome := &ResolveOutcome{
		TopMatch:    &top,
		Suggestions: suggestions,
	}

	threshold := r.settings.ConfidenceThreshold
	switch {
	case top.Score >= threshold:
		if err := apply(top.ID); err != nil {
			return nil, err
		}
		outcome.Action = ActionAutoApplied
		outcome.Reason = fmt.Sprintf("score %d meets threshold %d", top.Score, threshold)

	case top.Score >= r.settings.ConflictFloor:
		outcome.Action = ActionConflictCreated
		outcome.Reason = fmt.Sprintf("score %d below threshold %d, queued for review", top.Score, threshold)
		if !r.settings.CreateConflicts || r.sink == nil {
			outcome.Action = ActionIgnored
			outcome.Reason = fmt.Sprintf("score %d below threshold %d, conflict creation disabled", top.Score, threshold)
			break
		}
		if err := r.sink.SuggestIdentifier(ctx, entityType, entityID, currentID, suggestions); err != nil {
			if errors.IsValidation(err) {
				// An equivalent pending conflict already exists
				outcome.Reason = fmt.Sprintf("score %d below threshold %d, review already pending", top.Score, threshold)
				break
			}
			return nil, err
		}

	default:
		outcome.Action = ActionIgnored
		outcome.Reason = fmt.Sprintf("score %d below floor %d", top.Score, r.settings.ConflictFloor)
	}
	return r.outcome(entityType, outcome), nil
}

func (r *Resolver) saveMatches(queryText, queryType string, params map[string]string, matches []Match) {
	stored := matches
	if len(stored) > searchStoreLimit {
		stored = stored[:searchStoreLimit]
	}
	if err := r.cache.Save(queryText, queryType, params, stored); err != nil {
		logger.Warn("search cache write failed", "query", queryText, "type", queryType, "error", err)
	}
}

func (r *Resolver) outcome(entityType string, o *ResolveOutcome) *ResolveOutcome {
	if r.metrics != nil {
		r.metrics.RecordResolveAction(entityType, o.Action)
	}
	logger.Debug("identifier resolution outcome",
		"entity_type", entityType, "action", o.Action, "reason", o.Reason)
	return o
}
