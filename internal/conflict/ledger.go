// Package conflict implements the metadata conflict ledger: proposed field
// changes awaiting manual accept, reject or ignore.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/logging"
	"github.com/echo-music/echo-server/internal/metadata"
	"github.com/echo-music/echo-server/internal/observability/metrics"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "conflict.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "conflict", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize conflict file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "conflict")
		closeLogger = func() error { return nil }
	}
}

// Conflict fields the ledger knows how to apply.
const (
	FieldBiography     = "biography"
	FieldThumbURL      = "thumbUrl"
	FieldBackgroundURL = "backgroundUrl"
	FieldBannerURL     = "bannerUrl"
	FieldYear          = "year"
	FieldMusicBrainzID = "musicBrainzId"
	FieldCover         = "cover"
	FieldExternalCover = "externalCover"
)

// Sources whose suggestions default to HIGH priority.
var authoritativeSources = map[string]bool{
	"musicbrainz":     true,
	"coverartarchive": true,
}

// Data describes a proposed change handed to Create.
type Data struct {
	EntityType     string
	EntityID       uint
	Field          string
	CurrentValue   string
	SuggestedValue string
	Source         string
	Priority       string            // empty defaults by source authority
	Metadata       map[string]string // carried opaquely; "resolution" drives cover dedup
}

// Downloader persists a remote cover image and returns the stored path.
// Satisfied by the filestore.
type Downloader interface {
	DownloadCover(ctx context.Context, albumID uint, url string) (string, error)
}

// Invalidator drops cached image resolutions after an accepted change.
// Satisfied by the artwork resolver.
type Invalidator interface {
	Invalidate(entityKind string, entityID uint, imageType string)
}

// Ledger stores and resolves metadata conflicts.
type Ledger struct {
	store       datastore.Interface
	downloader  Downloader  // optional, nil records cover URLs without files
	invalidator Invalidator // optional
	metrics     *metrics.EnrichmentMetrics
}

// NewLedger wires the conflict ledger. downloader and invalidator may be nil.
func NewLedger(store datastore.Interface, downloader Downloader, invalidator Invalidator, m *metrics.EnrichmentMetrics) *Ledger {
	return &Ledger{
		store:       store,
		downloader:  downloader,
		invalidator: invalidator,
		metrics:     m,
	}
}

// HasConflict reports whether two values actually disagree. Filling an empty
// value is not a conflict, nor is suggesting the current value again.
func HasConflict(current, suggested string) bool {
	return current != "" && suggested != "" && current != suggested
}

// isCoverField reports whether the field uses resolution-based dedup.
func isCoverField(field string) bool {
	return field == FieldCover || field == FieldExternalCover
}

// parseResolutionPixels converts a "widthxheight" string to a pixel count.
// Returns 0 for anything unparseable so unknown resolutions never win.
func parseResolutionPixels(res string) int64 {
	res = strings.ToLower(strings.TrimSpace(res))
	res = strings.ReplaceAll(res, "×", "x")
	w, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0
	}
	width, err := strconv.ParseInt(strings.TrimSpace(w), 10, 64)
	if err != nil || width <= 0 {
		return 0
	}
	height, err := strconv.ParseInt(strings.TrimSpace(h), 10, 64)
	if err != nil || height <= 0 {
		return 0
	}
	return width * height
}

// Create records a proposed change. Duplicate pending conflicts are folded:
// non-cover fields reuse the existing row for the same (entity, field,
// source); cover fields keep a single pending row per (entity, field) and
// only a strictly higher-resolution suggestion replaces it.
func (l *Ledger) Create(data Data) (*datastore.MetadataConflict, error) {
	if data.EntityType == "" || data.EntityID == 0 || data.Field == "" {
		return nil, errors.Newf("conflict requires entity type, entity id and field").
			Component("conflict").
			Category(errors.CategoryValidation).
			Build()
	}
	if !HasConflict(data.CurrentValue, data.SuggestedValue) && data.CurrentValue != "" {
		return nil, errors.Newf("values do not conflict").
			Component("conflict").
			Category(errors.CategoryValidation).
			EntityContext(data.EntityType, data.EntityID).
			Build()
	}

	if isCoverField(data.Field) {
		return l.createCoverConflict(data)
	}

	existing, err := l.store.FindPendingConflict(data.EntityType, data.EntityID, data.Field, data.Source)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Debug("pending conflict reused",
			"conflict_id", existing.ID,
			"entity_type", data.EntityType,
			"entity_id", data.EntityID,
			"field", data.Field,
			"source", data.Source)
		return existing, nil
	}
	return l.insert(data)
}

func (l *Ledger) createCoverConflict(data Data) (*datastore.MetadataConflict, error) {
	existing, err := l.store.FindPendingFieldConflict(data.EntityType, data.EntityID, data.Field)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return l.insert(data)
	}

	newPixels := parseResolutionPixels(data.Metadata["resolution"])
	existingPixels := parseResolutionPixels(metadataValue(existing.Metadata, "resolution"))
	if newPixels <= existingPixels {
		logger.Debug("cover suggestion discarded, not an upgrade",
			"conflict_id", existing.ID,
			"entity_id", data.EntityID,
			"existing_pixels", existingPixels,
			"new_pixels", newPixels,
			"source", data.Source)
		return existing, nil
	}

	existing.SuggestedValue = data.SuggestedValue
	existing.Source = data.Source
	existing.Priority = l.priorityFor(data)
	existing.Metadata = encodeMetadata(data.Metadata)
	if err := l.store.UpdateConflict(existing); err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordConflictResolved("upgraded")
	}
	logger.Info("cover conflict upgraded",
		"conflict_id", existing.ID,
		"entity_id", data.EntityID,
		"source", data.Source,
		"pixels", newPixels)
	return existing, nil
}

func (l *Ledger) insert(data Data) (*datastore.MetadataConflict, error) {
	row := &datastore.MetadataConflict{
		EntityType:     data.EntityType,
		EntityID:       data.EntityID,
		Field:          data.Field,
		CurrentValue:   data.CurrentValue,
		SuggestedValue: data.SuggestedValue,
		Source:         data.Source,
		Priority:       l.priorityFor(data),
		Status:         datastore.ConflictPending,
		Metadata:       encodeMetadata(data.Metadata),
	}
	if err := l.store.InsertConflict(row); err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.RecordConflictCreated()
	}
	logger.Info("conflict created",
		"conflict_id", row.ID,
		"entity_type", row.EntityType,
		"entity_id", row.EntityID,
		"field", row.Field,
		"source", row.Source,
		"priority", row.Priority)
	return row, nil
}

func (l *Ledger) priorityFor(data Data) string {
	if data.Priority != "" {
		return data.Priority
	}
	if authoritativeSources[data.Source] {
		return datastore.PriorityHigh
	}
	return datastore.PriorityMedium
}

// Accept applies the suggested value to the entity, then marks the conflict
// accepted. The conflict must be pending.
func (l *Ledger) Accept(ctx context.Context, id uint, resolvedBy string) error {
	row, err := l.pending(id)
	if err != nil {
		return err
	}
	if err := l.apply(ctx, row); err != nil {
		return err
	}
	return l.close(row, datastore.ConflictAccepted, resolvedBy)
}

// Reject marks the conflict rejected without touching the entity.
func (l *Ledger) Reject(id uint, resolvedBy string) error {
	row, err := l.pending(id)
	if err != nil {
		return err
	}
	return l.close(row, datastore.ConflictRejected, resolvedBy)
}

// Ignore marks the conflict ignored without touching the entity.
func (l *Ledger) Ignore(id uint, resolvedBy string) error {
	row, err := l.pending(id)
	if err != nil {
		return err
	}
	return l.close(row, datastore.ConflictIgnored, resolvedBy)
}

// Get returns one conflict by id.
func (l *Ledger) Get(id uint) (*datastore.MetadataConflict, error) {
	return l.store.GetConflict(id)
}

// List returns conflicts matching the filter plus the unpaginated total.
func (l *Ledger) List(filter datastore.ConflictFilter) ([]datastore.MetadataConflict, int64, error) {
	return l.store.ListConflicts(filter)
}

func (l *Ledger) pending(id uint) (*datastore.MetadataConflict, error) {
	row, err := l.store.GetConflict(id)
	if err != nil {
		return nil, err
	}
	if row.Status != datastore.ConflictPending {
		return nil, errors.Newf("conflict %d already resolved as %s", id, row.Status).
			Component("conflict").
			Category(errors.CategoryValidation).
			Context("conflict_id", id).
			Context("status", row.Status).
			Build()
	}
	return row, nil
}

func (l *Ledger) close(row *datastore.MetadataConflict, status, resolvedBy string) error {
	now := time.Now()
	row.Status = status
	row.ResolvedAt = &now
	row.ResolvedBy = resolvedBy
	if err := l.store.UpdateConflict(row); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.RecordConflictResolved(status)
	}
	logger.Info("conflict resolved",
		"conflict_id", row.ID,
		"status", status,
		"resolved_by", resolvedBy)
	return nil
}

// artistFieldColumns maps accepted artist conflict fields to their columns.
// Explicit enumeration keeps the write path reflection-free.
var artistFieldColumns = map[string]string{
	FieldThumbURL:      "thumb_url",
	FieldBackgroundURL: "background_url",
	FieldBannerURL:     "banner_url",
	FieldMusicBrainzID: "music_brainz_id",
}

func (l *Ledger) apply(ctx context.Context, row *datastore.MetadataConflict) error {
	switch row.EntityType {
	case datastore.EntityArtist:
		return l.applyArtist(row)
	case datastore.EntityAlbum:
		return l.applyAlbum(ctx, row)
	case datastore.EntityTrack:
		return l.applyTrack(row)
	default:
		return errors.Newf("unknown entity type %q", row.EntityType).
			Component("conflict").
			Category(errors.CategoryValidation).
			Context("conflict_id", row.ID).
			Build()
	}
}

func (l *Ledger) applyArtist(row *datastore.MetadataConflict) error {
	fields := make(map[string]any, 2)
	switch row.Field {
	case FieldBiography:
		fields["biography"] = row.SuggestedValue
		fields["biography_source"] = row.Source
	case FieldYear:
		year, err := strconv.Atoi(strings.TrimSpace(row.SuggestedValue))
		if err != nil {
			return errors.Newf("suggested year %q is not numeric", row.SuggestedValue).
				Component("conflict").
				Category(errors.CategoryValidation).
				Context("conflict_id", row.ID).
				Build()
		}
		fields["formed_year"] = year
	default:
		column, ok := artistFieldColumns[row.Field]
		if !ok {
			return l.unknownField(row)
		}
		fields[column] = row.SuggestedValue
	}
	if err := l.store.UpdateArtist(row.EntityID, fields); err != nil {
		return err
	}
	l.invalidateImages(datastore.EntityArtist, row.EntityID, row.Field)
	return nil
}

func (l *Ledger) applyAlbum(ctx context.Context, row *datastore.MetadataConflict) error {
	fields := make(map[string]any, 2)
	switch row.Field {
	case FieldMusicBrainzID:
		fields["music_brainz_id"] = row.SuggestedValue
	case FieldYear:
		year, err := strconv.Atoi(strings.TrimSpace(row.SuggestedValue))
		if err != nil {
			return errors.Newf("suggested year %q is not numeric", row.SuggestedValue).
				Component("conflict").
				Category(errors.CategoryValidation).
				Context("conflict_id", row.ID).
				Build()
		}
		fields["year"] = year
	case FieldCover, FieldExternalCover:
		fields["external_cover_url"] = row.SuggestedValue
		if l.downloader != nil {
			path, err := l.downloader.DownloadCover(ctx, row.EntityID, row.SuggestedValue)
			if err != nil {
				// Storage failures block the accept, the conflict stays pending
				return err
			}
			fields["external_cover_path"] = path
		}
	default:
		return l.unknownField(row)
	}
	if err := l.store.UpdateAlbum(row.EntityID, fields); err != nil {
		return err
	}
	l.invalidateImages(datastore.EntityAlbum, row.EntityID, row.Field)
	return nil
}

func (l *Ledger) applyTrack(row *datastore.MetadataConflict) error {
	if row.Field != FieldMusicBrainzID {
		return l.unknownField(row)
	}
	return l.store.UpdateTrack(row.EntityID, map[string]any{"music_brainz_id": row.SuggestedValue})
}

func (l *Ledger) unknownField(row *datastore.MetadataConflict) error {
	return errors.Newf("field %q cannot be applied to %s", row.Field, row.EntityType).
		Component("conflict").
		Category(errors.CategoryValidation).
		Context("conflict_id", row.ID).
		Build()
}

// invalidateImages drops cached image resolutions affected by an accepted
// image or cover change.
func (l *Ledger) invalidateImages(entityKind string, entityID uint, field string) {
	if l.invalidator == nil {
		return
	}
	switch field {
	case FieldThumbURL:
		l.invalidator.Invalidate(entityKind, entityID, "thumb")
	case FieldBackgroundURL:
		l.invalidator.Invalidate(entityKind, entityID, "background")
	case FieldBannerURL:
		l.invalidator.Invalidate(entityKind, entityID, "banner")
	case FieldCover, FieldExternalCover:
		l.invalidator.Invalidate(entityKind, entityID, "cover")
	}
}

// SuggestCover satisfies the enricher's cover conflict sink.
func (l *Ledger) SuggestCover(_ context.Context, albumID uint, current string, suggested *metadata.CoverArt) error {
	meta := map[string]string{}
	if suggested.Width > 0 && suggested.Height > 0 {
		meta["resolution"] = fmt.Sprintf("%dx%d", suggested.Width, suggested.Height)
	}
	_, err := l.Create(Data{
		EntityType:     datastore.EntityAlbum,
		EntityID:       albumID,
		Field:          FieldExternalCover,
		CurrentValue:   current,
		SuggestedValue: suggested.URL,
		Source:         suggested.Source,
		Metadata:       meta,
	})
	return err
}

// SuggestIdentifier satisfies the resolver's identifier conflict sink.
// Suggestions ride along in the conflict metadata for the review surface.
func (l *Ledger) SuggestIdentifier(_ context.Context, entityType string, entityID uint, current string, suggestions []metadata.Match) error {
	if len(suggestions) == 0 {
		return errors.Newf("identifier conflict requires suggestions").
			Component("conflict").
			Category(errors.CategoryValidation).
			Build()
	}
	encoded, err := json.Marshal(suggestions)
	if err != nil {
		return errors.New(err).
			Component("conflict").
			Category(errors.CategoryConflict).
			EntityContext(entityType, entityID).
			Build()
	}
	_, err = l.Create(Data{
		EntityType:     entityType,
		EntityID:       entityID,
		Field:          FieldMusicBrainzID,
		CurrentValue:   current,
		SuggestedValue: suggestions[0].ID,
		Source:         "musicbrainz",
		Priority:       datastore.PriorityMedium,
		Metadata:       map[string]string{"suggestions": string(encoded)},
	})
	return err
}

func encodeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	data, _ := json.Marshal(meta)
	return string(data)
}

func metadataValue(encoded, key string) string {
	if encoded == "" {
		return ""
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		return ""
	}
	return meta[key]
}

// CloseLogger releases the conflict log writer.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}
