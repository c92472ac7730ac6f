// datastore.go implements the Interface methods shared by all backends
package datastore

import (
	"fmt"
	"time"

	"github.com/echo-music/echo-server/internal/errors"
	"gorm.io/gorm"
)

const defaultConflictPageSize = 50

// --- Entity store ---

// GetArtist retrieves an artist by id.
func (ds *DataStore) GetArtist(id uint) (*Artist, error) {
	var artist Artist
	if err := ds.DB.First(&artist, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError(EntityArtist, id)
		}
		return nil, fmt.Errorf("getting artist %d: %w", id, err)
	}
	return &artist, nil
}

// GetAllArtists returns every artist, ordered by name.
func (ds *DataStore) GetAllArtists() ([]Artist, error) {
	var artists []Artist
	if err := ds.DB.Order("name").Find(&artists).Error; err != nil {
		return nil, fmt.Errorf("getting artists: %w", err)
	}
	return artists, nil
}

// SaveArtist inserts or updates an artist record.
func (ds *DataStore) SaveArtist(artist *Artist) error {
	if err := ds.DB.Save(artist).Error; err != nil {
		return fmt.Errorf("saving artist: %w", err)
	}
	return nil
}

// UpdateArtist applies the given field map to one artist row.
func (ds *DataStore) UpdateArtist(id uint, fields map[string]any) error {
	return ds.updateEntity(&Artist{}, EntityArtist, id, fields)
}

// GetAlbum retrieves an album by id.
func (ds *DataStore) GetAlbum(id uint) (*Album, error) {
	var album Album
	if err := ds.DB.First(&album, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError(EntityAlbum, id)
		}
		return nil, fmt.Errorf("getting album %d: %w", id, err)
	}
	return &album, nil
}

// GetAlbumsByArtist returns all albums of one artist.
func (ds *DataStore) GetAlbumsByArtist(artistID uint) ([]Album, error) {
	var albums []Album
	if err := ds.DB.Where("artist_id = ?", artistID).Order("year, name").Find(&albums).Error; err != nil {
		return nil, fmt.Errorf("getting albums for artist %d: %w", artistID, err)
	}
	return albums, nil
}

// SaveAlbum inserts or updates an album record.
func (ds *DataStore) SaveAlbum(album *Album) error {
	if err := ds.DB.Save(album).Error; err != nil {
		return fmt.Errorf("saving album: %w", err)
	}
	return nil
}

// UpdateAlbum applies the given field map to one album row.
func (ds *DataStore) UpdateAlbum(id uint, fields map[string]any) error {
	return ds.updateEntity(&Album{}, EntityAlbum, id, fields)
}

// GetTrack retrieves a track by id.
func (ds *DataStore) GetTrack(id uint) (*Track, error) {
	var track Track
	if err := ds.DB.First(&track, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError(EntityTrack, id)
		}
		return nil, fmt.Errorf("getting track %d: %w", id, err)
	}
	return &track, nil
}

// SaveTrack inserts or updates a track record.
func (ds *DataStore) SaveTrack(track *Track) error {
	if err := ds.DB.Save(track).Error; err != nil {
		return fmt.Errorf("saving track: %w", err)
	}
	return nil
}

// UpdateTrack applies the given field map to one track row.
func (ds *DataStore) UpdateTrack(id uint, fields map[string]any) error {
	return ds.updateEntity(&Track{}, EntityTrack, id, fields)
}

func (ds *DataStore) updateEntity(model any, entityType string, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := ds.DB.Model(model).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			EntityContext(entityType, id).
			Context("operation", "update_fields").
			Build()
	}
	if res.RowsAffected == 0 {
		return errors.NotFoundError(entityType, id)
	}
	return nil
}

// --- Custom images ---

// GetActiveCustomImage returns the active custom image for an owner and image
// type, or nil when none is active.
func (ds *DataStore) GetActiveCustomImage(ownerKind string, ownerID uint, imageType string) (*CustomImage, error) {
	var img CustomImage
	err := ds.DB.Where("owner_kind = ? AND owner_id = ? AND image_type = ? AND active = ?",
		ownerKind, ownerID, imageType, true).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting custom image: %w", err)
	}
	return &img, nil
}

// SaveCustomImage inserts or updates a custom image record.
func (ds *DataStore) SaveCustomImage(img *CustomImage) error {
	if err := ds.DB.Save(img).Error; err != nil {
		return fmt.Errorf("saving custom image: %w", err)
	}
	return nil
}

// DeactivateCustomImage clears the active flag without deleting the record.
func (ds *DataStore) DeactivateCustomImage(id uint) error {
	res := ds.DB.Model(&CustomImage{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivating custom image %d: %w", id, res.Error)
	}
	return nil
}

// --- Response cache rows ---

// GetMetadataCache returns the cache row for (entityType, entityID, source),
// or nil when none exists. Expiry is the caller's concern.
func (ds *DataStore) GetMetadataCache(entityType string, entityID uint, source string) (*MetadataCache, error) {
	var entry MetadataCache
	err := ds.DB.Where("entity_type = ? AND entity_id = ? AND source = ?",
		entityType, entityID, source).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting metadata cache: %w", err)
	}
	return &entry, nil
}

// SaveMetadataCache upserts a cache row keyed by (entityType, entityID, source).
func (ds *DataStore) SaveMetadataCache(entry *MetadataCache) error {
	existing, err := ds.GetMetadataCache(entry.EntityType, entry.EntityID, entry.Source)
	if err != nil {
		return err
	}
	if existing != nil {
		entry.ID = existing.ID
	}
	if err := ds.DB.Save(entry).Error; err != nil {
		return fmt.Errorf("saving metadata cache: %w", err)
	}
	return nil
}

// DeleteMetadataCache removes one cache row.
func (ds *DataStore) DeleteMetadataCache(entityType string, entityID uint, source string) error {
	err := ds.DB.Where("entity_type = ? AND entity_id = ? AND source = ?",
		entityType, entityID, source).Delete(&MetadataCache{}).Error
	if err != nil {
		return fmt.Errorf("deleting metadata cache: %w", err)
	}
	return nil
}

// ClearExpiredMetadataCache removes all rows whose expiry has passed and
// returns how many were deleted.
func (ds *DataStore) ClearExpiredMetadataCache(now time.Time) (int64, error) {
	res := ds.DB.Where("expires_at < ?", now).Delete(&MetadataCache{})
	if res.Error != nil {
		return 0, fmt.Errorf("clearing expired metadata cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ClearMetadataCache removes all response cache rows.
func (ds *DataStore) ClearMetadataCache() error {
	if err := ds.DB.Where("1 = 1").Delete(&MetadataCache{}).Error; err != nil {
		return fmt.Errorf("clearing metadata cache: %w", err)
	}
	return nil
}

// --- Search cache rows ---

// GetSearchCache returns the row for the normalized query key, or nil.
func (ds *DataStore) GetSearchCache(queryText, queryType, queryParams string) (*SearchCache, error) {
	var entry SearchCache
	err := ds.DB.Where("query_text = ? AND query_type = ? AND query_params = ?",
		queryText, queryType, queryParams).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting search cache: %w", err)
	}
	return &entry, nil
}

// SaveSearchCache upserts a search cache row keyed by the normalized query.
func (ds *DataStore) SaveSearchCache(entry *SearchCache) error {
	existing, err := ds.GetSearchCache(entry.QueryText, entry.QueryType, entry.QueryParams)
	if err != nil {
		return err
	}
	if existing != nil {
		entry.ID = existing.ID
	}
	if err := ds.DB.Save(entry).Error; err != nil {
		return fmt.Errorf("saving search cache: %w", err)
	}
	return nil
}

// RecordSearchCacheHit increments hit accounting for one row.
func (ds *DataStore) RecordSearchCacheHit(id uint, at time.Time) error {
	err := ds.DB.Model(&SearchCache{}).Where("id = ?", id).Updates(map[string]any{
		"hit_count":   gorm.Expr("hit_count + 1"),
		"last_hit_at": at,
	}).Error
	if err != nil {
		return fmt.Errorf("recording search cache hit: %w", err)
	}
	return nil
}

// DeleteSearchCache removes one search cache row by id.
func (ds *DataStore) DeleteSearchCache(id uint) error {
	if err := ds.DB.Delete(&SearchCache{}, id).Error; err != nil {
		return fmt.Errorf("deleting search cache %d: %w", id, err)
	}
	return nil
}

// ClearExpiredSearchCache removes all expired search rows.
func (ds *DataStore) ClearExpiredSearchCache(now time.Time) (int64, error) {
	res := ds.DB.Where("expires_at < ?", now).Delete(&SearchCache{})
	if res.Error != nil {
		return 0, fmt.Errorf("clearing expired search cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ClearSearchCache removes all search cache rows.
func (ds *DataStore) ClearSearchCache() error {
	if err := ds.DB.Where("1 = 1").Delete(&SearchCache{}).Error; err != nil {
		return fmt.Errorf("clearing search cache: %w", err)
	}
	return nil
}

// SearchCacheStats aggregates usage counters for the admin surface.
func (ds *DataStore) SearchCacheStats() (SearchCacheStats, error) {
	var stats SearchCacheStats
	if err := ds.DB.Model(&SearchCache{}).Count(&stats.Entries).Error; err != nil {
		return stats, fmt.Errorf("counting search cache: %w", err)
	}
	if err := ds.DB.Model(&SearchCache{}).Where("expires_at < ?", time.Now()).Count(&stats.Expired).Error; err != nil {
		return stats, fmt.Errorf("counting expired search cache: %w", err)
	}
	var hits int64
	if err := ds.DB.Model(&SearchCache{}).Select("COALESCE(SUM(hit_count), 0)").Scan(&hits).Error; err != nil {
		return stats, fmt.Errorf("summing search cache hits: %w", err)
	}
	stats.TotalHits = hits
	return stats, nil
}

// --- Conflicts ---

// InsertConflict stores a new conflict row.
func (ds *DataStore) InsertConflict(c *MetadataConflict) error {
	if err := ds.DB.Create(c).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			EntityContext(c.EntityType, c.EntityID).
			Context("operation", "insert_conflict").
			Build()
	}
	return nil
}

// GetConflict retrieves a conflict by id.
func (ds *DataStore) GetConflict(id uint) (*MetadataConflict, error) {
	var c MetadataConflict
	if err := ds.DB.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFoundError("conflict", id)
		}
		return nil, fmt.Errorf("getting conflict %d: %w", id, err)
	}
	return &c, nil
}

// UpdateConflict persists all fields of an existing conflict row.
func (ds *DataStore) UpdateConflict(c *MetadataConflict) error {
	if err := ds.DB.Save(c).Error; err != nil {
		return fmt.Errorf("updating conflict %d: %w", c.ID, err)
	}
	return nil
}

// FindPendingConflict looks for a pending conflict matching entity, field and
// source. Returns nil when none exists.
func (ds *DataStore) FindPendingConflict(entityType string, entityID uint, field, source string) (*MetadataConflict, error) {
	var c MetadataConflict
	err := ds.DB.Where("entity_type = ? AND entity_id = ? AND field = ? AND source = ? AND status = ?",
		entityType, entityID, field, source, ConflictPending).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding pending conflict: %w", err)
	}
	return &c, nil
}

// FindPendingFieldConflict looks for a pending conflict matching entity and
// field irrespective of source. Used by cover deduplication.
func (ds *DataStore) FindPendingFieldConflict(entityType string, entityID uint, field string) (*MetadataConflict, error) {
	var c MetadataConflict
	err := ds.DB.Where("entity_type = ? AND entity_id = ? AND field = ? AND status = ?",
		entityType, entityID, field, ConflictPending).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding pending field conflict: %w", err)
	}
	return &c, nil
}

// ListConflicts returns a filtered page of conflicts plus the total count for
// the filter.
func (ds *DataStore) ListConflicts(filter ConflictFilter) ([]MetadataConflict, int64, error) {
	q := ds.DB.Model(&MetadataConflict{})
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting conflicts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultConflictPageSize
	}

	var conflicts []MetadataConflict
	err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&conflicts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing conflicts: %w", err)
	}
	return conflicts, total, nil
}
