// interfaces.go defines the interface for database operations
package datastore

import (
	"time"

	"github.com/echo-music/echo-server/internal/conf"
	"github.com/echo-music/echo-server/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the metadata core needs from the store.
type Interface interface {
	Open() error
	Close() error

	// Entity store
	GetArtist(id uint) (*Artist, error)
	GetAllArtists() ([]Artist, error)
	SaveArtist(artist *Artist) error
	UpdateArtist(id uint, fields map[string]any) error
	GetAlbum(id uint) (*Album, error)
	GetAlbumsByArtist(artistID uint) ([]Album, error)
	SaveAlbum(album *Album) error
	UpdateAlbum(id uint, fields map[string]any) error
	GetTrack(id uint) (*Track, error)
	SaveTrack(track *Track) error
	UpdateTrack(id uint, fields map[string]any) error

	// Custom images
	GetActiveCustomImage(ownerKind string, ownerID uint, imageType string) (*CustomImage, error)
	SaveCustomImage(img *CustomImage) error
	DeactivateCustomImage(id uint) error

	// Response cache rows
	GetMetadataCache(entityType string, entityID uint, source string) (*MetadataCache, error)
	SaveMetadataCache(entry *MetadataCache) error
	DeleteMetadataCache(entityType string, entityID uint, source string) error
	ClearExpiredMetadataCache(now time.Time) (int64, error)
	ClearMetadataCache() error

	// Search cache rows
	GetSearchCache(queryText, queryType, queryParams string) (*SearchCache, error)
	SaveSearchCache(entry *SearchCache) error
	RecordSearchCacheHit(id uint, at time.Time) error
	DeleteSearchCache(id uint) error
	ClearExpiredSearchCache(now time.Time) (int64, error)
	ClearSearchCache() error
	SearchCacheStats() (SearchCacheStats, error)

	// Conflicts
	InsertConflict(c *MetadataConflict) error
	GetConflict(id uint) (*MetadataConflict, error)
	UpdateConflict(c *MetadataConflict) error
	FindPendingConflict(entityType string, entityID uint, field, source string) (*MetadataConflict, error)
	FindPendingFieldConflict(entityType string, entityID uint, field string) (*MetadataConflict, error)
	ListConflicts(filter ConflictFilter) ([]MetadataConflict, int64, error)
}

// ConflictFilter narrows and pages ListConflicts results. Zero values mean
// "no constraint"; Limit 0 falls back to a sane page size.
type ConflictFilter struct {
	EntityType string
	Source     string
	Priority   string
	Status     string
	Limit      int
	Offset     int
}

// SearchCacheStats summarizes search cache usage for the cache admin surface.
type SearchCacheStats struct {
	Entries   int64
	Expired   int64
	TotalHits int64
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore based on the provided settings.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, errors.Newf("no database backend enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
