// model.go defines the data model for the metadata core
package datastore

import "time"

// Entity type discriminators used by caches and conflicts.
const (
	EntityArtist = "artist"
	EntityAlbum  = "album"
	EntityTrack  = "track"
)

// Conflict lifecycle states.
const (
	ConflictPending  = "pending"
	ConflictAccepted = "accepted"
	ConflictRejected = "rejected"
	ConflictIgnored  = "ignored"
)

// Conflict priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Artist represents one artist in the music library
type Artist struct {
	ID            uint   `gorm:"primaryKey"`
	Name          string `gorm:"index:idx_artists_name"`
	SortName      string
	MusicBrainzID string `gorm:"index:idx_artists_mbid"`

	Biography       string `gorm:"type:text"`
	BiographySource string

	// Image URL slots filled during enrichment, first-priority source wins per slot
	ThumbURL      string
	BackgroundURL string
	BannerURL     string

	// Image files on disk
	ExternalImagePath string // downloaded during enrichment
	LocalImagePath    string // discovered next to the music files

	FormedYear int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Album represents one album in the music library
type Album struct {
	ID            uint   `gorm:"primaryKey"`
	ArtistID      uint   `gorm:"index:idx_albums_artist"`
	Name          string `gorm:"index:idx_albums_name"`
	MusicBrainzID string `gorm:"index:idx_albums_mbid"` // release-group MBID
	Year          int

	CoverPath         string // local cover scanned from the album directory
	ExternalCoverPath string // cover downloaded during enrichment
	ExternalCoverURL  string // source URL of the external cover

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Track represents one track of an album
type Track struct {
	ID            uint   `gorm:"primaryKey"`
	AlbumID       uint   `gorm:"index:idx_tracks_album"`
	ArtistID      uint   `gorm:"index:idx_tracks_artist"`
	Title         string `gorm:"index:idx_tracks_title"`
	TrackNumber   int
	DurationMS    int
	MusicBrainzID string `gorm:"index:idx_tracks_mbid"` // recording MBID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomImage represents a user-uploaded image that overrides discovered and
// downloaded artwork while active.
type CustomImage struct {
	ID        uint   `gorm:"primaryKey"`
	OwnerKind string `gorm:"index:idx_custom_images_owner,priority:1"` // artist, album or user
	OwnerID   uint   `gorm:"index:idx_custom_images_owner,priority:2"`
	ImageType string `gorm:"index:idx_custom_images_owner,priority:3"` // thumb, background, banner, cover, avatar
	Path      string
	MimeType  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetadataCache stores one raw provider response per (entity, source).
// Expiry is enforced lazily at read time by the cache layer.
type MetadataCache struct {
	ID         uint   `gorm:"primaryKey"`
	EntityType string `gorm:"uniqueIndex:idx_metadata_cache_key,priority:1;not null"`
	EntityID   uint   `gorm:"uniqueIndex:idx_metadata_cache_key,priority:2;not null"`
	Source     string `gorm:"uniqueIndex:idx_metadata_cache_key,priority:3;not null"`
	Payload    string `gorm:"type:text"` // opaque JSON
	FetchedAt  time.Time
	ExpiresAt  time.Time `gorm:"index"`
}

// SearchCache stores identifier-search results keyed by the normalized query.
type SearchCache struct {
	ID          uint   `gorm:"primaryKey"`
	QueryText   string `gorm:"uniqueIndex:idx_search_cache_key,priority:1;not null"` // normalized
	QueryType   string `gorm:"uniqueIndex:idx_search_cache_key,priority:2;not null"` // artist, album or recording
	QueryParams string `gorm:"uniqueIndex:idx_search_cache_key,priority:3"`          // opaque key/value JSON
	Results     string `gorm:"type:text"`                                            // ordered scored matches, JSON
	HitCount    int
	LastHitAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

// MetadataConflict records a disagreement between a current field value and a
// suggested one, awaiting accept/reject/ignore.
type MetadataConflict struct {
	ID             uint   `gorm:"primaryKey"`
	EntityType     string `gorm:"index:idx_conflicts_entity,priority:1;not null"`
	EntityID       uint   `gorm:"index:idx_conflicts_entity,priority:2;not null"`
	Field          string `gorm:"index:idx_conflicts_entity,priority:3;not null"`
	CurrentValue   string `gorm:"type:text"`
	SuggestedValue string `gorm:"type:text"`
	Source         string `gorm:"index"`
	Priority       string `gorm:"index"`
	Status         string `gorm:"index;default:pending"`
	Metadata       string `gorm:"type:text"` // opaque JSON
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	ResolvedBy     string
}
