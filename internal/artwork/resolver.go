// Package artwork resolves which image file serves an artist, album or user
// image request, with a tiered source order and a short-lived result cache.
package artwork

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/echo-music/echo-server/internal/datastore"
	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/logging"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "artwork.log")
	serviceLevelVar.Set(slog.LevelInfo)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "artwork", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize artwork file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "artwork")
		closeLogger = func() error { return nil }
	}
}

// Image types served by the resolver.
const (
	TypeThumb      = "thumb"
	TypeBackground = "background"
	TypeBanner     = "banner"
	TypeCover      = "cover"
	TypeAvatar     = "avatar"
)

// Owner kinds. Users only carry custom avatars.
const (
	KindArtist = datastore.EntityArtist
	KindAlbum  = datastore.EntityAlbum
	KindUser   = "user"
)

// Image sources, reported for observability.
const (
	SourceCustom   = "custom"
	SourceLocal    = "local"
	SourceExternal = "external"
	SourceDefault  = "default"
)

// Image is one resolved image file.
type Image struct {
	Path     string
	MimeType string
	Tag      string
	Source   string
}

// FileChecker answers existence and stat questions about stored files.
// Satisfied by the filestore.
type FileChecker interface {
	Exists(path string) bool
	Stat(path string) (fs.FileInfo, error)
}

// pathSlot names the entity columns holding a stored image path for one
// (kind, image type) pair. Explicit table instead of reflecting over fields.
type pathSlot struct {
	localColumn    string
	externalColumn string
}

var pathSlots = map[string]pathSlot{
	KindArtist + ":" + TypeThumb: {localColumn: "local_image_path", externalColumn: "external_image_path"},
	KindAlbum + ":" + TypeCover:  {localColumn: "cover_path", externalColumn: "external_cover_path"},
}

// customOnlyTypes resolve through uploaded images exclusively.
var customOnlyTypes = map[string]bool{
	KindArtist + ":" + TypeBackground: true,
	KindArtist + ":" + TypeBanner:     true,
	KindUser + ":" + TypeAvatar:       true,
}

// Resolver picks the authoritative image file for a request: active custom
// upload, then locally discovered file, then downloaded file, then the
// bundled default (album covers only). Results are cached for a short window
// so repeated requests skip disk and database checks.
type Resolver struct {
	store            datastore.Interface
	files            FileChecker
	results          *cache.Cache
	metadataRoot     string
	defaultCoverPath string
}

// NewResolver wires the artwork resolver. resultTTL bounds how long a
// resolution is served without re-checking disk.
func NewResolver(store datastore.Interface, files FileChecker, metadataRoot, defaultCoverPath string, resultTTL time.Duration) *Resolver {
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}
	return &Resolver{
		store:            store,
		files:            files,
		results:          cache.New(resultTTL, resultTTL*2),
		metadataRoot:     metadataRoot,
		defaultCoverPath: defaultCoverPath,
	}
}

func resultKey(kind string, id uint, imageType string) string {
	return fmt.Sprintf("%s:%d:%s", kind, id, imageType)
}

// Resolve returns the image serving (kind, id, imageType). A cached result
// within the TTL window is returned without touching disk.
func (r *Resolver) Resolve(kind string, id uint, imageType string) (*Image, error) {
	if !validRequest(kind, imageType) {
		return nil, errors.Newf("unknown image type %q for %s", imageType, kind).
			Component("artwork").
			Category(errors.CategoryValidation).
			Build()
	}
	key := resultKey(kind, id, imageType)
	if cached, found := r.results.Get(key); found {
		if img, ok := cached.(*Image); ok {
			return img, nil
		}
	}

	img, err := r.resolveUncached(kind, id, imageType)
	if err != nil {
		return nil, err
	}
	r.results.Set(key, img, cache.DefaultExpiration)
	return img, nil
}

// CheckTag reports whether the caller-supplied tag still matches the current
// resolution, for not-modified short-circuits.
func (r *Resolver) CheckTag(kind string, id uint, imageType, tag string) (bool, error) {
	if tag == "" {
		return false, nil
	}
	img, err := r.Resolve(kind, id, imageType)
	if err != nil {
		return false, err
	}
	return img.Tag == tag, nil
}

// Invalidate drops the cached resolution for one key. Must be called after
// any mutation that changes which file is authoritative.
func (r *Resolver) Invalidate(kind string, id uint, imageType string) {
	r.results.Delete(resultKey(kind, id, imageType))
	logger.Debug("image resolution invalidated", "kind", kind, "id", id, "image_type", imageType)
}

func validRequest(kind, imageType string) bool {
	if _, ok := pathSlots[kind+":"+imageType]; ok {
		return true
	}
	return customOnlyTypes[kind+":"+imageType]
}

func (r *Resolver) resolveUncached(kind string, id uint, imageType string) (*Image, error) {
	// Tier 1: active custom upload
	if img, err := r.resolveCustom(kind, id, imageType); err != nil {
		return nil, err
	} else if img != nil {
		return img, nil
	}

	if slot, ok := pathSlots[kind+":"+imageType]; ok {
		// Tier 2: locally discovered file
		if img, err := r.resolveStored(kind, id, slot.localColumn, SourceLocal); err != nil {
			return nil, err
		} else if img != nil {
			return img, nil
		}
		// Tier 3: downloaded file
		if img, err := r.resolveStored(kind, id, slot.externalColumn, SourceExternal); err != nil {
			return nil, err
		} else if img != nil {
			return img, nil
		}
	}

	// Tier 4: bundled default, album covers only
	if kind == KindAlbum && imageType == TypeCover {
		return r.defaultCover()
	}
	return nil, errors.Newf("no %s image for %s %d", imageType, kind, id).
		Component("artwork").
		Category(errors.CategoryNotFound).
		EntityContext(kind, id).
		Build()
}

func (r *Resolver) resolveCustom(kind string, id uint, imageType string) (*Image, error) {
	custom, err := r.store.GetActiveCustomImage(kind, id, imageType)
	if err != nil {
		return nil, err
	}
	if custom == nil {
		return nil, nil
	}
	path := r.normalizePath(custom.Path)
	if !r.files.Exists(path) {
		// Stale upload record, deactivate and fall through
		logger.Warn("custom image missing on disk, deactivating",
			"kind", kind, "id", id, "image_type", imageType, "path", path)
		if err := r.store.DeactivateCustomImage(custom.ID); err != nil {
			logger.Error("custom image deactivation failed", "custom_image_id", custom.ID, "error", err)
		}
		return nil, nil
	}
	img, err := r.describe(path, SourceCustom)
	if err != nil {
		return nil, err
	}
	if custom.MimeType != "" {
		img.MimeType = custom.MimeType
	}
	return img, nil
}

// resolveStored serves the path held in one entity column, clearing the
// column when the file vanished from disk.
func (r *Resolver) resolveStored(kind string, id uint, column, source string) (*Image, error) {
	path, err := r.storedPath(kind, id, column)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}
	path = r.normalizePath(path)
	if !r.files.Exists(path) {
		logger.Warn("stored image missing on disk, clearing reference",
			"kind", kind, "id", id, "column", column, "path", path)
		if err := r.clearStoredPath(kind, id, column); err != nil {
			logger.Error("stored image reference clear failed", "kind", kind, "id", id, "column", column, "error", err)
		}
		return nil, nil
	}
	return r.describe(path, source)
}

func (r *Resolver) storedPath(kind string, id uint, column string) (string, error) {
	switch kind {
	case KindArtist:
		artist, err := r.store.GetArtist(id)
		if err != nil {
			return "", err
		}
		if column == "local_image_path" {
			return artist.LocalImagePath, nil
		}
		return artist.ExternalImagePath, nil
	case KindAlbum:
		album, err := r.store.GetAlbum(id)
		if err != nil {
			return "", err
		}
		if column == "cover_path" {
			return album.CoverPath, nil
		}
		return album.ExternalCoverPath, nil
	}
	return "", nil
}

func (r *Resolver) clearStoredPath(kind string, id uint, column string) error {
	fields := map[string]any{column: ""}
	switch kind {
	case KindArtist:
		return r.store.UpdateArtist(id, fields)
	case KindAlbum:
		return r.store.UpdateAlbum(id, fields)
	}
	return nil
}

func (r *Resolver) defaultCover() (*Image, error) {
	info, err := r.files.Stat(r.defaultCoverPath)
	if err != nil {
		// The bundled default ships with the binary; missing means a broken
		// install, not a per-entity miss
		return nil, errors.New(err).
			Component("artwork").
			Category(errors.CategoryFileIO).
			Context("path", r.defaultCoverPath).
			Build()
	}
	return &Image{
		Path:     r.defaultCoverPath,
		MimeType: mimeTypeFor(r.defaultCoverPath),
		Tag:      ComputeTag(r.defaultCoverPath, info),
		Source:   SourceDefault,
	}, nil
}

func (r *Resolver) describe(path, source string) (*Image, error) {
	info, err := r.files.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Image{
		Path:     path,
		MimeType: mimeTypeFor(path),
		Tag:      ComputeTag(path, info),
		Source:   source,
	}, nil
}

// normalizePath converts stored separators to the host form and anchors
// relative paths at the metadata root. Uploads recorded on another OS keep
// working after a migration.
func (r *Resolver) normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) && r.metadataRoot != "" {
		path = filepath.Join(r.metadataRoot, path)
	}
	return filepath.Clean(path)
}

func mimeTypeFor(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// CloseLogger releases the artwork log writer.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}
