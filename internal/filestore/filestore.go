// Package filestore manages the durable per-entity metadata files (downloaded
// covers and artist images) under the configured metadata root.
package filestore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/echo-music/echo-server/internal/errors"
	"github.com/echo-music/echo-server/internal/httpclient"
	"github.com/echo-music/echo-server/internal/logging"
)

// maxImageBytes caps downloaded images. Cover Art Archive originals can be
// very large; anything beyond this is rejected.
const maxImageBytes = 32 << 20

// Package-level logger specific to the filestore service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "filestore.log")
	initialLevel := slog.LevelInfo
	serviceLevelVar.Set(initialLevel)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "filestore", serviceLevelVar)
	if err != nil {
		// Fallback: disable service logging rather than failing startup
		log.Printf("Failed to initialize filestore file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "filestore")
		closeLogger = func() error { return nil }
	}
}

// SetLogLevel adjusts the filestore service log level at runtime.
func SetLogLevel(level slog.Level) {
	serviceLevelVar.Set(level)
}

// CloseLogger releases the filestore log writer.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// Store resolves per-entity directories under the metadata root and performs
// the file operations the enrichment and conflict paths need.
type Store struct {
	root string
	http *httpclient.Client
}

// New returns a store rooted at the metadata path. The HTTP client is used
// for image downloads and may be shared with the agents.
func New(root string, client *httpclient.Client) (*Store, error) {
	if root == "" {
		return nil, errors.Newf("metadata path is not configured").
			Component("filestore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.FileError(err, root, 0)
	}
	return &Store{root: root, http: client}, nil
}

// EntityDir returns the metadata directory for one entity, creating it on
// first use.
func (s *Store) EntityDir(kind string, id uint) (string, error) {
	if kind == "" || id == 0 {
		return "", errors.Newf("entity dir requires kind and id").
			Component("filestore").
			Category(errors.CategoryValidation).
			Build()
	}
	dir := filepath.Join(s.root, kind, fmt.Sprintf("%d", id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.FileError(err, dir, 0)
	}
	return dir, nil
}

// Save writes data to name inside the entity's directory and returns the
// full path. Writes go through a temp file so readers never see partial
// content.
func (s *Store) Save(kind string, id uint, name string, data []byte) (string, error) {
	dir, err := s.EntityDir(kind, id)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(name))
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.FileError(err, tmp, int64(len(data)))
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", errors.FileError(err, dest, int64(len(data)))
	}
	return dest, nil
}

// Delete removes one file. Missing files are not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.FileError(err, path, 0)
	}
	return nil
}

// Exists reports whether path exists as a regular file.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Stat returns file info for path.
func (s *Store) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("file not found: %s", path).
				Component("filestore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.FileError(err, path, 0)
	}
	return info, nil
}

// DirSize returns the total size in bytes of everything under the entity's
// directory.
func (s *Store) DirSize(kind string, id uint) (int64, error) {
	dir := filepath.Join(s.root, kind, fmt.Sprintf("%d", id))
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.FileError(err, dir, 0)
	}
	return total, nil
}

// DownloadImage fetches url into dest atomically. Non-image payloads and
// oversized responses are rejected.
func (s *Store) DownloadImage(ctx context.Context, url, dest string) error {
	resp, err := s.http.Get(ctx, url)
	if err != nil {
		return errors.New(err).
			Component("filestore").
			Category(errors.CategoryImageFetch).
			Context("url", url).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("image download returned status %d", resp.StatusCode).
			Component("filestore").
			Category(errors.CategoryImageFetch).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return errors.Newf("image download returned %s", ct).
			Component("filestore").
			Category(errors.CategoryImageFetch).
			Context("url", url).
			Context("content_type", ct).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.FileError(err, dest, 0)
	}
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.FileError(err, tmp, 0)
	}
	written, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.FileError(err, tmp, written)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return errors.FileError(err, dest, written)
	}
	logger.Debug("image downloaded", "url", url, "dest", dest, "bytes", written)
	return nil
}

// DownloadCover fetches an album cover into the album's metadata directory
// and returns the stored path. Satisfies the cover downloader used by the
// enricher and the conflict ledger.
func (s *Store) DownloadCover(ctx context.Context, albumID uint, url string) (string, error) {
	dir, err := s.EntityDir("album", albumID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, "cover"+imageExt(url))
	if err := s.DownloadImage(ctx, url, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// imageExt picks a file extension from the URL, defaulting to .jpg.
func imageExt(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx >= 0 {
		url = url[:idx]
	}
	switch ext := strings.ToLower(filepath.Ext(url)); ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
