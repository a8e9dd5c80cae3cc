// Package artifact persists recovered images to a local cache directory
// with a time-based eviction policy.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
)

// extByMIME maps recognized image types onto cache file extensions.
// Unknown types default to .png.
var extByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store writes image bytes into a cache directory and evicts entries older
// than the retention window. Writes are unconditional overwrites.
type Store struct {
	dir       string
	retention time.Duration
}

// New creates the cache directory if needed and returns a Store.
func New(dir string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("op=artifact.New: %w", err)
	}
	return &Store{dir: dir, retention: retention}, nil
}

// Dir returns the cache root, for the handler serving artifacts.
func (s *Store) Dir() string { return s.dir }

// Save writes data under a name derived from the suggestion (extension
// repaired when missing) or synthesized from a timestamp plus random
// suffix. Returns the cache filename.
func (s *Store) Save(data []byte, mimeType, suggestedName string) (string, error) {
	ext, ok := extByMIME[mimeType]
	if !ok {
		ext = ".png"
	}

	filename := suggestedName
	if filename != "" {
		if !hasImageExt(filename) {
			filename += ext
		}
	} else {
		filename = fmt.Sprintf("gemini_%s_%s%s",
			time.Now().Format("20060102_150405"),
			strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			ext)
	}
	// Names may come from vendor metadata; keep them inside the cache root.
	filename = filepath.Base(filename)

	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("op=artifact.Save: %w", err)
	}
	return filename, nil
}

func hasImageExt(name string) bool {
	for _, ext := range extByMIME {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// EvictExpired deletes cache files older than the retention window.
// Best-effort: per-file failures are logged and skipped. Returns the number
// of files removed.
func (s *Store) EvictExpired() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("artifact cache scan failed", slog.Any("error", err))
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-s.retention)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("artifact stat failed", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			slog.Warn("artifact evict failed", slog.String("file", entry.Name()), slog.Any("error", err))
			continue
		}
		removed++
		slog.Debug("artifact evicted", slog.String("file", entry.Name()))
	}
	if removed > 0 {
		observability.ArtifactsEvictedTotal.Add(float64(removed))
	}
	return removed
}
