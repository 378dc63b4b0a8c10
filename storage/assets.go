package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/troylu8/chuuni-keys-server/model"
)

// Asset kinds. Each chart directory holds at most one file per kind.
const (
	KindChart   = "chart"
	KindAudio   = "audio"
	KindImg     = "img"
	KindPreview = "preview"
)

// AssetStore manages per-chart asset directories under a single root:
// <root>/<id>/<kind>.<ext>.
type AssetStore struct {
	root string
}

// NewAssetStore creates an AssetStore rooted at root.
func NewAssetStore(root string) *AssetStore {
	return &AssetStore{root: root}
}

// ChartDir returns the directory holding a chart's assets.
func (s *AssetStore) ChartDir(id string) string {
	return filepath.Join(s.root, id)
}

// AssetPath returns the path of a single asset file.
func (s *AssetStore) AssetPath(id, kind, ext string) string {
	return filepath.Join(s.root, id, kind+"."+ext)
}

// validExt reports whether ext is allowed for the given asset kind.
func validExt(kind, ext string) bool {
	switch kind {
	case KindChart:
		return ext == "txt"
	case KindAudio:
		return model.IsValidAudioExt(ext)
	case KindImg:
		return model.IsValidImgExt(ext)
	case KindPreview:
		return ext == "mp3"
	}
	return false
}

// Save writes an asset, creating the chart directory if needed. Unsupported
// extensions are rejected before anything is written.
func (s *AssetStore) Save(id, kind string, r io.Reader, ext string) error {
	if !validExt(kind, ext) {
		return fmt.Errorf("unsupported extension %q for asset kind %q", ext, kind)
	}

	if err := os.MkdirAll(s.ChartDir(id), 0755); err != nil {
		return fmt.Errorf("failed to create chart directory for %s: %w", id, err)
	}

	path := s.AssetPath(id, kind, ext)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Open returns a reader over an asset file.
func (s *AssetStore) Open(id, kind, ext string) (io.ReadCloser, error) {
	f, err := os.Open(s.AssetPath(id, kind, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s asset for chart %s: %w", kind, id, err)
	}
	return f, nil
}

// RemoveImage deletes a chart's image file. Absence is not an error.
func (s *AssetStore) RemoveImage(id, ext string) error {
	err := os.Remove(s.AssetPath(id, KindImg, ext))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove image for chart %s: %w", id, err)
	}
	return nil
}

// RemoveAll deletes a chart's whole asset directory. Absence is tolerated.
func (s *AssetStore) RemoveAll(id string) error {
	if err := os.RemoveAll(s.ChartDir(id)); err != nil {
		return fmt.Errorf("failed to remove chart directory for %s: %w", id, err)
	}
	return nil
}

// Rename moves a chart directory to a new id. Used when an insert collides on
// id and the service retries with a fresh one.
func (s *AssetStore) Rename(oldID, newID string) error {
	if err := os.Rename(s.ChartDir(oldID), s.ChartDir(newID)); err != nil {
		return fmt.Errorf("failed to rename chart directory %s -> %s: %w", oldID, newID, err)
	}
	return nil
}
