package chart

import (
	"errors"
	"fmt"
	"io"

	"github.com/troylu8/chuuni-keys-server/core/archive"
	"github.com/troylu8/chuuni-keys-server/core/audio"
	"github.com/troylu8/chuuni-keys-server/core/auth"
	"github.com/troylu8/chuuni-keys-server/logger"
	"github.com/troylu8/chuuni-keys-server/model"
	"github.com/troylu8/chuuni-keys-server/repository"
	"github.com/troylu8/chuuni-keys-server/storage"
)

var (
	// ErrNotFound indicates an unknown chart id.
	ErrNotFound = errors.New("chart not found")
	// ErrUnauthorized indicates an ownership secret mismatch.
	ErrUnauthorized = errors.New("ownership secret mismatch")
	// ErrInvalidInput indicates missing or invalid client-supplied data.
	ErrInvalidInput = errors.New("invalid input")
)

// PageSize is the fixed number of summaries per listing page.
const PageSize = 50

// maxIDAttempts bounds the duplicate-id retry loop on create.
const maxIDAttempts = 3

// Assets holds the uploaded asset streams of a create or update request.
// Chart and Audio are required on create; on update any nil stream keeps the
// stored file.
type Assets struct {
	Chart io.Reader
	Audio io.Reader
	Img   io.Reader
}

// Service implements the chart lifecycle: list, create, update, delete,
// export. It is the only component that mutates chart rows and asset
// directories, and it keeps the two paired.
type Service struct {
	repo    repository.ChartRepository
	assets  *storage.AssetStore
	preview audio.PreviewGenerator
}

// NewService creates a chart service.
func NewService(repo repository.ChartRepository, assets *storage.AssetStore, preview audio.PreviewGenerator) *Service {
	return &Service{repo: repo, assets: assets, preview: preview}
}

// List returns the total chart count and one page of summaries. Pages are
// 0-indexed here; the HTTP layer converts external 1-indexed pages. An
// out-of-range page yields an empty slice, not an error.
func (s *Service) List(page int64) (int64, []*model.ChartSummary, error) {
	if page < 0 {
		page = 0
	}

	total, err := s.repo.Count()
	if err != nil {
		return 0, nil, err
	}

	summaries, err := s.repo.List(page*PageSize, PageSize)
	if err != nil {
		return 0, nil, err
	}
	return total, summaries, nil
}

// Create validates metadata, mints an ownership secret, writes assets and
// inserts the chart row. The row and the asset directory come into existence
// together: if the insert fails the written directory is rolled back.
// Returns the new id and the raw secret. The secret is recoverable only from
// this return value.
func (s *Service) Create(meta *model.ChartMeta, assets Assets) (string, string, error) {
	if err := meta.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if assets.Chart == nil {
		return "", "", fmt.Errorf("%w: missing chart file", ErrInvalidInput)
	}
	if assets.Audio == nil {
		return "", "", fmt.Errorf("%w: missing audio file", ErrInvalidInput)
	}
	if meta.ImgExt != nil && assets.Img == nil {
		return "", "", fmt.Errorf("%w: metadata declares img_ext but no image file was supplied", ErrInvalidInput)
	}

	secret, err := auth.MintSecret()
	if err != nil {
		return "", "", err
	}
	ownerHash, err := auth.HashSecret(secret)
	if err != nil {
		return "", "", err
	}

	id := GenerateID()
	if err := s.saveAssets(id, meta, assets); err != nil {
		s.rollbackAssets(id)
		return "", "", err
	}

	record := meta.ToChart(id, ownerHash)
	for attempt := 1; ; attempt++ {
		err := s.repo.Insert(record)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateID) && attempt < maxIDAttempts {
			// Collision on the generated id: move the already-written
			// directory under a fresh id and try again.
			newID := GenerateID()
			logger.Warn("chart id collision, retrying with fresh id",
				logger.String("oldId", id), logger.String("newId", newID))
			if renameErr := s.assets.Rename(id, newID); renameErr != nil {
				s.rollbackAssets(id)
				return "", "", renameErr
			}
			id = newID
			record.ID = newID
			continue
		}
		s.rollbackAssets(id)
		return "", "", fmt.Errorf("failed to insert chart: %w", err)
	}

	s.spawnPreview(record)
	return id, secret, nil
}

// Update verifies ownership and replaces a chart's metadata and any supplied
// assets. The row is replaced before any asset is touched; if a later asset
// write fails the previous row is restored.
func (s *Service) Update(id, secret string, meta *model.ChartMeta, assets Assets) error {
	existing, err := s.getChart(id)
	if err != nil {
		return err
	}
	if !auth.CheckSecret(secret, existing.OwnerHash) {
		return ErrUnauthorized
	}

	if err := meta.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	// A changed extension with no replacement stream would leave the row
	// pointing at a file that doesn't exist.
	if *meta.AudioExt != existing.AudioExt && assets.Audio == nil {
		return fmt.Errorf("%w: audio_ext changed but no audio file was supplied", ErrInvalidInput)
	}
	if meta.ImgExt != nil && assets.Img == nil &&
		(existing.ImgExt == nil || *existing.ImgExt != *meta.ImgExt) {
		return fmt.Errorf("%w: img_ext changed but no image file was supplied", ErrInvalidInput)
	}

	record := meta.ToChart(id, existing.OwnerHash)
	if err := s.repo.Replace(record); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.saveAssets(id, meta, assets); err != nil {
		// Compensate: put the previous row back so it keeps matching the
		// files on disk.
		if restoreErr := s.repo.Replace(existing); restoreErr != nil {
			logger.Error("failed to restore chart row after asset write failure",
				logger.String("id", id), logger.ErrorField(restoreErr))
		}
		return err
	}

	// Drop the old image when it was replaced by another extension or removed.
	if existing.ImgExt != nil && (meta.ImgExt == nil || *meta.ImgExt != *existing.ImgExt) {
		if err := s.assets.RemoveImage(id, *existing.ImgExt); err != nil {
			logger.Warn("failed to remove stale chart image",
				logger.String("id", id), logger.ErrorField(err))
		}
	}

	if assets.Audio != nil || record.PreviewTime != existing.PreviewTime {
		s.spawnPreview(record)
	}
	return nil
}

// Delete verifies ownership and removes a chart. The row goes first, then the
// asset directory: a directory-removal failure after the row is gone is
// logged as an inconsistency but the delete still succeeds, so no orphan row
// can exist.
func (s *Service) Delete(id, secret string) error {
	existing, err := s.getChart(id)
	if err != nil {
		return err
	}
	if !auth.CheckSecret(secret, existing.OwnerHash) {
		return ErrUnauthorized
	}

	if err := s.repo.Delete(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.assets.RemoveAll(id); err != nil {
		logger.Error("chart directory removal failed after row deletion",
			logger.String("id", id), logger.ErrorField(err))
	}
	return nil
}

// Export packs a chart's metadata and assets into a zip bundle. The returned
// content type is application/zip. The owner hash is never part of the bundle.
func (s *Service) Export(id string) ([]byte, string, error) {
	chart, err := s.getChart(id)
	if err != nil {
		return nil, "", err
	}
	meta := model.MetaFromChart(chart)

	chartFile, err := s.assets.Open(id, storage.KindChart, "txt")
	if err != nil {
		return nil, "", err
	}
	defer chartFile.Close()

	audioFile, err := s.assets.Open(id, storage.KindAudio, chart.AudioExt)
	if err != nil {
		return nil, "", err
	}
	defer audioFile.Close()

	var imgFile io.ReadCloser
	if chart.ImgExt != nil {
		if imgFile, err = s.assets.Open(id, storage.KindImg, *chart.ImgExt); err != nil {
			return nil, "", err
		}
		defer imgFile.Close()
	}

	var img io.Reader
	if imgFile != nil {
		img = imgFile
	}
	data, err := archive.Pack(meta, chartFile, audioFile, img)
	if err != nil {
		return nil, "", err
	}
	return data, "application/zip", nil
}

func (s *Service) getChart(id string) (*model.Chart, error) {
	chart, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return chart, nil
}

// saveAssets writes whichever streams are present. Meta must be validated.
func (s *Service) saveAssets(id string, meta *model.ChartMeta, assets Assets) error {
	if assets.Chart != nil {
		if err := s.assets.Save(id, storage.KindChart, assets.Chart, "txt"); err != nil {
			return err
		}
	}
	if assets.Audio != nil {
		if err := s.assets.Save(id, storage.KindAudio, assets.Audio, *meta.AudioExt); err != nil {
			return err
		}
	}
	if assets.Img != nil && meta.ImgExt != nil {
		if err := s.assets.Save(id, storage.KindImg, assets.Img, *meta.ImgExt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) rollbackAssets(id string) {
	if err := s.assets.RemoveAll(id); err != nil {
		logger.Error("failed to roll back chart assets",
			logger.String("id", id), logger.ErrorField(err))
	}
}

// spawnPreview kicks off out-of-band preview generation. Failure is logged
// and swallowed: a missing preview is a degraded-but-valid state.
func (s *Service) spawnPreview(record *model.Chart) {
	if s.preview == nil {
		return
	}
	input := s.assets.AssetPath(record.ID, storage.KindAudio, record.AudioExt)
	output := s.assets.AssetPath(record.ID, storage.KindPreview, "mp3")
	offset := record.PreviewTime

	go func() {
		if err := s.preview.GeneratePreview(input, offset, output); err != nil {
			logger.Warn("preview generation failed",
				logger.String("id", record.ID), logger.ErrorField(err))
		}
	}()
}
