package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nanlv11/business-gemini-pool/internal/domain"
)

// Uploader is the slice of the vendor client the file service needs.
type Uploader interface {
	AddContextFile(ctx domain.Context, token, session, teamID string, data []byte, filename, mimeType string) (string, error)
}

// FileService uploads files into vendor sessions with the same
// attempts-bounded account failover as chat, and keeps the process-wide
// registry mapping synthesized external handles to vendor file ids.
type FileService struct {
	pool     AccountSource
	uploader Uploader

	mu    sync.RWMutex
	files map[string]domain.FileMapping
	order []string
}

// NewFileService constructs a FileService.
func NewFileService(pool AccountSource, uploader Uploader) *FileService {
	return &FileService{
		pool:     pool,
		uploader: uploader,
		files:    make(map[string]domain.FileMapping),
	}
}

// Upload pushes the file to the vendor under a rotating account and records
// the mapping under a fresh external handle.
func (s *FileService) Upload(ctx domain.Context, data []byte, filename, mimeType string) (domain.FileMapping, error) {
	total, _ := s.pool.Counts()
	if total == 0 {
		return domain.FileMapping{}, domain.ErrNoAccounts
	}

	var lastErr error
	for attempt := 0; attempt < total; attempt++ {
		index, account, err := s.pool.AcquireNext()
		if err != nil {
			if lastErr != nil {
				return domain.FileMapping{}, fmt.Errorf("%w: %v", domain.ErrAllAccountsFailed, lastErr)
			}
			return domain.FileMapping{}, err
		}

		session, token, teamID, err := s.pool.EnsureReady(ctx, index, account)
		if err != nil {
			lastErr = err
			continue
		}

		vendorID, err := s.uploader.AddContextFile(ctx, token, session, teamID, data, filename, mimeType)
		if err != nil {
			lastErr = err
			slog.Warn("file upload failed, rotating", slog.Int("account", index), slog.Any("error", err))
			continue
		}

		mapping := domain.FileMapping{
			ID:        newFileID(),
			VendorID:  vendorID,
			Session:   session,
			Filename:  filename,
			MIMEType:  mimeType,
			Size:      int64(len(data)),
			CreatedAt: time.Now().UTC(),
		}
		s.mu.Lock()
		s.files[mapping.ID] = mapping
		s.order = append(s.order, mapping.ID)
		s.mu.Unlock()
		slog.Info("file uploaded", slog.String("file_id", mapping.ID), slog.String("vendor_file_id", vendorID), slog.Int64("bytes", mapping.Size))
		return mapping, nil
	}

	return domain.FileMapping{}, fmt.Errorf("%w: %v", domain.ErrAllAccountsFailed, lastErr)
}

func newFileID() string {
	hex := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return "file-" + hex[:24]
}

// Get looks up a mapping by its external handle.
func (s *FileService) Get(id string) (domain.FileMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.files[id]
	if !ok {
		return domain.FileMapping{}, fmt.Errorf("%w: file %s", domain.ErrNotFound, id)
	}
	return mapping, nil
}

// Delete removes a mapping; the vendor-side file is left alone.
func (s *FileService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, id)
	}
	delete(s.files, id)
	for i, fid := range s.order {
		if fid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all mappings in upload order.
func (s *FileService) List() []domain.FileMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FileMapping, 0, len(s.order))
	for _, id := range s.order {
		if mapping, ok := s.files[id]; ok {
			out = append(out, mapping)
		}
	}
	return out
}

// TranslateIDs maps external handles to vendor file ids, skipping unknown
// handles with a warning so one stale reference does not sink the request.
func (s *FileService) TranslateIDs(ids []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if mapping, ok := s.files[id]; ok {
			out = append(out, mapping.VendorID)
		} else {
			slog.Warn("unknown file handle ignored", slog.String("file_id", id))
		}
	}
	return out
}
