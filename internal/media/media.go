package media

import (
	"fmt"
	"io"
	"time"

	"perepiska/internal/filestore"
	"perepiska/internal/models"
	"perepiska/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

// MaxUploadSize bounds a single media upload.
const MaxUploadSize = 32 << 20 // 32 MiB

// Service accepts uploads, classifies them into the supported media
// kinds and hands back the descriptor that messages carry. The content
// itself only ever lives in the file store.
type Service struct {
	files   filestore.BlobStore
	storage *storage.BboltStorage
	baseURL string
	now     func() time.Time
}

func NewService(files filestore.BlobStore, st *storage.BboltStorage, baseURL string) *Service {
	return &Service{
		files:   files,
		storage: st,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Save stores the upload and returns the media descriptor for it.
// Uploads that are not an image, video or audio file are rejected.
func (s *Service) Save(r io.Reader, userID string) (models.Media, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return models.Media{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return models.Media{}, fmt.Errorf("%w: upload exceeds %d bytes", models.ErrValidation, MaxUploadSize)
	}

	kind, mime, err := classify(data)
	if err != nil {
		return models.Media{}, err
	}

	digest, err := s.files.Put(data)
	if err != nil {
		return models.Media{}, fmt.Errorf("failed to store upload: %w", err)
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      digest,
		MimeType:  mime,
		Kind:      string(kind),
		Size:      int64(len(data)),
		CreatedAt: s.now().Unix(),
		UserID:    userID,
	}
	if err := s.storage.UpsertFileMetadata(meta); err != nil {
		return models.Media{}, fmt.Errorf("failed to store file metadata: %w", err)
	}

	return models.Media{
		Kind: kind,
		URL:  fmt.Sprintf("%s/api/media/%s", s.baseURL, meta.ID),
	}, nil
}

// Open returns the stored content and metadata for a media ID.
func (s *Service) Open(id string) (io.ReadCloser, storage.FileMetadata, error) {
	meta, err := s.storage.GetFileMetadata(id)
	if err != nil {
		return nil, storage.FileMetadata{}, models.ErrNotFound
	}
	rc, err := s.files.Open(meta.Hash)
	if err != nil {
		return nil, storage.FileMetadata{}, fmt.Errorf("failed to open media %s: %w", id, err)
	}
	return rc, meta, nil
}

func classify(data []byte) (models.MediaKind, string, error) {
	t, err := filetype.Match(data)
	if err != nil {
		return "", "", fmt.Errorf("failed to detect file type: %w", err)
	}
	switch {
	case filetype.IsImage(data):
		return models.MediaKindImage, t.MIME.Value, nil
	case filetype.IsVideo(data):
		return models.MediaKindVideo, t.MIME.Value, nil
	case filetype.IsAudio(data):
		return models.MediaKindAudio, t.MIME.Value, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported media type", models.ErrValidation)
	}
}
