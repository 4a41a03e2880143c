package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalBlobStore is a BlobStore on the local filesystem. Payloads are
// sharded by the first two digest characters to keep directories small,
// and land via temp file plus rename so a crash never leaves a partial
// blob under its final name.
type LocalBlobStore struct {
	root string
}

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (s *LocalBlobStore) path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest)
}

func (s *LocalBlobStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		// Same bytes, same digest. The upload is a duplicate.
		return digest, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to rename blob into place: %w", err)
	}
	return digest, nil
}

func (s *LocalBlobStore) Open(digest string) (io.ReadCloser, error) {
	if len(digest) != sha256.Size*2 {
		return nil, fmt.Errorf("malformed digest %q", digest)
	}
	f, err := os.Open(s.path(digest))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", digest, err)
	}
	return f, nil
}
