// Package filestore keeps uploaded media payloads on disk, addressed
// by content digest. Message records and file metadata only ever carry
// the digest; the bytes themselves live here.
package filestore

import (
	"io"
)

// BlobStore stores media payloads content-addressed by digest.
type BlobStore interface {
	// Put stores the payload and returns its content digest. Storing
	// the same bytes twice yields the same digest and writes nothing.
	Put(data []byte) (string, error)

	// Open streams a previously stored payload.
	Open(digest string) (io.ReadCloser, error)
}
