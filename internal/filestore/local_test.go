package filestore

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBlobStore(t *testing.T) {
	store, err := NewLocalBlobStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("not actually a jpeg")
	digest, err := store.Put(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(digest) != 64 {
		t.Fatalf("expected a sha256 hex digest, got %q", digest)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		rc, err := store.Open(digest)
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(payload) {
			t.Errorf("expected %q back, got %q", payload, got)
		}
	})

	t.Run("Sharding", func(t *testing.T) {
		if _, err := os.Stat(store.path(digest)); err != nil {
			t.Fatal(err)
		}
		if filepath.Dir(store.path(digest)) == store.root {
			t.Error("expected the blob sharded into a subdirectory")
		}
	})

	t.Run("DuplicatePut", func(t *testing.T) {
		again, err := store.Put(payload)
		if err != nil {
			t.Fatal(err)
		}
		if again != digest {
			t.Errorf("expected the same digest for the same bytes, got %q and %q", digest, again)
		}
	})

	t.Run("UnknownDigest", func(t *testing.T) {
		missing := "00000000000000000000000000000000000000000000000000000000000000aa"
		if _, err := store.Open(missing); err == nil {
			t.Error("expected an error opening an unknown digest")
		}
	})

	t.Run("MalformedDigest", func(t *testing.T) {
		if _, err := store.Open("x"); err == nil {
			t.Error("expected an error for a malformed digest")
		}
	})
}
