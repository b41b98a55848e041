package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore persists binary assets under the data directory and hands out
// public URLs for them. The HTTP server serves Dir() under /files/.
type BlobStore struct {
	dir     string
	baseURL string
}

// NewBlobStore creates the blobs directory under dataDir if needed.
func NewBlobStore(dataDir, publicBaseURL string) (*BlobStore, error) {
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blobs directory: %w", err)
	}
	return &BlobStore{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Put writes data under the given name and returns its public URL.
func (b *BlobStore) Put(data []byte, name string) (string, error) {
	name = filepath.Base(name) // no path traversal via caller-chosen ids
	if err := os.WriteFile(filepath.Join(b.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", name, err)
	}
	return b.baseURL + "/files/" + name, nil
}

// Dir returns the directory blobs are written to.
func (b *BlobStore) Dir() string {
	return b.dir
}
