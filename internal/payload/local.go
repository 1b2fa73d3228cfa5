package payload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBackend stores gzip blobs as files named <sha256>.txt.gz under a
// configured directory, mirroring the S3 backend's key layout on plain
// local disk for operator-local deployments.
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates a LocalBackend rooted at dir, creating it if
// necessary.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("payload: create blob dir: %w", err)
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) pathFor(sha256Hex string) string {
	return filepath.Join(b.dir, sha256Hex+".txt.gz")
}

// Put writes gzipped bytes to disk, idempotently (a repeat write for the
// same sha256 is a no-op success).
func (b *LocalBackend) Put(ctx context.Context, sha256Hex string, gzipped []byte) (string, error) {
	path := b.pathFor(sha256Hex)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, gzipped, 0o644); err != nil {
		return "", fmt.Errorf("payload: write %s: %w", path, err)
	}
	return path, nil
}

// Get reads and gzip-decompresses the blob at ref (a filesystem path).
func (b *LocalBackend) Get(ctx context.Context, ref string) ([]byte, error) {
	raw, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("payload: read %s: %w", ref, err)
	}
	return gunzip(raw)
}
