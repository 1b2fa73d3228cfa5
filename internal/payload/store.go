// Package payload implements content-addressed spill-over storage for
// large signal/message bodies: a small inline prefix travels with the
// row, the full body is written once per unique sha256.
package payload

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DefaultInlineCap is the byte threshold below which a body is kept
// entirely inline (~200KB per spec).
const DefaultInlineCap = 200 * 1024

// Prepared is the result of PayloadStore.Prepare.
type Prepared struct {
	InlinePrefix string
	Ref          string // empty when the body fit inline
	SHA256       string
	Size         int64
	Truncated    bool
}

// Backend persists and retrieves content-addressed blobs by sha256. A blob
// written twice under the same sha256 is a no-op on the second write.
type Backend interface {
	// Put stores gzip-compressed bytes under sha256Hex and returns a backend-
	// specific locator to pass back to Get.
	Put(ctx context.Context, sha256Hex string, gzipped []byte) (ref string, err error)
	// Get retrieves and gzip-decompresses the blob at ref.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// BlobRecorder persists the PayloadBlob bookkeeping row; implemented by the
// Postgres repository. Idempotent per sha256.
type BlobRecorder interface {
	EnsureBlobRecord(ctx context.Context, sha256Hex, path string, size int64) error
}

// Store prepares text for storage, spilling to a Backend when it exceeds
// the inline cap.
type Store struct {
	backend   Backend
	recorder  BlobRecorder
	inlineCap int
}

// New creates a PayloadStore. inlineCap <= 0 uses DefaultInlineCap.
func New(backend Backend, recorder BlobRecorder, inlineCap int) *Store {
	if inlineCap <= 0 {
		inlineCap = DefaultInlineCap
	}
	return &Store{backend: backend, recorder: recorder, inlineCap: inlineCap}
}

// Prepare computes the sha256 of text, and either keeps it entirely inline
// (size <= inlineCap) or spills the full body to the backend (gzip
// compressed, named by sha256) while keeping only the first inlineCap bytes
// inline with Truncated=true.
func (s *Store) Prepare(ctx context.Context, text string) (Prepared, error) {
	sum := sha256.Sum256([]byte(text))
	hexSum := hex.EncodeToString(sum[:])
	size := int64(len(text))

	if size <= int64(s.inlineCap) {
		return Prepared{InlinePrefix: text, SHA256: hexSum, Size: size}, nil
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(text)); err != nil {
		return Prepared{}, fmt.Errorf("payload: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return Prepared{}, fmt.Errorf("payload: gzip close: %w", err)
	}

	ref, err := s.backend.Put(ctx, hexSum, buf.Bytes())
	if err != nil {
		return Prepared{}, fmt.Errorf("payload: put blob: %w", err)
	}
	if s.recorder != nil {
		if err := s.recorder.EnsureBlobRecord(ctx, hexSum, ref, size); err != nil {
			return Prepared{}, fmt.Errorf("payload: record blob: %w", err)
		}
	}

	return Prepared{
		InlinePrefix: text[:s.inlineCap],
		Ref:          ref,
		SHA256:       hexSum,
		Size:         size,
		Truncated:    true,
	}, nil
}

// Load decompresses and returns the full body referenced by ref.
func (s *Store) Load(ctx context.Context, ref string) (string, error) {
	data, err := s.backend.Get(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("payload: get blob: %w", err)
	}
	return string(data), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
