package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// BlobRepo implements payload.BlobRecorder against PostgreSQL.
type BlobRepo struct{ db *sql.DB }

// NewBlobRepo creates a Postgres-backed payload blob bookkeeping repository.
func NewBlobRepo(db *sql.DB) *BlobRepo { return &BlobRepo{db: db} }

// EnsureBlobRecord records that sha256Hex's gzip blob lives at path, as a
// no-op when already recorded (a blob is immutable once written).
func (r *BlobRepo) EnsureBlobRecord(ctx context.Context, sha256Hex, path string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payload_blobs (sha256, path, size, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (sha256) DO NOTHING
	`, sha256Hex, path, size)
	if err != nil {
		return fmt.Errorf("blob: ensure record: %w", err)
	}
	return nil
}
