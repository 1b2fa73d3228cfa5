package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/domain"
)

// ExtractionRepo implements extract.Repository against PostgreSQL.
type ExtractionRepo struct{ db *sql.DB }

// NewExtractionRepo creates a Postgres-backed extraction repository.
func NewExtractionRepo(db *sql.DB) *ExtractionRepo { return &ExtractionRepo{db: db} }

// ListPendingMessages returns every Message still awaiting extraction.
func (r *ExtractionRepo) ListPendingMessages(ctx context.Context) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_message_id, store_id, signal_key, from_address, subject,
		       received_at, body_inline, body_ref, body_hash, top_links,
		       extraction_status, COALESCE(extraction_error,''), created_at
		FROM messages
		WHERE extraction_status = $1
	`, string(domain.ExtractionPending))
	if err != nil {
		return nil, fmt.Errorf("extraction: list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var status string
		if err := rows.Scan(&m.ID, &m.SourceMessageID, &m.StoreID, &m.SignalKey, &m.From, &m.Subject,
			&m.ReceivedAt, &m.BodyInline, &m.BodyRef, &m.BodyHash, pq.Array(&m.TopLinks),
			&status, &m.ExtractionError, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("extraction: scan message: %w", err)
		}
		m.ExtractionStatus = domain.ExtractionStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSkippedDuplicate flags a Message as skipped by the dedup_pending pre-pass.
func (r *ExtractionRepo) MarkSkippedDuplicate(ctx context.Context, messageID int64) error {
	return r.MarkExtractionStatus(ctx, messageID, domain.ExtractionSkippedDuplicate, "")
}

// InsertExtraction records one LLM invocation's result for audit.
func (r *ExtractionRepo) InsertExtraction(ctx context.Context, ext domain.Extraction) (int64, error) {
	raw, err := ext.Extracted.RawJSON()
	if err != nil {
		return 0, fmt.Errorf("extraction: marshal result: %w", err)
	}
	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO extractions (message_id, model, extracted, error, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id
	`, ext.MessageID, ext.Model, raw, ext.Error).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("extraction: insert: %w", err)
	}
	return id, nil
}

// MarkExtractionStatus updates a Message's extraction_status/error.
func (r *ExtractionRepo) MarkExtractionStatus(ctx context.Context, messageID int64, status domain.ExtractionStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET extraction_status = $1, extraction_error = $2 WHERE id = $3
	`, string(status), errMsg, messageID)
	if err != nil {
		return fmt.Errorf("extraction: mark status: %w", err)
	}
	return nil
}

// StoreSlugOrDomain returns the owning store's slug when the Message came
// from a web adapter, or the From-address domain for mailbox-sourced
// Messages with no store association.
func (r *ExtractionRepo) StoreSlugOrDomain(ctx context.Context, msg domain.Message) (string, error) {
	if msg.StoreID != nil {
		var slug string
		err := r.db.QueryRowContext(ctx, `SELECT slug FROM stores WHERE id = $1`, *msg.StoreID).Scan(&slug)
		if err != nil {
			return "", fmt.Errorf("extraction: store slug: %w", err)
		}
		return slug, nil
	}
	at := strings.LastIndex(msg.From, "@")
	if at < 0 {
		return strings.ToLower(msg.From), nil
	}
	return strings.ToLower(msg.From[at+1:]), nil
}
