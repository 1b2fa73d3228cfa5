package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/domain"
)

// SignalRepo implements signals.Repository: the transactional
// find-or-insert pair for one RawSignal/Message.
type SignalRepo struct{ db *sql.DB }

// NewSignalRepo creates a Postgres-backed signal/message repository.
func NewSignalRepo(db *sql.DB) *SignalRepo { return &SignalRepo{db: db} }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (r *SignalRepo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("signal: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// FindMessageByKey reports whether a Message already exists for this
// (store, signal_key, body_hash) triple.
func (r *SignalRepo) FindMessageByKey(ctx context.Context, tx *sql.Tx, storeID int64, signalKey, bodyHash string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM messages
			WHERE store_id = $1 AND signal_key = $2 AND body_hash = $3
		)
	`, storeID, signalKey, bodyHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("signal: find message: %w", err)
	}
	return exists, nil
}

// InsertRawSignal writes the adapter's raw observation.
func (r *SignalRepo) InsertRawSignal(ctx context.Context, tx *sql.Tx, signal domain.RawSignal) (int64, error) {
	metaJSON, err := json.Marshal(signal.Metadata)
	if err != nil {
		return 0, fmt.Errorf("signal: marshal metadata: %w", err)
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO raw_signals
			(store_id, source_type, signal_key, url, observed_at, payload_type,
			 payload_inline, payload_ref, payload_sha256, payload_size_bytes,
			 payload_truncated, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id
	`, signal.StoreID, string(signal.SourceType), signal.SignalKey, signal.URL, signal.ObservedAt,
		string(signal.PayloadType), signal.PayloadInline, signal.PayloadRef, signal.PayloadSHA256,
		signal.PayloadSizeBytes, signal.PayloadTruncated, metaJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("signal: insert raw signal: %w", err)
	}
	return id, nil
}

// InsertMessage writes the normalized ingest envelope for a new signal.
func (r *SignalRepo) InsertMessage(ctx context.Context, tx *sql.Tx, msg domain.Message) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO messages
			(source_message_id, store_id, signal_key, from_address, subject, received_at,
			 body_inline, body_ref, body_hash, top_links, extraction_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (source_message_id) DO NOTHING
		RETURNING id
	`, msg.SourceMessageID, msg.StoreID, msg.SignalKey, msg.From, msg.Subject, msg.ReceivedAt,
		msg.BodyInline, msg.BodyRef, msg.BodyHash, pq.Array(msg.TopLinks), string(msg.ExtractionStatus)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("signal: insert message: %w", err)
	}
	return id, nil
}
