// Package signals persists discovered signals: per-signal
// body-hash dedup against existing Messages, with payload spill-over and
// a single transactional insert per new signal.
package signals

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/payload"
	"github.com/ignite/promo-digest/internal/signalkey"
)

// Repository is the persistence surface SignalPersister drives, implemented
// by the Postgres repository. FindMessage and the two inserts must run in
// one transaction per signal so a concurrent duplicate insert loses safely.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	FindMessageByKey(ctx context.Context, tx *sql.Tx, storeID int64, signalKey, bodyHash string) (found bool, err error)
	InsertRawSignal(ctx context.Context, tx *sql.Tx, signal domain.RawSignal) (int64, error)
	InsertMessage(ctx context.Context, tx *sql.Tx, msg domain.Message) (int64, error)
}

// Persister computes body_hash, dedups against existing Messages, and
// writes the RawSignal + Message pair for anything new.
type Persister struct {
	repo    Repository
	payload *payload.Store
}

// New builds a Persister.
func New(repo Repository, store *payload.Store) *Persister {
	return &Persister{repo: repo, payload: store}
}

// Outcome reports per-signal disposition for logging/metrics.
type Outcome struct {
	Inserted int
	Skipped  int
}

// Persist ingests a batch of signals discovered in one adapter call,
// returning the count of genuinely new Messages written.
func (p *Persister) Persist(ctx context.Context, rawSignals []domain.RawSignal) (int, error) {
	outcome := Outcome{}
	for _, sig := range rawSignals {
		if err := ctx.Err(); err != nil {
			return outcome.Inserted, err
		}
		inserted, err := p.persistOne(ctx, sig)
		if err != nil {
			return outcome.Inserted, err
		}
		if inserted {
			outcome.Inserted++
		} else {
			outcome.Skipped++
		}
	}
	return outcome.Inserted, nil
}

func (p *Persister) persistOne(ctx context.Context, sig domain.RawSignal) (bool, error) {
	normalizedText := sig.PayloadInline
	bodyHash := signalkey.BodyHash(normalizedText)

	inserted := false
	err := p.repo.WithTx(ctx, func(tx *sql.Tx) error {
		found, err := p.repo.FindMessageByKey(ctx, tx, sig.StoreID, sig.SignalKey, bodyHash)
		if err != nil {
			return fmt.Errorf("signals: find existing message: %w", err)
		}
		if found {
			return nil
		}

		prepared, err := p.payload.Prepare(ctx, normalizedText)
		if err != nil {
			return fmt.Errorf("signals: prepare payload: %w", err)
		}
		sig.PayloadInline = prepared.InlinePrefix
		sig.PayloadRef = prepared.Ref
		sig.PayloadSHA256 = prepared.SHA256
		sig.PayloadSizeBytes = prepared.Size
		sig.PayloadTruncated = prepared.Truncated

		signalID, err := p.repo.InsertRawSignal(ctx, tx, sig)
		if err != nil {
			return fmt.Errorf("signals: insert raw signal: %w", err)
		}

		msg := domain.Message{
			SourceMessageID:  signalkey.MessageID(storeKey(sig.StoreID), sig.SignalKey, bodyHash),
			StoreID:          &sig.StoreID,
			SignalKey:        sig.SignalKey,
			ReceivedAt:       sig.ObservedAt,
			BodyInline:       prepared.InlinePrefix,
			BodyRef:          prepared.Ref,
			BodyHash:         bodyHash,
			TopLinks:         sig.Metadata.TopLinks,
			ExtractionStatus: domain.ExtractionPending,
		}
		if _, err := p.repo.InsertMessage(ctx, tx, msg); err != nil {
			return fmt.Errorf("signals: insert message: %w", err)
		}
		_ = signalID
		inserted = true
		return nil
	})
	return inserted, err
}

func storeKey(storeID int64) string {
	return fmt.Sprintf("store:%d", storeID)
}
