package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/orchestrator"
)

// RunRepo implements orchestrator.RunRepository and orchestrator.MergeSource
// against PostgreSQL.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

// FindRun looks up the Run for (run_type, digest_date), the pair the
// unique constraint enforces send-once-per-day on.
func (r *RunRepo) FindRun(ctx context.Context, runType domain.RunType, digestDate string) (domain.Run, bool, error) {
	var run domain.Run
	var status string
	var statsJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, run_type, digest_date, started_at, finished_at, status,
		       digest_sent_at, stats, COALESCE(error,'')
		FROM runs WHERE run_type = $1 AND digest_date = $2
	`, string(runType), digestDate).Scan(&run.ID, &run.RunType, &run.DigestDate, &run.StartedAt,
		&run.FinishedAt, &status, &run.DigestSentAt, &statsJSON, &run.Error)
	if err == sql.ErrNoRows {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, fmt.Errorf("run: find: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if len(statsJSON) > 0 {
		json.Unmarshal(statsJSON, &run.Stats)
	}
	return run, true, nil
}

// CreateRun inserts a new running Run row.
func (r *RunRepo) CreateRun(ctx context.Context, run domain.Run) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO runs (run_type, digest_date, started_at, status, stats, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (run_type, digest_date) DO UPDATE SET run_type = EXCLUDED.run_type
		RETURNING id
	`, string(run.RunType), run.DigestDate, run.StartedAt, string(run.Status), []byte("{}")).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("run: create: %w", err)
	}
	return id, nil
}

// UpdateRunStats writes the structured per-phase stats rollup.
func (r *RunRepo) UpdateRunStats(ctx context.Context, runID int64, stats domain.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("run: marshal stats: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE runs SET stats = $1 WHERE id = $2`, statsJSON, runID)
	if err != nil {
		return fmt.Errorf("run: update stats: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status, error message, and (on successful
// delivery) digest_sent_at.
func (r *RunRepo) FinishRun(ctx context.Context, runID int64, status domain.RunStatus, errMsg string, digestSentAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, error = $2, finished_at = NOW(),
			digest_sent_at = COALESCE($3, digest_sent_at)
		WHERE id = $4
	`, string(status), errMsg, digestSentAt, runID)
	if err != nil {
		return fmt.Errorf("run: finish: %w", err)
	}
	return nil
}

// MarkNotified sets last_notified_at on every emitted Promo.
func (r *RunRepo) MarkNotified(ctx context.Context, promoIDs []int64, at time.Time) error {
	if len(promoIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE promos SET last_notified_at = $1 WHERE id = ANY($2)
	`, at, pq.Array(promoIDs))
	if err != nil {
		return fmt.Errorf("run: mark notified: %w", err)
	}
	return nil
}

// ListUnmergedExtractions returns every successful Extraction not yet
// folded into the Promo set by PromoMerger.
func (r *RunRepo) ListUnmergedExtractions(ctx context.Context) ([]orchestrator.PendingMerge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, m.store_id, e.message_id, e.extracted
		FROM extractions e
		JOIN messages m ON m.id = e.message_id
		WHERE e.error = '' AND e.merged_at IS NULL AND m.store_id IS NOT NULL
		ORDER BY e.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("run: list unmerged: %w", err)
	}
	defer rows.Close()

	var out []orchestrator.PendingMerge
	for rows.Next() {
		var extractionID int64
		var storeID, messageID int64
		var resultJSON []byte
		if err := rows.Scan(&extractionID, &storeID, &messageID, &resultJSON); err != nil {
			return nil, fmt.Errorf("run: scan unmerged: %w", err)
		}
		var result domain.ExtractionResult
		json.Unmarshal(resultJSON, &result)
		out = append(out, orchestrator.PendingMerge{StoreID: storeID, MessageID: messageID, Result: result})
	}
	return out, rows.Err()
}

// ListRecentRuns returns the most recent Runs, newest first, for the
// status surface.
func (r *RunRepo) ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_type, digest_date, started_at, finished_at, status,
		       digest_sent_at, stats, COALESCE(error,'')
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("run: list recent: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		var run domain.Run
		var status string
		var statsJSON []byte
		if err := rows.Scan(&run.ID, &run.RunType, &run.DigestDate, &run.StartedAt,
			&run.FinishedAt, &status, &run.DigestSentAt, &statsJSON, &run.Error); err != nil {
			return nil, fmt.Errorf("run: scan recent: %w", err)
		}
		run.Status = domain.RunStatus(status)
		if len(statsJSON) > 0 {
			json.Unmarshal(statsJSON, &run.Stats)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// MarkMerged flags the latest Extraction for messageID as folded into the
// Promo set so subsequent runs don't reprocess it.
func (r *RunRepo) MarkMerged(ctx context.Context, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE extractions SET merged_at = NOW()
		WHERE message_id = $1 AND merged_at IS NULL
	`, messageID)
	if err != nil {
		return fmt.Errorf("run: mark merged: %w", err)
	}
	return nil
}
