// Package extract invokes the external LLM
// for pending messages, applies the input/flight gates, and persists an
// audit Extraction row per attempt.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/llm"
	"github.com/ignite/promo-digest/internal/pkg/logger"
)

// Repository is the persistence surface the Extractor drives.
type Repository interface {
	ListPendingMessages(ctx context.Context) ([]domain.Message, error)
	MarkSkippedDuplicate(ctx context.Context, messageID int64) error
	InsertExtraction(ctx context.Context, ext domain.Extraction) (int64, error)
	MarkExtractionStatus(ctx context.Context, messageID int64, status domain.ExtractionStatus, errMsg string) error
	StoreSlugOrDomain(ctx context.Context, msg domain.Message) (string, error)
}

// Extractor drives one extraction pass over pending Messages.
type Extractor struct {
	repo   Repository
	llm    llm.Extractor
	model  string
	prefs  FlightPreferences
	maxRun int
}

// New builds an Extractor. maxRun <= 0 means unlimited.
func New(repo Repository, model llm.Extractor, modelID string, prefs FlightPreferences, maxPerRun int) *Extractor {
	return &Extractor{repo: repo, llm: model, model: modelID, prefs: prefs, maxRun: maxPerRun}
}

// Stats summarizes one extraction pass.
type Stats struct {
	Processed        int
	Success          int
	Errors           int
	SkippedDuplicate int
}

// Run processes pending Messages newest-received-first, applying the
// dedup_pending pre-pass before invoking the LLM for the remainder.
func (e *Extractor) Run(ctx context.Context) (Stats, error) {
	stats := Stats{}

	messages, err := e.repo.ListPendingMessages(ctx)
	if err != nil {
		return stats, fmt.Errorf("extract: list pending: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ReceivedAt.After(messages[j].ReceivedAt) })

	toProcess := e.dedupPending(ctx, messages, &stats)

	if e.maxRun > 0 && len(toProcess) > e.maxRun {
		toProcess = toProcess[:e.maxRun]
	}

	for _, msg := range toProcess {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Processed++
		if err := e.processOne(ctx, msg); err != nil {
			stats.Errors++
			logger.Error("extract: message failed", "message_id", msg.ID, "error", err)
			continue
		}
		stats.Success++
	}

	return stats, nil
}

// dedupPending scans pending messages in descending received_at and marks
// as skipped_duplicate any whose key (store-or-from-domain, BodyHash) has
// already been seen earlier in the scan. The key is built from BodyHash
// alone; no payload sha256 is consulted.
func (e *Extractor) dedupPending(ctx context.Context, messages []domain.Message, stats *Stats) []domain.Message {
	seen := make(map[string]bool)
	var kept []domain.Message

	for _, msg := range messages {
		scope, err := e.repo.StoreSlugOrDomain(ctx, msg)
		if err != nil {
			scope = fromDomain(msg.From)
		}
		contentKey := msg.BodyHash
		key := scope + "|" + contentKey

		if seen[key] {
			if err := e.repo.MarkSkippedDuplicate(ctx, msg.ID); err != nil {
				logger.Error("extract: mark skipped_duplicate failed", "message_id", msg.ID, "error", err)
			}
			stats.SkippedDuplicate++
			continue
		}
		seen[key] = true
		kept = append(kept, msg)
	}
	return kept
}

func fromDomain(from string) string {
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return strings.ToLower(from)
	}
	return strings.ToLower(from[at+1:])
}

func (e *Extractor) processOne(ctx context.Context, msg domain.Message) error {
	result, err := e.llm.Extract(ctx, msg.Subject, msg.From, msg.BodyInline)
	if err != nil {
		e.repo.InsertExtraction(ctx, domain.Extraction{MessageID: msg.ID, Model: e.model, Error: err.Error()})
		if merr := e.repo.MarkExtractionStatus(ctx, msg.ID, domain.ExtractionError, err.Error()); merr != nil {
			return merr
		}
		return fmt.Errorf("llm extract: %w", err)
	}

	if result.IsPromoEmail {
		result.Promos = FilterPromos(result.Promos, e.prefs)
	} else {
		result.Promos = nil
	}

	if _, err := e.repo.InsertExtraction(ctx, domain.Extraction{MessageID: msg.ID, Model: e.model, Extracted: result}); err != nil {
		return fmt.Errorf("persist extraction: %w", err)
	}
	return e.repo.MarkExtractionStatus(ctx, msg.ID, domain.ExtractionSuccess, "")
}
