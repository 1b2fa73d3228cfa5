// Package promos merges extracted candidates into the canonical per-store
// dedup key, change detection against the matching existing Promo, and the
// monotonic PromoChange log.
package promos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/extract"
)

// matchingWindow is the lookback for an existing Promo to still be
// considered "the same offer" by last_seen_at.
const matchingWindow = 30 * 24 * time.Hour

// endedGrace lets a Promo whose end date passed within 2 days still match.
const endedGrace = 2 * 24 * time.Hour

// Repository is the persistence surface PromoMerger drives.
type Repository interface {
	FindMatchingPromo(ctx context.Context, storeID int64, baseKey string, now time.Time) (domain.Promo, bool, error)
	CreatePromo(ctx context.Context, promo domain.Promo) (int64, error)
	UpdatePromo(ctx context.Context, promo domain.Promo) error
	InsertChangeIfAbsent(ctx context.Context, change domain.PromoChange) (inserted bool, err error)
	EnsureEvidenceLink(ctx context.Context, promoID, messageID int64) error
}

// Merger folds one ExtractionResult's promos into the canonical Promo set.
type Merger struct {
	repo  Repository
	prefs extract.FlightPreferences
}

// New builds a Merger.
func New(repo Repository, prefs extract.FlightPreferences) *Merger {
	return &Merger{repo: repo, prefs: prefs}
}

// Stats summarizes one merge pass.
type Stats struct {
	Created int
	Updated int
	Changes int
	Errors  int
	Skipped int
}

// MergeExtraction applies the shared input gates, then merges each surviving
// candidate promo for the given store/message. Errors on individual
// candidates are logged into Stats.Errors and do not abort the batch.
func (m *Merger) MergeExtraction(ctx context.Context, storeID, messageID int64, result domain.ExtractionResult) Stats {
	stats := Stats{}
	if !result.IsPromoEmail {
		stats.Skipped += len(result.Promos)
		return stats
	}

	candidates := extract.FilterPromos(result.Promos, m.prefs)
	stats.Skipped += len(result.Promos) - len(candidates)

	now := time.Now()
	for _, candidate := range candidates {
		if err := m.mergeOne(ctx, storeID, messageID, candidate, now, &stats); err != nil {
			stats.Errors++
		}
	}
	return stats
}

func (m *Merger) mergeOne(ctx context.Context, storeID, messageID int64, candidate domain.ExtractedPromo, now time.Time, stats *Stats) error {
	baseKey := ComputeBaseKey(candidate.Code, candidate.LandingURL, candidate.Headline)

	existing, found, err := m.repo.FindMatchingPromo(ctx, storeID, baseKey, now)
	if err != nil {
		return fmt.Errorf("promos: find matching promo: %w", err)
	}

	var promoID int64
	if !found {
		promo := newPromoFrom(storeID, baseKey, candidate, now)
		id, err := m.repo.CreatePromo(ctx, promo)
		if err != nil {
			return fmt.Errorf("promos: create promo: %w", err)
		}
		promoID = id
		inserted, err := m.repo.InsertChangeIfAbsent(ctx, domain.PromoChange{
			PromoID: id, MessageID: messageID, ChangeType: domain.ChangeCreated,
			Diff:      domain.PromoChangeDiff{After: candidate},
			ChangedAt: now,
		})
		if err != nil {
			return fmt.Errorf("promos: insert created change: %w", err)
		}
		if inserted {
			stats.Created++
			stats.Changes++
		}
	} else {
		promoID = existing.ID
		changes := detectChanges(existing, candidate)
		for _, ch := range changes {
			ch.PromoID = promoID
			ch.MessageID = messageID
			ch.ChangedAt = now
			inserted, err := m.repo.InsertChangeIfAbsent(ctx, ch)
			if err != nil {
				return fmt.Errorf("promos: insert change %s: %w", ch.ChangeType, err)
			}
			if inserted {
				stats.Changes++
			}
		}
		updated := applyChanges(existing, candidate, now)
		if err := m.repo.UpdatePromo(ctx, updated); err != nil {
			return fmt.Errorf("promos: update promo: %w", err)
		}
		if len(changes) > 0 {
			stats.Updated++
		}
	}

	if err := m.repo.EnsureEvidenceLink(ctx, promoID, messageID); err != nil {
		return fmt.Errorf("promos: ensure evidence link: %w", err)
	}
	return nil
}

// MatchesWindow reports whether an existing Promo with the given
// last_seen_at and ends_at is still "the same offer" per the matching
// window. Exported for the repository's FindMatchingPromo query to reuse
// when it cannot express the full window purely in SQL.
func MatchesWindow(lastSeenAt time.Time, endsAt *time.Time, now time.Time) bool {
	if now.Sub(lastSeenAt) <= matchingWindow {
		return true
	}
	if endsAt == nil {
		return true
	}
	return endsAt.After(now.Add(-endedGrace)) || endsAt.Equal(now.Add(-endedGrace))
}

func newPromoFrom(storeID int64, baseKey string, c domain.ExtractedPromo, now time.Time) domain.Promo {
	starts := parseTolerantISO(c.StartsAt)
	ends := parseTolerantISO(c.EndsAt)
	var percentOff, amountOff *float64
	if c.PercentOff > 0 {
		v := c.PercentOff
		percentOff = &v
	}
	if c.AmountOff > 0 {
		v := c.AmountOff
		amountOff = &v
	}
	return domain.Promo{
		StoreID:      storeID,
		BaseKey:      baseKey,
		Headline:     c.Headline,
		Summary:      c.Summary,
		DiscountText: c.DiscountText,
		PercentOff:   percentOff,
		AmountOff:    amountOff,
		Code:         c.Code,
		StartsAt:     starts,
		EndsAt:       ends,
		Exclusions:   c.Exclusions,
		LandingURL:   c.LandingURL,
		Confidence:   c.Confidence,
		FirstSeenAt:  now,
		LastSeenAt:   now,
		Status:       domain.PromoActive,
	}
}

// detectChanges applies the change-detection rules against the
// matched existing Promo. Each returned change still needs PromoID/
// MessageID/ChangedAt filled by the caller.
func detectChanges(existing domain.Promo, candidate domain.ExtractedPromo) []domain.PromoChange {
	var changes []domain.PromoChange

	candidateEnds := parseTolerantISO(candidate.EndsAt)
	if candidateEnds != nil && (existing.EndsAt == nil || candidateEnds.After(*existing.EndsAt)) {
		changes = append(changes, domain.PromoChange{
			ChangeType: domain.ChangeEndExtended,
			Diff:       domain.PromoChangeDiff{Before: existing.EndsAt, After: candidateEnds},
		})
	}

	if discountDiffers(existing, candidate) {
		changes = append(changes, domain.PromoChange{
			ChangeType: domain.ChangeDiscountChange,
			Diff: domain.PromoChangeDiff{
				Before: map[string]interface{}{"percent_off": existing.PercentOff, "amount_off": existing.AmountOff, "discount_text": existing.DiscountText},
				After:  map[string]interface{}{"percent_off": candidate.PercentOff, "amount_off": candidate.AmountOff, "discount_text": candidate.DiscountText},
			},
		})
	}

	existingCode := strings.TrimSpace(existing.Code)
	candidateCode := strings.TrimSpace(candidate.Code)
	switch {
	case existingCode == "" && candidateCode != "":
		changes = append(changes, domain.PromoChange{
			ChangeType: domain.ChangeCodeAdded,
			Diff:       domain.PromoChangeDiff{Before: existingCode, After: candidateCode},
		})
	case existingCode != "" && candidateCode != "" && !strings.EqualFold(existingCode, candidateCode):
		changes = append(changes, domain.PromoChange{
			ChangeType: domain.ChangeCodeChanged,
			Diff:       domain.PromoChangeDiff{Before: existingCode, After: candidateCode},
		})
	}

	return changes
}

func discountDiffers(existing domain.Promo, candidate domain.ExtractedPromo) bool {
	if candidate.PercentOff > 0 {
		if existing.PercentOff == nil || *existing.PercentOff != candidate.PercentOff {
			return true
		}
	}
	if candidate.AmountOff > 0 {
		if existing.AmountOff == nil || *existing.AmountOff != candidate.AmountOff {
			return true
		}
	}
	return false
}

// applyChanges folds a candidate's fields into the existing Promo: end
// dates only extend, never shorten; discount/code fields update when they
// differ; last_seen_at always bumps to now.
func applyChanges(existing domain.Promo, candidate domain.ExtractedPromo, now time.Time) domain.Promo {
	updated := existing
	updated.LastSeenAt = now

	if candidateEnds := parseTolerantISO(candidate.EndsAt); candidateEnds != nil {
		if updated.EndsAt == nil || candidateEnds.After(*updated.EndsAt) {
			updated.EndsAt = candidateEnds
		}
	}
	if candidate.PercentOff > 0 {
		v := candidate.PercentOff
		updated.PercentOff = &v
	}
	if candidate.AmountOff > 0 {
		v := candidate.AmountOff
		updated.AmountOff = &v
	}
	if candidate.DiscountText != "" {
		updated.DiscountText = candidate.DiscountText
	}
	if strings.TrimSpace(candidate.Code) != "" {
		updated.Code = candidate.Code
	}
	if candidate.Summary != "" {
		updated.Summary = candidate.Summary
	}
	return updated
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTolerantISO parses a best-effort ISO 8601 timestamp, defaulting to
// UTC when no offset is present.
func parseTolerantISO(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Location() == time.UTC || layout == time.RFC3339 {
				return &t
			}
			utc := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
			return &utc
		}
	}
	return nil
}
