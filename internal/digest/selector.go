// Package digest selects entries for a digest run and renders the HTML of the
// selected promos.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/promos"
)

// Badge is the digest row classification.
type Badge string

const (
	BadgeNew     Badge = "NEW"
	BadgeUpdated Badge = "UPDATED"
	BadgeActive  Badge = "ACTIVE"
)

var defaultLookback = map[domain.RunType]time.Duration{
	domain.RunDaily:  24 * time.Hour,
	domain.RunWeekly: 7 * 24 * time.Hour,
}

// Entry is one row of the rendered digest.
type Entry struct {
	Promo      domain.Promo
	Badge      Badge
	StoreName  string
	SourceType string
	SourceURL  string
	Changes    []domain.ChangeType
}

// Repository is the persistence surface DigestSelector reads from.
type Repository interface {
	LastDigestSentAt(ctx context.Context, runType domain.RunType) (*time.Time, error)
	NewPromoChanges(ctx context.Context, since time.Time, allowlist []string) ([]domain.PromoChange, error)
	UpdatedPromoChanges(ctx context.Context, since time.Time, allowlist []string) ([]domain.PromoChange, error)
	ActivePromos(ctx context.Context, cooldownDays int, allowlist []string) ([]domain.Promo, error)
	PromoByID(ctx context.Context, promoID int64) (domain.Promo, error)
	StoreByID(ctx context.Context, storeID int64) (domain.Store, error)
	ChangesForPromo(ctx context.Context, promoID int64, since time.Time) ([]domain.PromoChange, error)
	EvidenceSourceForPromo(ctx context.Context, promoID int64) (sourceType, sourceURL string, err error)
}

// Selector computes the NEW/UPDATED/ACTIVE set for one digest.
type Selector struct {
	repo Repository
}

// New builds a Selector.
func New(repo Repository) *Selector {
	return &Selector{repo: repo}
}

// Options configure one selection pass.
type Options struct {
	RunType          domain.RunType
	IncludeUnchanged bool
	CooldownDays     int
	StoreAllowlist   []string
}

// Select determines `since` from the most recent successful Run of RunType
// (defaulting to the run-type's lookback window when none exists), then
// emits NEW, UPDATED, and — when requested — ACTIVE entries, deduping by
// (store, normalized_headline) across all three in emission order.
func (s *Selector) Select(ctx context.Context, opts Options) ([]Entry, error) {
	since, err := s.resolveSince(ctx, opts.RunType)
	if err != nil {
		return nil, err
	}

	seenPromoIDs := make(map[int64]bool)
	seenHeadlines := make(map[string]bool)
	var entries []Entry

	newChanges, err := s.repo.NewPromoChanges(ctx, since, opts.StoreAllowlist)
	if err != nil {
		return nil, err
	}
	for _, ch := range newChanges {
		entry, ok, err := s.buildEntry(ctx, ch.PromoID, BadgeNew, since, seenPromoIDs, seenHeadlines)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	updatedChanges, err := s.repo.UpdatedPromoChanges(ctx, since, opts.StoreAllowlist)
	if err != nil {
		return nil, err
	}
	for _, ch := range updatedChanges {
		entry, ok, err := s.buildEntry(ctx, ch.PromoID, BadgeUpdated, since, seenPromoIDs, seenHeadlines)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, entry)
		}
	}

	if opts.IncludeUnchanged {
		cooldown := opts.CooldownDays
		active, err := s.repo.ActivePromos(ctx, cooldown, opts.StoreAllowlist)
		if err != nil {
			return nil, err
		}
		cutoff := time.Now().Add(-time.Duration(cooldown) * 24 * time.Hour)
		for _, promo := range active {
			if promo.LastNotifiedAt != nil && promo.LastNotifiedAt.After(cutoff) {
				continue
			}
			entry, ok, err := s.buildEntryFromPromo(ctx, promo, BadgeActive, since, seenPromoIDs, seenHeadlines)
			if err != nil {
				return nil, err
			}
			if ok {
				entries = append(entries, entry)
			}
		}
	}

	return entries, nil
}

func (s *Selector) resolveSince(ctx context.Context, runType domain.RunType) (time.Time, error) {
	last, err := s.repo.LastDigestSentAt(ctx, runType)
	if err != nil {
		return time.Time{}, err
	}
	if last != nil {
		return *last, nil
	}
	return time.Now().Add(-defaultLookback[runType]), nil
}

func (s *Selector) buildEntry(ctx context.Context, promoID int64, badge Badge, since time.Time, seenPromoIDs map[int64]bool, seenHeadlines map[string]bool) (Entry, bool, error) {
	promo, err := s.repo.PromoByID(ctx, promoID)
	if err != nil {
		return Entry{}, false, err
	}
	return s.buildEntryFromPromo(ctx, promo, badge, since, seenPromoIDs, seenHeadlines)
}

func (s *Selector) buildEntryFromPromo(ctx context.Context, promo domain.Promo, badge Badge, since time.Time, seenPromoIDs map[int64]bool, seenHeadlines map[string]bool) (Entry, bool, error) {
	if seenPromoIDs[promo.ID] {
		return Entry{}, false, nil
	}
	dedupKey := dedupHeadlineKey(promo.StoreID, promo.Headline)
	if seenHeadlines[dedupKey] {
		return Entry{}, false, nil
	}

	store, err := s.repo.StoreByID(ctx, promo.StoreID)
	if err != nil {
		return Entry{}, false, err
	}
	sourceType, sourceURL, _ := s.repo.EvidenceSourceForPromo(ctx, promo.ID)

	var changes []domain.ChangeType
	if badge != BadgeActive {
		changeRows, err := s.repo.ChangesForPromo(ctx, promo.ID, since)
		if err != nil {
			return Entry{}, false, err
		}
		for _, c := range changeRows {
			changes = append(changes, c.ChangeType)
		}
	}

	seenPromoIDs[promo.ID] = true
	seenHeadlines[dedupKey] = true

	return Entry{
		Promo:      promo,
		Badge:      badge,
		StoreName:  store.Name,
		SourceType: sourceType,
		SourceURL:  sourceURL,
		Changes:    changes,
	}, true, nil
}

func dedupHeadlineKey(storeID int64, headline string) string {
	return fmt.Sprintf("%d:%s", storeID, promos.NormalizeHeadline(headline))
}
