package promos

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/extract"
)

type fakeRepo struct {
	promos        map[string]domain.Promo
	nextID        int64
	changes       map[string]bool
	evidenceLinks int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{promos: map[string]domain.Promo{}, changes: map[string]bool{}}
}

func (r *fakeRepo) FindMatchingPromo(ctx context.Context, storeID int64, baseKey string, now time.Time) (domain.Promo, bool, error) {
	p, ok := r.promos[baseKey]
	if !ok || !MatchesWindow(p.LastSeenAt, p.EndsAt, now) {
		return domain.Promo{}, false, nil
	}
	return p, true, nil
}

func (r *fakeRepo) CreatePromo(ctx context.Context, promo domain.Promo) (int64, error) {
	r.nextID++
	promo.ID = r.nextID
	r.promos[promo.BaseKey] = promo
	return promo.ID, nil
}

func (r *fakeRepo) UpdatePromo(ctx context.Context, promo domain.Promo) error {
	r.promos[promo.BaseKey] = promo
	return nil
}

func (r *fakeRepo) InsertChangeIfAbsent(ctx context.Context, change domain.PromoChange) (bool, error) {
	key := string(change.ChangeType)
	if r.changes[key] {
		return false, nil
	}
	r.changes[key] = true
	return true, nil
}

func (r *fakeRepo) EnsureEvidenceLink(ctx context.Context, promoID, messageID int64) error {
	r.evidenceLinks++
	return nil
}

func TestMergeExtractionSkipsNonPromoEmail(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, extract.FlightPreferences{})
	result := domain.ExtractionResult{IsPromoEmail: false, Promos: []domain.ExtractedPromo{{Headline: "x", PercentOff: 10}}}
	stats := m.MergeExtraction(context.Background(), 1, 1, result)
	if stats.Skipped != 1 || stats.Created != 0 {
		t.Errorf("stats = %+v, want Skipped=1 Created=0", stats)
	}
	if len(repo.promos) != 0 {
		t.Error("no promo should have been created")
	}
}

func TestMergeExtractionCreatesNewPromo(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, extract.FlightPreferences{})
	result := domain.ExtractionResult{
		IsPromoEmail: true,
		Promos:       []domain.ExtractedPromo{{Headline: "20% off everything", PercentOff: 20, LandingURL: "https://nike.com/sale"}},
	}
	stats := m.MergeExtraction(context.Background(), 1, 100, result)
	if stats.Created != 1 || stats.Changes != 1 {
		t.Errorf("stats = %+v, want Created=1 Changes=1", stats)
	}
	if len(repo.promos) != 1 {
		t.Fatalf("expected one promo, got %d", len(repo.promos))
	}
	if repo.evidenceLinks != 1 {
		t.Errorf("expected one evidence link, got %d", repo.evidenceLinks)
	}
}

func TestMergeExtractionDropsNonSavingsCandidates(t *testing.T) {
	repo := newFakeRepo()
	m := New(repo, extract.FlightPreferences{})
	result := domain.ExtractionResult{
		IsPromoEmail: true,
		Promos:       []domain.ExtractedPromo{{Headline: "Thanks for shopping", FreeText: "no discount here"}},
	}
	stats := m.MergeExtraction(context.Background(), 1, 100, result)
	if stats.Created != 0 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want Created=0 Skipped=1", stats)
	}
}

func TestDetectChangesEndExtended(t *testing.T) {
	existing := domain.Promo{}
	candidate := domain.ExtractedPromo{EndsAt: "2026-08-01"}
	changes := detectChanges(existing, candidate)
	if len(changes) != 1 || changes[0].ChangeType != domain.ChangeEndExtended {
		t.Fatalf("expected one end_extended change, got %+v", changes)
	}
}

func TestDetectChangesCodeAddedThenChanged(t *testing.T) {
	existing := domain.Promo{Code: ""}
	added := detectChanges(existing, domain.ExtractedPromo{Code: "SAVE10"})
	if len(added) != 1 || added[0].ChangeType != domain.ChangeCodeAdded {
		t.Fatalf("expected code_added, got %+v", added)
	}

	existing.Code = "SAVE10"
	changed := detectChanges(existing, domain.ExtractedPromo{Code: "SAVE20"})
	if len(changed) != 1 || changed[0].ChangeType != domain.ChangeCodeChanged {
		t.Fatalf("expected code_changed, got %+v", changed)
	}

	same := detectChanges(existing, domain.ExtractedPromo{Code: "save10"})
	if len(same) != 0 {
		t.Fatalf("case-insensitive match should produce no change, got %+v", same)
	}
}

func TestApplyChangesNeverShortensEndDate(t *testing.T) {
	later := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	existing := domain.Promo{EndsAt: &later}
	updated := applyChanges(existing, domain.ExtractedPromo{EndsAt: "2026-08-01"}, time.Now())
	if !updated.EndsAt.Equal(later) {
		t.Errorf("EndsAt should not shorten: got %v, want %v", updated.EndsAt, later)
	}
}

func TestMatchesWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	t.Run("within 30 day window with no end date", func(t *testing.T) {
		if !MatchesWindow(now.Add(-10*24*time.Hour), nil, now) {
			t.Error("expected match within 30 days")
		}
	})
	t.Run("outside 30 days and ended more than 2 days ago does not match", func(t *testing.T) {
		ended := now.Add(-5 * 24 * time.Hour)
		if MatchesWindow(now.Add(-40*24*time.Hour), &ended, now) {
			t.Error("expected no match")
		}
	})
	t.Run("outside 30 days but ended within grace still matches", func(t *testing.T) {
		ended := now.Add(-1 * 24 * time.Hour)
		if !MatchesWindow(now.Add(-40*24*time.Hour), &ended, now) {
			t.Error("expected match within end grace period")
		}
	})
}

func TestParseTolerantISO(t *testing.T) {
	if parseTolerantISO("") != nil {
		t.Error("empty string should parse to nil")
	}
	if got := parseTolerantISO("2026-08-01"); got == nil || got.Year() != 2026 {
		t.Errorf("parseTolerantISO(date-only) = %v", got)
	}
	if got := parseTolerantISO("2026-08-01T12:00:00Z"); got == nil || got.Hour() != 12 {
		t.Errorf("parseTolerantISO(RFC3339) = %v", got)
	}
	if parseTolerantISO("not a date") != nil {
		t.Error("unparseable string should yield nil")
	}
}
