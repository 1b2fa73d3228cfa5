package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/promo-digest/internal/domain"
	"github.com/ignite/promo-digest/internal/llm"
)

type fakeExtractRepo struct {
	pending           []domain.Message
	scopes            map[int64]string
	skippedDuplicates []int64
	extractions       []domain.Extraction
	statusCalls       map[int64]domain.ExtractionStatus
}

func newFakeExtractRepo() *fakeExtractRepo {
	return &fakeExtractRepo{scopes: map[int64]string{}, statusCalls: map[int64]domain.ExtractionStatus{}}
}

func (r *fakeExtractRepo) ListPendingMessages(ctx context.Context) ([]domain.Message, error) {
	return r.pending, nil
}

func (r *fakeExtractRepo) MarkSkippedDuplicate(ctx context.Context, messageID int64) error {
	r.skippedDuplicates = append(r.skippedDuplicates, messageID)
	return nil
}

func (r *fakeExtractRepo) InsertExtraction(ctx context.Context, ext domain.Extraction) (int64, error) {
	r.extractions = append(r.extractions, ext)
	return int64(len(r.extractions)), nil
}

func (r *fakeExtractRepo) MarkExtractionStatus(ctx context.Context, messageID int64, status domain.ExtractionStatus, errMsg string) error {
	r.statusCalls[messageID] = status
	return nil
}

func (r *fakeExtractRepo) StoreSlugOrDomain(ctx context.Context, msg domain.Message) (string, error) {
	if scope, ok := r.scopes[msg.ID]; ok {
		return scope, nil
	}
	return "", errors.New("no scope configured")
}

func TestRunProcessesPendingMessagesAndRecordsSuccess(t *testing.T) {
	repo := newFakeExtractRepo()
	now := time.Now()
	repo.pending = []domain.Message{
		{ID: 1, BodyHash: "hash-a", ReceivedAt: now},
	}
	repo.scopes[1] = "acme"

	fake := llm.FakeExtractor{Result: domain.ExtractionResult{IsPromoEmail: true}}
	e := New(repo, fake, "fake-model", FlightPreferences{}, 0)

	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 1 || stats.Success != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if repo.statusCalls[1] != domain.ExtractionSuccess {
		t.Errorf("expected message 1 marked success, got %v", repo.statusCalls[1])
	}
}

func TestRunDedupsMessagesWithSameScopeAndBodyHash(t *testing.T) {
	repo := newFakeExtractRepo()
	newer := time.Now()
	older := newer.Add(-time.Hour)
	repo.pending = []domain.Message{
		{ID: 1, BodyHash: "same-hash", ReceivedAt: newer},
		{ID: 2, BodyHash: "same-hash", ReceivedAt: older},
	}
	repo.scopes[1] = "acme"
	repo.scopes[2] = "acme"

	fake := llm.FakeExtractor{Result: domain.ExtractionResult{IsPromoEmail: false}}
	e := New(repo, fake, "fake-model", FlightPreferences{}, 0)

	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.SkippedDuplicate != 1 {
		t.Fatalf("SkippedDuplicate = %d, want 1", stats.SkippedDuplicate)
	}
	if stats.Processed != 1 {
		t.Fatalf("Processed = %d, want 1 (the newer message)", stats.Processed)
	}
	if len(repo.skippedDuplicates) != 1 || repo.skippedDuplicates[0] != 2 {
		t.Errorf("expected message 2 (older) marked duplicate, got %v", repo.skippedDuplicates)
	}
}

func TestRunRecordsErrorStatusWhenLLMFails(t *testing.T) {
	repo := newFakeExtractRepo()
	repo.pending = []domain.Message{{ID: 1, BodyHash: "h1", ReceivedAt: time.Now()}}
	repo.scopes[1] = "acme"

	fake := llm.FakeExtractor{Err: errors.New("model timeout")}
	e := New(repo, fake, "fake-model", FlightPreferences{}, 0)

	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Errors != 1 || stats.Success != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if repo.statusCalls[1] != domain.ExtractionError {
		t.Errorf("expected message 1 marked error, got %v", repo.statusCalls[1])
	}
}

func TestRunRespectsMaxPerRun(t *testing.T) {
	repo := newFakeExtractRepo()
	repo.pending = []domain.Message{
		{ID: 1, BodyHash: "h1", ReceivedAt: time.Now()},
		{ID: 2, BodyHash: "h2", ReceivedAt: time.Now()},
		{ID: 3, BodyHash: "h3", ReceivedAt: time.Now()},
	}
	repo.scopes[1] = "a"
	repo.scopes[2] = "b"
	repo.scopes[3] = "c"

	fake := llm.FakeExtractor{Result: domain.ExtractionResult{}}
	e := New(repo, fake, "fake-model", FlightPreferences{}, 2)

	stats, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 2 {
		t.Fatalf("Processed = %d, want 2 (maxRun cap)", stats.Processed)
	}
}

func TestRunFiltersNonSavingsPromosFromPromoEmail(t *testing.T) {
	repo := newFakeExtractRepo()
	repo.pending = []domain.Message{{ID: 1, BodyHash: "h1", ReceivedAt: time.Now()}}
	repo.scopes[1] = "acme"

	fake := llm.FakeExtractor{Result: domain.ExtractionResult{
		IsPromoEmail: true,
		Promos: []domain.ExtractedPromo{
			{Headline: "Free shipping this week"},
			{Headline: "40% off everything", PercentOff: 40},
		},
	}}
	e := New(repo, fake, "fake-model", FlightPreferences{}, 0)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.extractions) != 1 {
		t.Fatalf("expected one extraction recorded, got %d", len(repo.extractions))
	}
	got := repo.extractions[0].Extracted.Promos
	if len(got) != 1 || got[0].Headline != "40% off everything" {
		t.Fatalf("expected only the savings-bearing promo to survive, got %+v", got)
	}
}
