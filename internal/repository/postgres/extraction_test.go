package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/promo-digest/internal/domain"
)

func TestListPendingMessagesReturnsRows(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "source_message_id", "store_id", "signal_key", "from_address", "subject",
		"received_at", "body_inline", "body_ref", "body_hash", "top_links", "extraction_status", "extraction_error", "created_at"}).
		AddRow(int64(1), "msg-1", int64(7), "sale:acme", "deals@acme.example.com", "50% off",
			time.Now(), "body text", "", "hash1", "{}", "pending", "", time.Now())
	mock.ExpectQuery("SELECT id, source_message_id, store_id, signal_key").WillReturnRows(rows)

	repo := NewExtractionRepo(db)
	msgs, err := repo.ListPendingMessages(context.Background())
	if err != nil {
		t.Fatalf("ListPendingMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ExtractionStatus != domain.ExtractionPending {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMarkSkippedDuplicateUpdatesStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE messages SET extraction_status").
		WithArgs(string(domain.ExtractionSkippedDuplicate), "", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewExtractionRepo(db)
	if err := repo.MarkSkippedDuplicate(context.Background(), 1); err != nil {
		t.Fatalf("MarkSkippedDuplicate: %v", err)
	}
}

func TestInsertExtractionReturnsNewID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO extractions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	repo := NewExtractionRepo(db)
	id, err := repo.InsertExtraction(context.Background(), domain.Extraction{
		MessageID: 1, Model: "fake-model", Extracted: domain.ExtractionResult{IsPromoEmail: true},
	})
	if err != nil {
		t.Fatalf("InsertExtraction: %v", err)
	}
	if id != 3 {
		t.Errorf("id = %d, want 3", id)
	}
}

func TestMarkExtractionStatusExecutesUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE messages SET extraction_status").
		WithArgs(string(domain.ExtractionError), "llm timeout", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewExtractionRepo(db)
	if err := repo.MarkExtractionStatus(context.Background(), 2, domain.ExtractionError, "llm timeout"); err != nil {
		t.Fatalf("MarkExtractionStatus: %v", err)
	}
}

func TestStoreSlugOrDomainUsesStoreSlugWhenLinked(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT slug FROM stores").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("acme"))

	storeID := int64(7)
	repo := NewExtractionRepo(db)
	slug, err := repo.StoreSlugOrDomain(context.Background(), domain.Message{StoreID: &storeID, From: "deals@acme.example.com"})
	if err != nil {
		t.Fatalf("StoreSlugOrDomain: %v", err)
	}
	if slug != "acme" {
		t.Errorf("slug = %q, want acme", slug)
	}
}

func TestStoreSlugOrDomainFallsBackToFromDomain(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewExtractionRepo(db)
	slug, err := repo.StoreSlugOrDomain(context.Background(), domain.Message{From: "deals@Unlisted-Store.example.com"})
	if err != nil {
		t.Fatalf("StoreSlugOrDomain: %v", err)
	}
	if slug != "unlisted-store.example.com" {
		t.Errorf("slug = %q, want unlisted-store.example.com", slug)
	}
}
