package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/promo-digest/internal/domain"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func TestFindRunReturnsFoundRunWhenRowExists(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "run_type", "digest_date", "started_at", "finished_at", "status", "digest_sent_at", "stats", "error"}).
		AddRow(int64(1), "daily", "2026-07-31", time.Now(), nil, "success", nil, []byte("{}"), "")
	mock.ExpectQuery("SELECT id, run_type, digest_date").WithArgs("daily", "2026-07-31").WillReturnRows(rows)

	repo := NewRunRepo(db)
	run, found, err := repo.FindRun(context.Background(), domain.RunDaily, "2026-07-31")
	if err != nil {
		t.Fatalf("FindRun: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if run.ID != 1 || run.Status != domain.RunSuccess {
		t.Errorf("unexpected run: %+v", run)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFindRunReturnsNotFoundWhenNoRows(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, run_type, digest_date").WillReturnError(sql.ErrNoRows)

	repo := NewRunRepo(db)
	_, found, err := repo.FindRun(context.Background(), domain.RunDaily, "2026-07-31")
	if err != nil {
		t.Fatalf("FindRun: %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestCreateRunReturnsNewID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("INSERT INTO runs").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	repo := NewRunRepo(db)
	id, err := repo.CreateRun(context.Background(), domain.Run{RunType: domain.RunDaily, DigestDate: "2026-07-31", Status: domain.RunRunning, StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
}

func TestUpdateRunStatsExecutesUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE runs SET stats").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRunRepo(db)
	if err := repo.UpdateRunStats(context.Background(), 1, domain.RunStats{}); err != nil {
		t.Fatalf("UpdateRunStats: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFinishRunExecutesUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE runs SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRunRepo(db)
	sentAt := time.Now()
	if err := repo.FinishRun(context.Background(), 1, domain.RunSuccess, "", &sentAt); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
}

func TestMarkNotifiedSkipsQueryWhenNoPromoIDs(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)
	if err := repo.MarkNotified(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("MarkNotified with empty slice should be a no-op, got error: %v", err)
	}
}

func TestMarkNotifiedExecutesUpdateWhenPromoIDsGiven(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE promos SET last_notified_at").WillReturnResult(sqlmock.NewResult(0, 2))

	repo := NewRunRepo(db)
	if err := repo.MarkNotified(context.Background(), []int64{1, 2}, time.Now()); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
}

func TestListRecentRunsReturnsRowsNewestFirst(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "run_type", "digest_date", "started_at", "finished_at", "status", "digest_sent_at", "stats", "error"}).
		AddRow(int64(2), "daily", "2026-07-31", time.Now(), nil, "success", nil, []byte("{}"), "").
		AddRow(int64(1), "daily", "2026-07-30", time.Now(), nil, "success", nil, []byte("{}"), "")
	mock.ExpectQuery("SELECT id, run_type, digest_date").WithArgs(20).WillReturnRows(rows)

	repo := NewRunRepo(db)
	runs, err := repo.ListRecentRuns(context.Background(), 20)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
}

func TestListUnmergedExtractionsParsesExtractedJSON(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "store_id", "message_id", "extracted"}).
		AddRow(int64(1), int64(5), int64(10), []byte(`{"is_promo_email":true,"promos":[]}`))
	mock.ExpectQuery("SELECT e.id, m.store_id, e.message_id, e.extracted").WillReturnRows(rows)

	repo := NewRunRepo(db)
	pending, err := repo.ListUnmergedExtractions(context.Background())
	if err != nil {
		t.Fatalf("ListUnmergedExtractions: %v", err)
	}
	if len(pending) != 1 || pending[0].StoreID != 5 || pending[0].MessageID != 10 {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	if !pending[0].Result.IsPromoEmail {
		t.Error("expected IsPromoEmail=true parsed from JSON")
	}
}

func TestMarkMergedExecutesUpdate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE extractions SET merged_at").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRunRepo(db)
	if err := repo.MarkMerged(context.Background(), 10); err != nil {
		t.Fatalf("MarkMerged: %v", err)
	}
}
