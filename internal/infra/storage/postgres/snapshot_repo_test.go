package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vietddude/resilience/internal/core/domain"
)

func newMockRepo(t *testing.T) (*SnapshotRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSnapshotRepo(Wrap(db, "pgx")), mock
}

var capturedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSnapshotRepo_Save(t *testing.T) {
	repo, mock := newMockRepo(t)

	snaps := []domain.StatsSnapshot{
		{
			ID:         "0f8fad5b-d9cb-469f-a165-70867728950e",
			Dependency: "notion",
			Total:      3,
			ByCategory: map[domain.Category]int{domain.CategoryNetwork: 3},
			State:      "OPEN",
			WindowMs:   3600000,
			CapturedAt: capturedAt,
		},
		{
			ID:         "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			Dependency: "xero",
			State:      "CLOSED",
			WindowMs:   3600000,
			CapturedAt: capturedAt,
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO error_snapshots")).
		WithArgs(
			snaps[0].ID, "notion", 3, []byte(`{"network":3}`), []byte(`{}`), "OPEN", int64(3600000), capturedAt,
			snaps[1].ID, "xero", 0, []byte(`{}`), []byte(`{}`), "CLOSED", int64(3600000), capturedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.Save(context.Background(), snaps); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(context.Background(), nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations not met: %v", err)
	}
}

func TestSnapshotRepo_Latest(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "dependency", "total", "by_category", "by_severity", "breaker_state", "window_ms", "captured_at"}).
		AddRow("a", "gmail", 2, []byte(`{"timeout":2}`), []byte(`{"medium":2}`), "CLOSED", int64(60000), capturedAt).
		AddRow("b", "notion", 0, []byte(`{}`), []byte(`{}`), "HALF_OPEN", int64(60000), capturedAt)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (dependency)")).WillReturnRows(rows)

	got, err := repo.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].ByCategory[domain.CategoryTimeout] != 2 || got[0].BySeverity[domain.SeverityMedium] != 2 {
		t.Errorf("decoded breakdown = %+v", got[0])
	}
	if got[1].State != "HALF_OPEN" {
		t.Errorf("state = %s", got[1].State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations not met: %v", err)
	}
}

func TestSnapshotRepo_HistoryAndDelete(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE dependency = $1")).
		WithArgs("xero", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dependency", "total", "by_category", "by_severity", "breaker_state", "window_ms", "captured_at"}))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM error_snapshots WHERE captured_at < $1")).
		WithArgs(capturedAt).
		WillReturnResult(sqlmock.NewResult(0, 7))

	hist, err := repo.History(context.Background(), "xero", 0)
	if err != nil || len(hist) != 0 {
		t.Fatalf("History: %v, %v", hist, err)
	}
	n, err := repo.DeleteBefore(context.Background(), capturedAt)
	if err != nil || n != 7 {
		t.Fatalf("DeleteBefore = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations not met: %v", err)
	}
}
