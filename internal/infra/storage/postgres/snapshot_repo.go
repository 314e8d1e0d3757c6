package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

const snapshotColumns = `id, dependency, total, by_category, by_severity, breaker_state, window_ms, captured_at`

type snapshotRow struct {
	ID         string    `db:"id"`
	Dependency string    `db:"dependency"`
	Total      int       `db:"total"`
	ByCategory []byte    `db:"by_category"`
	BySeverity []byte    `db:"by_severity"`
	State      string    `db:"breaker_state"`
	WindowMs   int64     `db:"window_ms"`
	CapturedAt time.Time `db:"captured_at"`
}

// SnapshotRepo implements storage.SnapshotRepository using PostgreSQL.
type SnapshotRepo struct {
	db *DB
}

// NewSnapshotRepo creates a new PostgreSQL snapshot repository.
func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save inserts snapshots in a single statement.
func (r *SnapshotRepo) Save(ctx context.Context, snapshots []domain.StatsSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([]snapshotRow, 0, len(snapshots))
	for _, s := range snapshots {
		row, err := toRow(s)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	query := `INSERT INTO error_snapshots (` + snapshotColumns + `)
		VALUES (:id, :dependency, :total, :by_category, :by_severity, :breaker_state, :window_ms, :captured_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot per dependency.
func (r *SnapshotRepo) Latest(ctx context.Context) ([]domain.StatsSnapshot, error) {
	var rows []snapshotRow
	query := `SELECT DISTINCT ON (dependency) ` + snapshotColumns + `
		FROM error_snapshots
		ORDER BY dependency, captured_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get latest snapshots: %w", err)
	}
	return fromRows(rows)
}

// History returns up to limit snapshots for dependency, newest first.
func (r *SnapshotRepo) History(ctx context.Context, dependency string, limit int) ([]domain.StatsSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []snapshotRow
	query := `SELECT ` + snapshotColumns + `
		FROM error_snapshots
		WHERE dependency = $1
		ORDER BY captured_at DESC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, query, dependency, limit); err != nil {
		return nil, fmt.Errorf("failed to get snapshot history: %w", err)
	}
	return fromRows(rows)
}

// DeleteBefore removes snapshots captured before t.
func (r *SnapshotRepo) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM error_snapshots WHERE captured_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return res.RowsAffected()
}

func toRow(s domain.StatsSnapshot) (snapshotRow, error) {
	byCategory, err := json.Marshal(nonNil(s.ByCategory))
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to encode categories: %w", err)
	}
	bySeverity, err := json.Marshal(nonNil(s.BySeverity))
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to encode severities: %w", err)
	}
	return snapshotRow{
		ID:         s.ID,
		Dependency: s.Dependency,
		Total:      s.Total,
		ByCategory: byCategory,
		BySeverity: bySeverity,
		State:      s.State,
		WindowMs:   s.WindowMs,
		CapturedAt: s.CapturedAt,
	}, nil
}

func fromRows(rows []snapshotRow) ([]domain.StatsSnapshot, error) {
	out := make([]domain.StatsSnapshot, 0, len(rows))
	for _, row := range rows {
		s := domain.StatsSnapshot{
			ID:         row.ID,
			Dependency: row.Dependency,
			Total:      row.Total,
			State:      row.State,
			WindowMs:   row.WindowMs,
			CapturedAt: row.CapturedAt,
		}
		if err := json.Unmarshal(row.ByCategory, &s.ByCategory); err != nil {
			return nil, fmt.Errorf("snapshot %s: invalid categories: %w", row.ID, err)
		}
		if err := json.Unmarshal(row.BySeverity, &s.BySeverity); err != nil {
			return nil, fmt.Errorf("snapshot %s: invalid severities: %w", row.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func nonNil[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return map[K]int{}
	}
	return m
}
