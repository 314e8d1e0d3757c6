// Package storage defines persistence for error statistics snapshots.
package storage

import (
	"context"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// SnapshotRepository stores periodic per-dependency statistics snapshots.
type SnapshotRepository interface {
	// Save stores a batch of snapshots
	Save(ctx context.Context, snapshots []domain.StatsSnapshot) error

	// Latest returns the most recent snapshot of every dependency
	Latest(ctx context.Context) ([]domain.StatsSnapshot, error)

	// History returns up to limit snapshots of dependency, newest first
	History(ctx context.Context, dependency string, limit int) ([]domain.StatsSnapshot, error)

	// DeleteBefore removes snapshots captured before t
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}
