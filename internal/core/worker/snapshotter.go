package worker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage"
)

// StatsSource produces windowed error statistics.
type StatsSource interface {
	GetErrorStatistics(dependency string, window time.Duration) domain.StatsReport
}

// Snapshotter persists per-dependency statistics on an interval and deletes
// snapshots older than the retention period.
type Snapshotter struct {
	source    StatsSource
	repo      storage.SnapshotRepository
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewSnapshotter creates a new Snapshotter worker.
func NewSnapshotter(
	source StatsSource,
	repo storage.SnapshotRepository,
	interval, retention time.Duration,
	log *slog.Logger,
) *Snapshotter {
	if log == nil {
		log = slog.Default()
	}
	return &Snapshotter{
		source:    source,
		repo:      repo,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

// Start runs the snapshot loop.
func (s *Snapshotter) Start(ctx context.Context) {
	if s.interval <= 0 {
		return // Snapshots disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Capture(ctx); err != nil {
				s.log.Error("Failed to capture error snapshot", "error", err)
			}
			s.prune(ctx)
		}
	}
}

// Capture stores one snapshot per known dependency covering the last interval.
func (s *Snapshotter) Capture(ctx context.Context) error {
	window := s.interval
	if window <= 0 {
		window = time.Hour
	}
	overall := s.source.GetErrorStatistics("", window)

	deps := make(map[string]struct{})
	for dep := range overall.ByDependency {
		deps[dep] = struct{}{}
	}
	for dep := range overall.Breakers {
		deps[dep] = struct{}{}
	}
	names := make([]string, 0, len(deps))
	for dep := range deps {
		names = append(names, dep)
	}
	sort.Strings(names)

	capturedAt := s.now()
	snaps := make([]domain.StatsSnapshot, 0, len(names))
	for _, dep := range names {
		report := s.source.GetErrorStatistics(dep, window)
		state := domain.BreakerClosed
		if b, ok := overall.Breakers[dep]; ok {
			state = b.State
		}
		snaps = append(snaps, domain.StatsSnapshot{
			ID:         uuid.New().String(),
			Dependency: dep,
			Total:      report.Total,
			ByCategory: report.ByCategory,
			BySeverity: report.BySeverity,
			State:      state.String(),
			WindowMs:   window.Milliseconds(),
			CapturedAt: capturedAt,
		})
	}

	if err := s.repo.Save(ctx, snaps); err != nil {
		return err
	}
	s.log.Debug("Captured error snapshots", "dependencies", len(snaps))
	return nil
}

func (s *Snapshotter) prune(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	n, err := s.repo.DeleteBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.log.Error("Failed to prune error snapshots", "error", err)
		return
	}
	if n > 0 {
		s.log.Debug("Pruned error snapshots", "count", n)
	}
}
