package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage"
)

var _ storage.SnapshotRepository = (*SnapshotRepo)(nil)

// SnapshotRepo keeps snapshots in process memory.
type SnapshotRepo struct {
	snapshots map[string][]domain.StatsSnapshot // newest last
	mu        sync.RWMutex
}

func NewSnapshotRepo() *SnapshotRepo {
	return &SnapshotRepo{snapshots: make(map[string][]domain.StatsSnapshot)}
}

func (r *SnapshotRepo) Save(ctx context.Context, snapshots []domain.StatsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snapshots {
		r.snapshots[s.Dependency] = append(r.snapshots[s.Dependency], s)
	}
	return nil
}

func (r *SnapshotRepo) Latest(ctx context.Context) ([]domain.StatsSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.StatsSnapshot, 0, len(r.snapshots))
	for _, list := range r.snapshots {
		if len(list) > 0 {
			out = append(out, list[len(list)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out, nil
}

func (r *SnapshotRepo) History(ctx context.Context, dependency string, limit int) ([]domain.StatsSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.snapshots[dependency]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]domain.StatsSnapshot, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (r *SnapshotRepo) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for dep, list := range r.snapshots {
		kept := list[:0]
		for _, s := range list {
			if s.CapturedAt.Before(t) {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.snapshots, dep)
			continue
		}
		r.snapshots[dep] = kept
	}
	return removed, nil
}
