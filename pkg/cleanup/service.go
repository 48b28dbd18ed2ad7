// Package cleanup enforces the storage retention policy on a fixed interval.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/storage"
)

// Service runs periodic retention purges against the store. It is
// cooperative: the agent loop calls MaybePurge from its tick instead of the
// service owning a goroutine, so purges never race the loop's writes.
type Service struct {
	store     *storage.Store
	retention config.RetentionConfig
	interval  time.Duration

	mu      sync.Mutex
	lastRun time.Time
}

// NewService creates a cleanup service. interval <= 0 selects hourly purges.
func NewService(store *storage.Store, retention config.RetentionConfig, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Service{store: store, retention: retention, interval: interval}
}

// MaybePurge runs a purge if the interval has elapsed since the last run.
// Returns nil when it was not yet time to purge.
func (s *Service) MaybePurge(ctx context.Context) (*storage.PurgeResult, error) {
	s.mu.Lock()
	if time.Since(s.lastRun) < s.interval {
		s.mu.Unlock()
		return nil, nil
	}
	s.lastRun = time.Now()
	s.mu.Unlock()

	return s.RunNow(ctx)
}

// RunNow performs a purge immediately, regardless of the interval.
func (s *Service) RunNow(ctx context.Context) (*storage.PurgeResult, error) {
	start := time.Now()
	result, err := s.store.Purge(ctx, s.retention)
	if err != nil {
		slog.Error("Retention purge failed", "error", err)
		return nil, err
	}

	if result.TotalDeleted > 0 {
		slog.Info("Retention purge completed",
			"events_deleted", result.EventsDeleted,
			"analyses_deleted", result.AnalysesDeleted,
			"insights_deleted", result.InsightsDeleted,
			"duration", time.Since(start))
	} else {
		slog.Debug("Retention purge completed, nothing to delete",
			"duration", time.Since(start))
	}
	return &result, nil
}
