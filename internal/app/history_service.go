package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/history"
)

// HistoryService applies the history retention policy.
type HistoryService struct {
	cfg   *config.Config
	store *history.Store
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(cfg *config.Config, store *history.Store) *HistoryService {
	return &HistoryService{cfg: cfg, store: store}
}

// Start begins the periodic cleanup.
func (s *HistoryService) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runCleanup(ctx)
	}()
}

// runCleanup periodically removes states past the retention period.
func (s *HistoryService) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.History.CleanupInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.prune(); err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old history")
			}
		}
	}
}

func (s *HistoryService) prune() (int64, error) {
	retention := s.cfg.History.Retention()
	deleted, err := s.store.DeleteOlderThan(retention)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old history")
	}
	return deleted, nil
}
