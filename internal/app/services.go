package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/db"
	"github.com/dokzlo13/hadash/internal/eventbus"
	"github.com/dokzlo13/hadash/internal/history"
	"github.com/dokzlo13/hadash/internal/ingest"
	"github.com/dokzlo13/hadash/internal/observability"
	"github.com/dokzlo13/hadash/internal/refresh"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Bus     *eventbus.Bus
	Metrics *observability.Metrics

	// History and ingestion
	Store    *history.Store
	Ingester *ingest.Ingester

	// High-level services
	Refresher *refresh.Refresher
	History   *HistoryService
	API       *APIService
	Import    *ImportService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Metrics = observability.NewMetrics()
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Store = history.NewStore(database.DB)
	s.Ingester = ingest.New(s.Store, s.Bus, s.Metrics)

	s.Refresher = refresh.New(cfg, s.Store, s.Bus, s.Metrics)

	s.History = NewHistoryService(cfg, s.Store)
	s.API = NewAPIService(cfg, s.Refresher, s.Ingester, s.Metrics)
	s.Import = NewImportService(cfg, s.Ingester)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service cannot continue.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Refresher.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	s.History.Start(ctx, &s.wg)
	s.API.Start(ctx, &s.wg, onFatalError)
	s.Import.Start(ctx, &s.wg, onFatalError)

	return nil
}

// Stop waits for background services and releases resources.
// The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
	s.cfg.Close()
}
