package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/ingest"
	"github.com/dokzlo13/hadash/internal/observability"
	"github.com/dokzlo13/hadash/internal/refresh"
	"github.com/dokzlo13/hadash/internal/server"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *server.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, refresher *refresh.Refresher, ingester *ingest.Ingester, metrics *observability.Metrics) *APIService {
	return &APIService{
		cfg:    cfg,
		server: server.New(cfg.Server.Addr(), refresher, ingester, metrics),
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context, wg *sync.WaitGroup, onFatalError func(error)) {
	if !s.cfg.Server.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()
}
