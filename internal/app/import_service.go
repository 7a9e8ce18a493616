package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/importer"
	"github.com/dokzlo13/hadash/internal/ingest"
)

// ImportService wraps the import directory watcher.
type ImportService struct {
	cfg      *config.Config
	importer *importer.Importer
}

// NewImportService creates a new ImportService.
func NewImportService(cfg *config.Config, ingester *ingest.Ingester) *ImportService {
	s := &ImportService{cfg: cfg}
	if cfg.Import.Dir != "" {
		s.importer = importer.New(cfg.Import.Dir, cfg.Import.Pattern, ingester)
	}
	return s
}

// Start begins watching the import directory if one is configured.
func (s *ImportService) Start(ctx context.Context, wg *sync.WaitGroup, onFatalError func(error)) {
	if s.importer == nil {
		log.Debug().Msg("Import watcher disabled")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.importer.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()
}
