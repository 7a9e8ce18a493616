// Package importer ingests state documents dropped into a watched directory.
//
// Files are named <entity_id>.json or <entity_id>.json.xz and hold the same
// {"states": [...]} document the HTTP API accepts. Imported files are moved
// into the "imported" subdirectory so they are not ingested twice.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz"

	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/ingest"
	"github.com/dokzlo13/hadash/internal/refresh"
)

// ArchiveDir is the subdirectory imported files are moved to.
const ArchiveDir = "imported"

// DefaultQuiet is how long a file must stay unchanged before it is imported.
const DefaultQuiet = 250 * time.Millisecond

// Ingester stores incoming states, implemented by ingest.Ingester.
type Ingester interface {
	Ingest(source, entityID string, states []graph.RawState) (string, error)
}

// Importer watches a directory for state documents.
type Importer struct {
	dir      string
	pattern  string
	ingester Ingester
	quiet    time.Duration
}

// New creates a new Importer. pattern is a doublestar glob relative to dir.
func New(dir, pattern string, ingester Ingester) *Importer {
	return &Importer{
		dir:      dir,
		pattern:  pattern,
		ingester: ingester,
		quiet:    DefaultQuiet,
	}
}

// Run imports existing files, then watches the directory until the context
// is cancelled.
func (im *Importer) Run(ctx context.Context) error {
	if !doublestar.ValidatePattern(im.pattern) {
		return fmt.Errorf("invalid import pattern %q", im.pattern)
	}
	if err := os.MkdirAll(filepath.Join(im.dir, ArchiveDir), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(im.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", im.dir, err)
	}

	if _, err := im.Scan(); err != nil {
		log.Error().Err(err).Str("dir", im.dir).Msg("Initial import scan failed")
	}

	// Writers may produce several events per file, import after they settle
	pending := refresh.NewDebouncer(im.quiet, func(path string) {
		if err := im.ImportFile(path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to import file")
		}
	})
	defer pending.Close()

	log.Info().Str("dir", im.dir).Str("pattern", im.pattern).Msg("Import watcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Import watcher stopping")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				if im.matches(ev.Name) {
					pending.Add(ev.Name)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// Scan imports every matching file currently in the directory.
func (im *Importer) Scan() (int, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(im.dir, im.pattern))
	if err != nil {
		return 0, fmt.Errorf("pattern matching failed: %w", err)
	}

	imported := 0
	for _, path := range matches {
		if !im.matches(path) {
			continue
		}
		if err := im.ImportFile(path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to import file")
			continue
		}
		imported++
	}
	return imported, nil
}

// matches reports whether path is an importable file of the directory
func (im *Importer) matches(path string) bool {
	rel, err := filepath.Rel(im.dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == ArchiveDir || strings.HasPrefix(rel, ArchiveDir+"/") {
		return false
	}
	if _, ok := EntityIDFromPath(path); !ok {
		return false
	}
	ok, err := doublestar.Match(im.pattern, rel)
	return err == nil && ok
}

// EntityIDFromPath derives the entity id from a file name.
func EntityIDFromPath(path string) (string, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".xz")
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	name = strings.TrimSuffix(name, ".json")
	return name, name != ""
}

// ImportFile ingests one file and moves it to the archive directory.
func (im *Importer) ImportFile(path string) error {
	entityID, ok := EntityIDFromPath(path)
	if !ok {
		return fmt.Errorf("cannot derive entity id from %s", filepath.Base(path))
	}

	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	if _, err := im.ingester.Ingest("import", entityID, doc.States); err != nil {
		return err
	}

	archived := filepath.Join(im.dir, ArchiveDir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(path)))
	if err := os.Rename(path, archived); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}

func readDocument(path string) (ingest.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Document{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xzReader, err := xz.NewReader(f)
		if err != nil {
			return ingest.Document{}, fmt.Errorf("failed to create xz reader: %w", err)
		}
		reader = xzReader
	}

	return ingest.Decode(reader)
}
