// Package refresh keeps rendered graphs up to date with the entity history.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/entity"
	"github.com/dokzlo13/hadash/internal/eventbus"
	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/observability"
)

// ErrUnknownGraph is returned for graph ids missing from the configuration.
var ErrUnknownGraph = errors.New("unknown graph")

// HistorySource provides the stored entity states graphs are built from.
type HistorySource interface {
	Since(entityID string, fromMs int64) ([]graph.RawState, error)
	Versions() (map[string]int64, error)
}

// Snapshot is the latest rendered state of a graph.
type Snapshot struct {
	ID         string       `json:"id"`
	Title      string       `json:"title,omitempty"`
	RenderedAt time.Time    `json:"rendered_at"`
	Graph      *graph.Graph `json:"graph"`
}

// Refresher re-renders graphs when their entities change and periodically,
// since the 24h window slides with time.
type Refresher struct {
	cfg     *config.Config
	history HistorySource
	bus     *eventbus.Bus
	metrics *observability.Metrics
	now     func() time.Time

	// Configuration
	periodicInterval time.Duration

	// Rate limiting for renders
	limiter  *rate.Limiter
	debounce *Debouncer

	// Per-graph tracking
	mu          sync.Mutex
	lastVersion map[string]int64 // entity -> version at last render
	pending     map[string]bool  // graph -> needs render
	focus       map[string]*graph.Focus
	subs        []*eventbus.Subscription

	snapMu    sync.RWMutex
	snapshots map[string]*Snapshot

	// Channel to trigger a refresh pass
	trigger chan struct{}
}

// New creates a new Refresher. bus and metrics may be nil.
func New(cfg *config.Config, history HistorySource, bus *eventbus.Bus, metrics *observability.Metrics) *Refresher {
	periodicInterval := cfg.Refresh.PeriodicInterval.Duration()
	if periodicInterval == 0 {
		periodicInterval = time.Minute
	}
	rateLimitRPS := cfg.Refresh.RateLimitRPS
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	r := &Refresher{
		cfg:              cfg,
		history:          history,
		bus:              bus,
		metrics:          metrics,
		now:              time.Now,
		periodicInterval: periodicInterval,
		limiter:          rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
		lastVersion:      make(map[string]int64),
		pending:          make(map[string]bool),
		focus:            make(map[string]*graph.Focus),
		snapshots:        make(map[string]*Snapshot),
		trigger:          make(chan struct{}, 1),
	}
	r.debounce = NewDebouncer(cfg.Refresh.Debounce.Duration(), r.TriggerEntity)

	for i := range cfg.Graphs {
		r.focus[cfg.Graphs[i].ID] = &graph.Focus{}
		checkEntityKinds(&cfg.Graphs[i])
	}
	return r
}

// checkEntityKinds warns about entities configured in a role their domain
// does not graph that way. They are still rendered as configured.
func checkEntityKinds(gc *config.GraphConfig) {
	for _, s := range gc.Series {
		e, err := entity.Parse(s.Entity)
		if err != nil {
			continue
		}
		if kind := entity.HistoryKindOf(e); kind != entity.HistorySeries && s.Compiled() == nil {
			log.Warn().
				Str("graph", gc.ID).
				Str("entity", s.Entity).
				Str("kind", string(kind)).
				Msg("Entity is not numeric, series may stay empty without a transform")
		}
	}
	for _, a := range gc.Annotations {
		e, err := entity.Parse(a.Entity)
		if err != nil {
			continue
		}
		if kind := entity.HistoryKindOf(e); kind != entity.HistoryAnnotation {
			log.Warn().
				Str("graph", gc.ID).
				Str("entity", a.Entity).
				Str("kind", string(kind)).
				Msg("Entity is not boolean, annotation may stay empty")
		}
	}
}

// Trigger requests a refresh pass over all dirty graphs
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// TriggerGraph marks a specific graph for rendering
func (r *Refresher) TriggerGraph(graphID string) {
	r.mu.Lock()
	r.pending[graphID] = true
	r.mu.Unlock()
	r.Trigger()
}

// TriggerEntity marks every graph showing entityID for rendering
func (r *Refresher) TriggerEntity(entityID string) {
	r.mu.Lock()
	for _, gc := range r.cfg.Graphs {
		for _, id := range gc.Entities() {
			if id == entityID {
				r.pending[gc.ID] = true
				break
			}
		}
	}
	r.mu.Unlock()
	r.Trigger()
}

// Run starts the refresh loop. All graphs are rendered once up front.
func (r *Refresher) Run(ctx context.Context) error {
	log.Info().
		Dur("periodic_interval", r.periodicInterval).
		Int("graphs", len(r.cfg.Graphs)).
		Msg("Refresher started")

	r.subscribe()
	defer r.unsubscribe()

	r.refreshAll(ctx)

	// Periodic refresh
	ticker := time.NewTicker(r.periodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Refresher stopping")
			return nil

		case <-r.trigger:
			r.refreshDirty(ctx)

		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// subscribe listens for history updates of every configured entity
func (r *Refresher) subscribe() {
	if r.bus == nil {
		return
	}

	seen := make(map[string]bool)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gc := range r.cfg.Graphs {
		for _, id := range gc.Entities() {
			if seen[id] {
				continue
			}
			seen[id] = true
			r.subs = append(r.subs, r.bus.Subscribe(id, func(e eventbus.Event) {
				r.debounce.Add(e.EntityID)
			}))
		}
	}
	log.Debug().Int("entities", len(seen)).Msg("Subscribed to entity updates")
}

func (r *Refresher) unsubscribe() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Dispose()
	}
	r.debounce.Close()
}

func (r *Refresher) refreshAll(ctx context.Context) {
	r.mu.Lock()
	for _, gc := range r.cfg.Graphs {
		r.pending[gc.ID] = true
	}
	r.mu.Unlock()
	r.refreshDirty(ctx)
}

func (r *Refresher) refreshDirty(ctx context.Context) {
	// Versions are read before rendering so batches stored during the pass
	// leave their graphs dirty for the next one.
	versions, err := r.history.Versions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get entity versions")
		return
	}

	r.mu.Lock()
	var dirty []*config.GraphConfig
	for i := range r.cfg.Graphs {
		gc := &r.cfg.Graphs[i]
		if r.pending[gc.ID] || r.changed(gc, versions) {
			dirty = append(dirty, gc)
		}
	}
	r.pending = make(map[string]bool)
	for id, v := range versions {
		r.lastVersion[id] = v
	}
	r.mu.Unlock()

	for _, gc := range dirty {
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if _, err := r.render(gc); err != nil {
			log.Error().Err(err).Str("graph", gc.ID).Msg("Failed to render graph")
			r.mu.Lock()
			r.pending[gc.ID] = true
			r.mu.Unlock()
		}
	}
}

// changed reports whether any entity of gc has a new version. Caller holds r.mu.
func (r *Refresher) changed(gc *config.GraphConfig, versions map[string]int64) bool {
	for _, id := range gc.Entities() {
		if versions[id] != r.lastVersion[id] {
			return true
		}
	}
	return false
}

// Render builds a graph from the current history and stores it as the
// graph's snapshot.
func (r *Refresher) Render(graphID string) (*Snapshot, error) {
	gc, ok := r.cfg.GraphByID(graphID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}
	return r.render(gc)
}

func (r *Refresher) render(gc *config.GraphConfig) (*Snapshot, error) {
	start := time.Now()
	now := r.now()

	g, err := r.build(gc, now)
	if err != nil {
		r.metrics.GraphRendered(gc.ID, time.Since(start), 0, err)
		return nil, err
	}
	r.metrics.GraphRendered(gc.ID, time.Since(start), len(g.Diagnostics), nil)

	snap := &Snapshot{
		ID:         gc.ID,
		Title:      gc.Title,
		RenderedAt: now,
		Graph:      g,
	}

	r.snapMu.Lock()
	r.snapshots[gc.ID] = snap
	r.snapMu.Unlock()

	log.Debug().
		Str("graph", gc.ID).
		Int("groups", len(g.Groups)).
		Int("annotations", len(g.Annotations)).
		Bool("unavailable", g.Unavailable).
		Dur("took", time.Since(start)).
		Msg("Graph rendered")

	return snap, nil
}

func (r *Refresher) build(gc *config.GraphConfig, now time.Time) (*graph.Graph, error) {
	from := graph.WindowStart(now)
	req := graph.Request{
		Now:   now,
		Focus: r.focus[gc.ID].Focused(),
	}

	for i := range gc.Series {
		sc := &gc.Series[i]
		raw, err := r.history.Since(sc.Entity, from)
		if err != nil {
			return nil, fmt.Errorf("failed to load history of %s: %w", sc.Entity, err)
		}

		var samples graph.Stream
		if t := sc.Compiled(); t != nil {
			samples = t.Stream(raw)
		} else {
			samples = graph.ParseStates(raw)
		}
		req.Series = append(req.Series, graph.SeriesSpec{
			ID:      sc.Entity,
			Label:   sc.Label,
			Color:   sc.Color,
			Filled:  sc.Filled,
			Samples: samples,
		})
	}

	for _, ac := range gc.Annotations {
		raw, err := r.history.Since(ac.Entity, from)
		if err != nil {
			return nil, fmt.Errorf("failed to load history of %s: %w", ac.Entity, err)
		}
		req.Annotations = append(req.Annotations, graph.AnnotationSpec{
			ID:      ac.Entity,
			Label:   ac.Label,
			Samples: graph.ParseStates(raw),
		})
	}

	return graph.Build(gc.RenderOptions(r.cfg.Graph), req), nil
}

// Snapshot returns the latest rendered snapshot of a graph. ok is false when
// the graph has not been rendered yet.
func (r *Refresher) Snapshot(graphID string) (snap *Snapshot, ok bool, err error) {
	if _, known := r.cfg.GraphByID(graphID); !known {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}

	r.snapMu.RLock()
	defer r.snapMu.RUnlock()
	snap, ok = r.snapshots[graphID]
	return snap, ok, nil
}

// ToggleFocus toggles the focused label of a graph and schedules a render.
// It returns the label focused afterwards.
func (r *Refresher) ToggleFocus(graphID, label string) (string, error) {
	f, ok := r.focus[graphID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}
	focused := f.Toggle(label)
	log.Info().Str("graph", graphID).Str("focused", focused).Msg("Graph focus changed")
	r.TriggerGraph(graphID)
	return focused, nil
}

// GraphIDs returns the configured graph ids in configuration order.
func (r *Refresher) GraphIDs() []string {
	ids := make([]string, 0, len(r.cfg.Graphs))
	for _, gc := range r.cfg.Graphs {
		ids = append(ids, gc.ID)
	}
	return ids
}
