// Package ingest stores incoming entity states and announces them on the bus.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/entity"
	"github.com/dokzlo13/hadash/internal/eventbus"
	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/observability"
)

// ErrNoStates is returned for documents without any state.
var ErrNoStates = errors.New("no states")

// Document is the wire format shared by the HTTP API and the import directory.
type Document struct {
	States []graph.RawState `json:"states"`
}

// Decode reads a Document and rejects unknown fields.
func Decode(r io.Reader) (Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode states: %w", err)
	}
	if len(doc.States) == 0 {
		return Document{}, ErrNoStates
	}
	return doc, nil
}

// Appender stores a batch of states for one entity.
type Appender interface {
	AppendBatch(entityID string, states []graph.RawState) (string, error)
}

// Ingester writes states to history and publishes an update event.
type Ingester struct {
	store   Appender
	bus     *eventbus.Bus
	metrics *observability.Metrics
}

// New creates a new Ingester. bus and metrics may be nil.
func New(store Appender, bus *eventbus.Bus, metrics *observability.Metrics) *Ingester {
	return &Ingester{store: store, bus: bus, metrics: metrics}
}

// Ingest stores states for entityID, sorted by timestamp, and returns the
// batch id. source names the ingestion path in logs and metrics.
func (i *Ingester) Ingest(source, entityID string, states []graph.RawState) (string, error) {
	id, err := entity.ParseID(entityID)
	if err != nil {
		return "", err
	}
	entityID = id.String()
	if len(states) == 0 {
		return "", ErrNoStates
	}

	sorted := make([]graph.RawState, len(states))
	copy(sorted, states)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Timestamp < sorted[b].Timestamp
	})

	batchID, err := i.store.AppendBatch(entityID, sorted)
	if err != nil {
		return "", fmt.Errorf("failed to store states of %s: %w", entityID, err)
	}
	i.metrics.StatesIngested(source, len(sorted))

	log.Info().
		Str("source", source).
		Str("entity", entityID).
		Str("batch", batchID).
		Int("states", len(sorted)).
		Msg("States ingested")

	if i.bus != nil {
		i.bus.Publish(eventbus.Event{
			EntityID: entityID,
			BatchID:  batchID,
			States:   len(sorted),
		})
	}
	return batchID, nil
}
