// Package server provides the HTTP API: health, metrics, graph snapshots,
// focus toggling and state ingestion.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hadash/internal/entity"
	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/ingest"
	"github.com/dokzlo13/hadash/internal/observability"
	"github.com/dokzlo13/hadash/internal/refresh"
)

// maxBodyBytes limits ingestion request bodies.
const maxBodyBytes = 10 << 20

// Graphs is the graph side of the API, implemented by refresh.Refresher.
type Graphs interface {
	GraphIDs() []string
	Snapshot(graphID string) (*refresh.Snapshot, bool, error)
	ToggleFocus(graphID, label string) (string, error)
}

// Ingester stores incoming states, implemented by ingest.Ingester.
type Ingester interface {
	Ingest(source, entityID string, states []graph.RawState) (string, error)
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	graphs     Graphs
	ingester   Ingester
	metrics    *observability.Metrics
	httpServer *http.Server
}

// New creates a new Server. metrics may be nil.
func New(addr string, graphs Graphs, ingester Ingester, metrics *observability.Metrics) *Server {
	return &Server{
		addr:     addr,
		graphs:   graphs,
		ingester: ingester,
		metrics:  metrics,
	}
}

// Handler returns the routed and access-logged API handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/health", s.metrics.WrapHandler("health", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	r.Handle("/ready", s.metrics.WrapHandler("ready", http.HandlerFunc(s.handleReady))).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/graphs", s.metrics.WrapHandler("graphs", http.HandlerFunc(s.handleListGraphs))).Methods(http.MethodGet)
	api.Handle("/graphs/{id}", s.metrics.WrapHandler("graph", http.HandlerFunc(s.handleGetGraph))).Methods(http.MethodGet)
	api.Handle("/graphs/{id}/focus", s.metrics.WrapHandler("focus", http.HandlerFunc(s.handleFocus))).Methods(http.MethodPost)
	api.Handle("/entities/{entity_id}/states", s.metrics.WrapHandler("ingest", http.HandlerFunc(s.handleIngest))).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	return handlers.CustomLoggingHandler(io.Discard, r, logRequest)
}

// logRequest writes the access log through zerolog instead of the writer
func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	log.Debug().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("took", time.Since(p.TimeStamp)).
		Msg("HTTP request")
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready once every graph has been rendered at least once
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var waiting []string
	for _, id := range s.graphs.GraphIDs() {
		if _, ok, _ := s.graphs.Snapshot(id); !ok {
			waiting = append(waiting, id)
		}
	}
	if len(waiting) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting", "pending": waiting})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	ids := s.graphs.GraphIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"graphs": ids})
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, ok, err := s.graphs.Snapshot(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("graph not rendered yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type focusRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req focusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, errors.New("label is required"))
		return
	}

	focused, err := s.graphs.ToggleFocus(id, req.Label)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"graph": id, "focused": focused})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entity_id"]

	doc, err := ingest.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	batchID, err := s.ingester.Ingest("http", entityID, doc.States)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"entity": entityID,
		"batch":  batchID,
		"states": len(doc.States),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, refresh.ErrUnknownGraph):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidID), errors.Is(err, ingest.ErrNoStates):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
