package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hadash/internal/entity"
	"github.com/dokzlo13/hadash/internal/graph"
	"github.com/dokzlo13/hadash/internal/observability"
	"github.com/dokzlo13/hadash/internal/refresh"
)

type fakeGraphs struct {
	ids       []string
	snapshots map[string]*refresh.Snapshot
	focused   map[string]string
}

func (f *fakeGraphs) GraphIDs() []string { return f.ids }

func (f *fakeGraphs) known(id string) bool {
	for _, known := range f.ids {
		if known == id {
			return true
		}
	}
	return false
}

func (f *fakeGraphs) Snapshot(id string) (*refresh.Snapshot, bool, error) {
	if !f.known(id) {
		return nil, false, fmt.Errorf("%w: %s", refresh.ErrUnknownGraph, id)
	}
	snap, ok := f.snapshots[id]
	return snap, ok, nil
}

func (f *fakeGraphs) ToggleFocus(id, label string) (string, error) {
	if !f.known(id) {
		return "", fmt.Errorf("%w: %s", refresh.ErrUnknownGraph, id)
	}
	if f.focused[id] == label {
		f.focused[id] = ""
	} else {
		f.focused[id] = label
	}
	return f.focused[id], nil
}

type fakeIngester struct {
	entityID string
	states   []graph.RawState
}

func (f *fakeIngester) Ingest(source, entityID string, states []graph.RawState) (string, error) {
	if _, err := entity.ParseID(entityID); err != nil {
		return "", err
	}
	f.entityID = entityID
	f.states = states
	return "batch-1", nil
}

func newTestServer() (*Server, *fakeGraphs, *fakeIngester) {
	now := time.UnixMilli(1_700_000_000_000)
	g := graph.Build(graph.Options{}, graph.Request{
		Now: now,
		Series: []graph.SeriesSpec{{
			ID:      "sensor.temp",
			Label:   "Temp",
			Samples: graph.Stream{{Timestamp: now.Add(-time.Hour).UnixMilli(), Value: graph.NumberValue(20)}},
		}},
	})
	graphs := &fakeGraphs{
		ids: []string{"climate", "power"},
		snapshots: map[string]*refresh.Snapshot{
			"climate": {ID: "climate", Title: "Climate", RenderedAt: now, Graph: g},
		},
		focused: make(map[string]string),
	}
	ing := &fakeIngester{}
	return New("127.0.0.1:0", graphs, ing, observability.NewMetrics()), graphs, ing
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s, graphs, _ := newTestServer()
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"starting","pending":["power"]}`, rec.Body.String())

	graphs.snapshots["power"] = &refresh.Snapshot{ID: "power"}
	rec = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hadash_http_requests_total{route="ready",status="503"} 1`)
}

func TestGraphs(t *testing.T) {
	s, _, _ := newTestServer()
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/graphs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"graphs":["climate","power"]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/graphs/climate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Graph struct {
			NumBuckets int `json:"num_buckets"`
			Groups     []struct {
				Label  string `json:"label"`
				Mode   string `json:"mode"`
				Series []struct {
					Path string `json:"path"`
				} `json:"series"`
			} `json:"groups"`
			Unavailable bool `json:"unavailable"`
		} `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "Climate", snap.Title)
	assert.Equal(t, 100, snap.Graph.NumBuckets)
	assert.False(t, snap.Graph.Unavailable)
	require.Len(t, snap.Graph.Groups, 1)
	assert.Equal(t, "single", snap.Graph.Groups[0].Mode)
	assert.True(t, strings.HasPrefix(snap.Graph.Groups[0].Series[0].Path, "M"), snap.Graph.Groups[0].Series[0].Path)

	rec = do(t, h, http.MethodGet, "/api/graphs/power", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/graphs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown graph")

	rec = do(t, h, http.MethodDelete, "/api/graphs/climate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFocus(t *testing.T) {
	s, graphs, _ := newTestServer()
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/graphs/climate/focus", `{"label":"Temp"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"graph":"climate","focused":"Temp"}`, rec.Body.String())
	assert.Equal(t, "Temp", graphs.focused["climate"])

	rec = do(t, h, http.MethodPost, "/api/graphs/climate/focus", `{"label":"Temp"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"graph":"climate","focused":""}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/graphs/climate/focus", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/graphs/missing/focus", `{"label":"Temp"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest(t *testing.T) {
	s, _, ing := newTestServer()
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/entities/sensor.temp/states", `{"states":[{"ts":1,"state":"21.5"},{"ts":2,"state":"22"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"entity":"sensor.temp","batch":"batch-1","states":2}`, rec.Body.String())
	assert.Equal(t, "sensor.temp", ing.entityID)
	assert.Len(t, ing.states, 2)

	rec = do(t, h, http.MethodPost, "/api/entities/sensor.temp/states", `{"states":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/entities/BAD/states", `{"states":[{"ts":1,"state":"1"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid entity id")
}
