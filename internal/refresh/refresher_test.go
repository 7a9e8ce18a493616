package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hadash/internal/config"
	"github.com/dokzlo13/hadash/internal/eventbus"
	"github.com/dokzlo13/hadash/internal/graph"
)

const testConfig = `
refresh:
  debounce: 10ms
  periodic_interval: 1h
  rate_limit_rps: 1000
graphs:
  - id: climate
    title: Climate
    series:
      - entity: sensor.living_temp
        label: Living
      - entity: sensor.kitchen_temp
        label: Kitchen
        transform: return tonumber(state) / 10
    annotations:
      - entity: binary_sensor.motion
        label: Motion
  - id: power
    series:
      - entity: sensor.power
`

type fakeHistory struct {
	mu       sync.Mutex
	states   map[string][]graph.RawState
	versions map[string]int64
	err      error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		states:   make(map[string][]graph.RawState),
		versions: make(map[string]int64),
	}
}

func (h *fakeHistory) add(entityID string, states ...graph.RawState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[entityID] = append(h.states[entityID], states...)
	h.versions[entityID]++
}

func (h *fakeHistory) Since(entityID string, fromMs int64) ([]graph.RawState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return append([]graph.RawState(nil), h.states[entityID]...), nil
}

func (h *fakeHistory) Versions() (map[string]int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.versions))
	for k, v := range h.versions {
		out[k] = v
	}
	return out, nil
}

var testNow = time.UnixMilli(1_700_000_000_000)

func newTestRefresher(t *testing.T, history HistorySource, bus *eventbus.Bus) *Refresher {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	t.Cleanup(cfg.Close)

	r := New(cfg, history, bus, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func hoursAgo(h float64) int64 {
	return testNow.Add(-time.Duration(h * float64(time.Hour))).UnixMilli()
}

func TestRender(t *testing.T) {
	h := newFakeHistory()
	h.add("sensor.living_temp",
		graph.RawState{Timestamp: hoursAgo(20), State: "20"},
		graph.RawState{Timestamp: hoursAgo(10), State: "unavailable"},
		graph.RawState{Timestamp: hoursAgo(5), State: "22"},
	)
	h.add("sensor.kitchen_temp", graph.RawState{Timestamp: hoursAgo(12), State: "215"})
	h.add("binary_sensor.motion",
		graph.RawState{Timestamp: hoursAgo(6), State: "on"},
		graph.RawState{Timestamp: hoursAgo(3), State: "off"},
	)
	r := newTestRefresher(t, h, nil)

	snap, err := r.Render("climate")
	require.NoError(t, err)
	assert.Equal(t, "Climate", snap.Title)
	assert.Equal(t, testNow, snap.RenderedAt)

	g := snap.Graph
	require.NotNil(t, g)
	assert.False(t, g.Unavailable)
	assert.Equal(t, 20.0, g.Stats.Min)
	assert.Equal(t, 22.0, g.Stats.Max)
	require.Len(t, g.Groups, 2)
	assert.Equal(t, "Living", g.Groups[0].Label)
	assert.Equal(t, "Kitchen", g.Groups[1].Label)
	assert.Equal(t, 21.5, g.Groups[1].Series[0].Stats.Min)

	require.Len(t, g.Annotations, 1)
	require.Len(t, g.Annotations[0].Intervals, 1)
	assert.InDelta(t, 75.0, g.Annotations[0].Intervals[0].Start, 1e-9)
	assert.InDelta(t, 87.5, g.Annotations[0].Intervals[0].End, 1e-9)

	got, ok, err := r.Snapshot("climate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, snap, got)
}

func TestRender_NoHistory(t *testing.T) {
	r := newTestRefresher(t, newFakeHistory(), nil)

	snap, err := r.Render("power")
	require.NoError(t, err)
	assert.True(t, snap.Graph.Unavailable)
	require.Len(t, snap.Graph.Groups, 1)
	assert.Empty(t, snap.Graph.Groups[0].Series[0].Path)
}

func TestRender_Errors(t *testing.T) {
	h := newFakeHistory()
	r := newTestRefresher(t, h, nil)

	_, err := r.Render("missing")
	assert.ErrorIs(t, err, ErrUnknownGraph)

	h.err = errors.New("disk on fire")
	_, err = r.Render("power")
	assert.ErrorContains(t, err, "disk on fire")

	_, ok, err := r.Snapshot("power")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = r.Snapshot("missing")
	assert.ErrorIs(t, err, ErrUnknownGraph)
}

func TestToggleFocus(t *testing.T) {
	h := newFakeHistory()
	h.add("sensor.living_temp", graph.RawState{Timestamp: hoursAgo(1), State: "1"})
	h.add("sensor.kitchen_temp", graph.RawState{Timestamp: hoursAgo(1), State: "20"})
	r := newTestRefresher(t, h, nil)

	focused, err := r.ToggleFocus("climate", "Living")
	require.NoError(t, err)
	assert.Equal(t, "Living", focused)

	snap, err := r.Render("climate")
	require.NoError(t, err)
	assert.Equal(t, "Living", snap.Graph.Focused)
	last := snap.Graph.Groups[len(snap.Graph.Groups)-1]
	assert.Equal(t, "Living", last.Label)
	assert.True(t, last.Focused)

	focused, err = r.ToggleFocus("climate", "Living")
	require.NoError(t, err)
	assert.Empty(t, focused)

	_, err = r.ToggleFocus("missing", "Living")
	assert.ErrorIs(t, err, ErrUnknownGraph)
}

func TestRefreshDirty_OnlyChangedGraphs(t *testing.T) {
	h := newFakeHistory()
	r := newTestRefresher(t, h, nil)
	ctx := context.Background()

	r.refreshAll(ctx)
	first, _, _ := r.Snapshot("climate")
	firstPower, _, _ := r.Snapshot("power")
	require.NotNil(t, first)
	require.NotNil(t, firstPower)

	h.add("sensor.power", graph.RawState{Timestamp: hoursAgo(1), State: "100"})
	r.refreshDirty(ctx)

	climate, _, _ := r.Snapshot("climate")
	power, _, _ := r.Snapshot("power")
	assert.Same(t, first, climate, "climate has no new states and must not be re-rendered")
	assert.NotSame(t, firstPower, power)
	assert.False(t, power.Graph.Unavailable)
}

func TestRun_RendersOnEntityUpdate(t *testing.T) {
	h := newFakeHistory()
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	r := newTestRefresher(t, h, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		snap, ok, _ := r.Snapshot("power")
		return ok && snap.Graph.Unavailable
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bus.Subscribers("sensor.power") == 1 }, time.Second, 5*time.Millisecond)

	h.add("sensor.power", graph.RawState{Timestamp: hoursAgo(2), State: "42"})
	bus.Publish(eventbus.Event{EntityID: "sensor.power", States: 1})

	require.Eventually(t, func() bool {
		snap, _, _ := r.Snapshot("power")
		return !snap.Graph.Unavailable
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, bus.Subscribers("sensor.power"), "subscriptions are disposed when Run returns")
}
