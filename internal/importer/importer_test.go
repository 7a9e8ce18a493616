package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/dokzlo13/hadash/internal/graph"
)

type recordingIngester struct {
	mu      sync.Mutex
	batches map[string][]graph.RawState
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{batches: make(map[string][]graph.RawState)}
}

func (r *recordingIngester) Ingest(source, entityID string, states []graph.RawState) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[entityID] = append(r.batches[entityID], states...)
	return "batch", nil
}

func (r *recordingIngester) get(entityID string) []graph.RawState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[entityID]
}

const doc = `{"states":[{"ts":1000,"state":"on"},{"ts":2000,"state":"off"}]}`

func writeXZ(t *testing.T, path, content string) {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestEntityIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/data/sensor.temp.json", "sensor.temp", true},
		{"/data/light.kitchen.json.xz", "light.kitchen", true},
		{"/data/notes.txt", "", false},
		{"/data/.json", "", false},
	}
	for _, tt := range tests {
		got, ok := EntityIDFromPath(tt.path)
		assert.Equal(t, tt.want, got, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ArchiveDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "light.kitchen.json"), []byte(doc), 0o644))
	writeXZ(t, filepath.Join(dir, "sensor.temp.json.xz"), `{"states":[{"ts":5,"state":"21.5"}]}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "switch.broken.json"), []byte("{"), 0o644))

	ing := newRecordingIngester()
	n, err := New(dir, "*.json*", ing).Scan()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []graph.RawState{{Timestamp: 1000, State: "on"}, {Timestamp: 2000, State: "off"}}, ing.get("light.kitchen"))
	assert.Equal(t, []graph.RawState{{Timestamp: 5, State: "21.5"}}, ing.get("sensor.temp"))

	_, err = os.Stat(filepath.Join(dir, "light.kitchen.json"))
	assert.True(t, os.IsNotExist(err), "imported file must be archived")
	_, err = os.Stat(filepath.Join(dir, "switch.broken.json"))
	assert.NoError(t, err, "broken file stays in place")

	archived, err := os.ReadDir(filepath.Join(dir, ArchiveDir))
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	// Archived files are not imported again
	n, err = New(dir, "**/*.json*", ing).Scan()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_ImportsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := newRecordingIngester()
	im := New(dir, "*.json", ing)
	im.quiet = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- im.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ArchiveDir))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	// Give the watcher a moment after creating the archive dir
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary_sensor.door.json"), []byte(doc), 0o644))

	require.Eventually(t, func() bool {
		return len(ing.get("binary_sensor.door")) == 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_InvalidPattern(t *testing.T) {
	err := New(t.TempDir(), "[", newRecordingIngester()).Run(context.Background())
	assert.Error(t, err)
}
