package history

import (
	"testing"
	"time"

	"github.com/dokzlo13/hadash/internal/db"
	"github.com/dokzlo13/hadash/internal/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestAppendBatchAndSince(t *testing.T) {
	s := newTestStore(t)

	batchID, err := s.AppendBatch("sensor.temp", []graph.RawState{
		{Timestamp: 100, State: "20"},
		{Timestamp: 200, State: "21"},
		{Timestamp: 300, State: "22"},
	})
	if err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}
	if batchID == "" {
		t.Fatal("AppendBatch() returned empty batch id")
	}
	if _, err := s.AppendBatch("sensor.other", []graph.RawState{{Timestamp: 250, State: "1"}}); err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}

	got, err := s.Since("sensor.temp", 250)
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	want := []graph.RawState{{Timestamp: 200, State: "21"}, {Timestamp: 300, State: "22"}}
	if len(got) != len(want) {
		t.Fatalf("Since() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Since()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	all, err := s.Since("sensor.temp", 0)
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(all) != 3 || all[0].Timestamp != 100 {
		t.Errorf("Since(0) = %v", all)
	}
}

func TestAppendBatch_Empty(t *testing.T) {
	s := newTestStore(t)

	batchID, err := s.AppendBatch("sensor.temp", nil)
	if err != nil || batchID != "" {
		t.Errorf("AppendBatch(nil) = %q, %v", batchID, err)
	}
	versions, err := s.Versions()
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("empty batch bumped versions: %v", versions)
	}
}

func TestVersions(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.AppendBatch("light.kitchen", []graph.RawState{{Timestamp: int64(i), State: "on"}}); err != nil {
			t.Fatalf("AppendBatch() error = %v", err)
		}
	}
	if _, err := s.AppendBatch("sensor.temp", []graph.RawState{{Timestamp: 1, State: "3"}}); err != nil {
		t.Fatalf("AppendBatch() error = %v", err)
	}

	versions, err := s.Versions()
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if versions["light.kitchen"] != 3 || versions["sensor.temp"] != 1 {
		t.Errorf("Versions() = %v", versions)
	}
}

func TestDeleteOlderThan_KeepsLatestState(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	recent := time.Now().Add(-time.Hour).UnixMilli()

	if _, err := s.AppendBatch("light.kitchen", []graph.RawState{
		{Timestamp: old, State: "on"},
		{Timestamp: old + 1000, State: "off"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendBatch("sensor.temp", []graph.RawState{
		{Timestamp: old, State: "1"},
		{Timestamp: recent, State: "2"},
	}); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteOlderThan() deleted %d rows, want 2", deleted)
	}

	light, _ := s.Since("light.kitchen", 0)
	if len(light) != 1 || light[0].State != "off" {
		t.Errorf("light history after cleanup = %v", light)
	}
	temp, _ := s.Since("sensor.temp", 0)
	if len(temp) != 1 || temp[0].State != "2" {
		t.Errorf("sensor history after cleanup = %v", temp)
	}
}

func TestDeleteOlderThan_KeepsLatestByTimestamp(t *testing.T) {
	s := newTestStore(t)

	day := 24 * time.Hour
	now := time.Now()

	if _, err := s.AppendBatch("binary_sensor.door", []graph.RawState{
		{Timestamp: now.Add(-20 * day).UnixMilli(), State: "on"},
	}); err != nil {
		t.Fatal(err)
	}
	// Backfill of older history arrives after the current state
	if _, err := s.AppendBatch("binary_sensor.door", []graph.RawState{
		{Timestamp: now.Add(-30 * day).UnixMilli(), State: "off"},
	}); err != nil {
		t.Fatal(err)
	}
	// Out of time order within one batch
	if _, err := s.AppendBatch("sensor.temp", []graph.RawState{
		{Timestamp: now.Add(-10 * day).UnixMilli(), State: "5"},
		{Timestamp: now.Add(-40 * day).UnixMilli(), State: "1"},
	}); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteOlderThan(7 * day)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteOlderThan() deleted %d rows, want 2", deleted)
	}

	door, _ := s.Since("binary_sensor.door", now.UnixMilli())
	if len(door) != 1 || door[0].State != "on" {
		t.Errorf("door state carried into window = %v, want on", door)
	}
	temp, _ := s.Since("sensor.temp", 0)
	if len(temp) != 1 || temp[0].State != "5" {
		t.Errorf("sensor history after cleanup = %v", temp)
	}
}
