package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

var (
	_ WeightStore = (*Store)(nil)
	_ WeightStore = (*FileStore)(nil)
	_ WeightStore = (*MemoryStore)(nil)
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func change(sit, act string, before, after float64, at time.Time) WeightChange {
	return WeightChange{
		WeightRecord: WeightRecord{SituationKey: sit, ActionKey: act, Weight: after, UpdatedAt: at},
		Before:       before,
		Outcome:      "accepted",
		TurnID:       "turn-1",
	}
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// #region sqlite-tests

func TestStoreUpsertAndLoad(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.0, 1.1, t0)); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}
	if err := s.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.1, 1.21, t0.Add(time.Minute))); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}
	if err := s.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0)); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}

	got, err := s.LoadWeights(ctx)
	if err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	want := []WeightRecord{
		{SituationKey: "network_slow", ActionKey: "wifi.reconnect", Weight: 1.21, UpdatedAt: t0.Add(time.Minute)},
		{SituationKey: "sick", ActionKey: "web.search", Weight: 0.9, UpdatedAt: t0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("weights mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreHistory(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	s.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.0, 1.1, t0))
	s.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0))
	s.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.1, 1.21, t0))

	all, err := s.History(ctx, "", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].After != 1.21 || all[0].Before != 1.1 {
		t.Fatalf("expected newest first, got %+v", all[0])
	}

	net, err := s.History(ctx, "network_slow", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(net) != 1 || net[0].SituationKey != "network_slow" || net[0].TurnID != "turn-1" {
		t.Fatalf("unexpected filtered history %+v", net)
	}
}

func TestStoreDeleteSituation(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	s.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0))
	s.SaveWeight(ctx, change("sick", "system.brightness.down", 1.0, 1.1, t0))
	s.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.0, 1.1, t0))

	n, err := s.DeleteSituation(ctx, "sick")
	if err != nil {
		t.Fatalf("DeleteSituation: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	got, _ := s.LoadWeights(ctx)
	if len(got) != 1 || got[0].SituationKey != "network_slow" {
		t.Fatalf("unexpected remaining weights %+v", got)
	}
	hist, _ := s.History(ctx, "sick", 10)
	if len(hist) != 2 {
		t.Fatalf("history should survive a reset, got %d entries", len(hist))
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.SaveWeight(context.Background(), change("sick", "web.search", 1.0, 0.81, t0))
	s.Close()

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := s2.LoadWeights(context.Background())
	if len(got) != 1 || got[0].Weight != 0.81 {
		t.Fatalf("unexpected weights after reopen %+v", got)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	s := tempDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SaveWeight(ctx, change("a", "b.c", 1, 1.1, t0)); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

// #endregion sqlite-tests

// #region file-tests

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "weights.json")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	if err := fs.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0)); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}
	if err := fs.SaveWeight(ctx, change("network_slow", "wifi.reconnect", 1.0, 1.1, t0)); err != nil {
		t.Fatalf("SaveWeight: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := reopened.LoadWeights(ctx)
	want := []WeightRecord{
		{SituationKey: "network_slow", ActionKey: "wifi.reconnect", Weight: 1.1, UpdatedAt: t0},
		{SituationKey: "sick", ActionKey: "web.search", Weight: 0.9, UpdatedAt: t0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("weights mismatch (-want +got):\n%s", diff)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestFileStoreWriteFailureKeepsCache(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "weights.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	fs.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0))

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs.path = filepath.Join(blocker, "weights.json")

	if err := fs.SaveWeight(ctx, change("sick", "web.search", 0.9, 0.81, t0)); err == nil {
		t.Fatal("expected write failure")
	}
	if err := fs.SaveWeight(ctx, change("new", "a.b", 1.0, 1.1, t0)); err == nil {
		t.Fatal("expected write failure")
	}
	got, _ := fs.LoadWeights(ctx)
	if len(got) != 1 || got[0].Weight != 0.9 {
		t.Fatalf("failed writes must not change the table, got %+v", got)
	}
}

func TestFileStoreDeleteSituation(t *testing.T) {
	fs, _ := NewFileStore(filepath.Join(t.TempDir(), "weights.json"))
	ctx := context.Background()
	fs.SaveWeight(ctx, change("sick", "web.search", 1.0, 0.9, t0))
	fs.SaveWeight(ctx, change("sick", "system.brightness.down", 1.0, 0.9, t0))

	n, err := fs.DeleteSituation(ctx, "sick")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 deleted, got %d %v", n, err)
	}
	if n, _ := fs.DeleteSituation(ctx, "missing"); n != 0 {
		t.Fatalf("expected 0 for unknown situation, got %d", n)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := NewFileStore(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// #endregion file-tests

// #region memory-tests

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(WeightRecord{SituationKey: "sick", ActionKey: "web.search", Weight: 2})
	ctx := context.Background()
	m.SaveWeight(ctx, change("sick", "web.search", 2, 2.2, t0))
	got, _ := m.LoadWeights(ctx)
	if len(got) != 1 || got[0].Weight != 2.2 {
		t.Fatalf("unexpected %+v", got)
	}
	if len(m.Changes()) != 1 {
		t.Fatalf("expected 1 change, got %d", len(m.Changes()))
	}
	m.FailWith = os.ErrPermission
	if err := m.SaveWeight(ctx, change("sick", "web.search", 2.2, 2.42, t0)); err == nil {
		t.Fatal("expected injected failure")
	}
}

// #endregion memory-tests
