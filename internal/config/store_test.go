package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/p2p-failover/failoverd/internal/timestamp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTempConfig(t *testing.T, dir string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, "p2p-failover.config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadCreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")

	// The freshly created file is empty, so it has no config_metadata.name
	// and fails validation; the file itself must still have been created.
	store, err := Load(path, discardLogger())
	if _, serr := os.Stat(path); serr != nil {
		t.Errorf("Load should have created the file: %v", serr)
	}
	if err == nil {
		t.Error("expected Load to reject the empty config it created")
	}
	if store != nil {
		t.Error("expected no store for a config that fails validation")
	}
}

func TestLoadParsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, []byte(sampleYAML))

	store, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(store.Snapshot().Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(store.Snapshot().Peers))
	}
	if store.RawText() == "" {
		t.Error("RawText should be the verbatim loaded bytes")
	}
}

func TestPersistWritesCanonicalYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, []byte(sampleYAML))
	store, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := store.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}
	if _, err := Parse(data); err != nil {
		t.Fatalf("persisted file does not parse: %v", err)
	}
}

func TestMergeDiscardsStaleIncoming(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, []byte(sampleYAML))
	store, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	before := store.Snapshot()

	older, err := timestamp.Parse(before.Metadata.LastUpdated.Time().Add(-time.Second).Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	incoming := before.Clone()
	incoming.Metadata.LastUpdated = older
	incoming.Execution.Instructions = "/bin/echo should-not-apply"

	applied, err := store.Merge(incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if applied {
		t.Error("Merge should discard an older incoming config")
	}
	if store.Snapshot().Execution.Instructions != before.Execution.Instructions {
		t.Error("local config changed despite a stale merge")
	}
}

func TestMergeAppliesNewerIncomingAndGrowsMonotonically(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, []byte(sampleYAML))
	store, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	before := store.Snapshot()
	beforeNames := map[string]bool{}
	for _, p := range before.Peers {
		beforeNames[p.Name] = true
	}

	newer, err := timestamp.Parse(before.Metadata.LastUpdated.Time().Add(time.Second).Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	incoming := before.Clone()
	incoming.Metadata.LastUpdated = newer
	incoming.Execution.Instructions = "/bin/echo applied"
	incoming.Peers = append(incoming.Peers, Peer{
		Name:        "c",
		IP:          "127.0.0.1",
		Port:        9003,
		Preference:  1,
		Priority:    5,
		LastUpdated: newer,
	})

	applied, err := store.Merge(incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !applied {
		t.Fatal("Merge should apply a newer incoming config")
	}

	after := store.Snapshot()
	if after.Execution.Instructions != "/bin/echo applied" {
		t.Errorf("instructions = %q, want applied", after.Execution.Instructions)
	}
	if !after.Metadata.LastUpdated.Equal(newer) {
		t.Error("config_metadata.last_updated should adopt the incoming timestamp")
	}

	// Monotone growth: every pre-merge name is still present.
	afterNames := map[string]bool{}
	for _, p := range after.Peers {
		afterNames[p.Name] = true
	}
	for name := range beforeNames {
		if !afterNames[name] {
			t.Errorf("peer %q dropped across merge", name)
		}
	}
	if !afterNames["c"] {
		t.Error("newly introduced peer c was not added")
	}

	// Persisted to disk.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading persisted file: %v", err)
	}
	onDisk, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing persisted file: %v", err)
	}
	if onDisk.Execution.Instructions != "/bin/echo applied" {
		t.Error("merged config was not persisted to disk")
	}
}

func TestMergeDoesNotDuplicatePeers(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, []byte(sampleYAML))
	store, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	before := store.Snapshot()
	newer, _ := timestamp.Parse(before.Metadata.LastUpdated.Time().Add(time.Second).Format(time.RFC3339Nano))
	incoming := before.Clone()
	incoming.Metadata.LastUpdated = newer

	if _, err := store.Merge(incoming); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	after := store.Snapshot()
	if len(after.Peers) != len(before.Peers) {
		t.Errorf("peer count changed on a no-op merge: %d vs %d", len(after.Peers), len(before.Peers))
	}
}
