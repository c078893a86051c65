package fieldtest

import (
	"testing"

	"tileweave.ai/internal/gen/field"
	"tileweave.ai/internal/persistence/snapshot"
)

func TestSnapshotRoundTripRestoresGrid(t *testing.T) {
	cat := openSpace(t)
	cfg := field.Config{ID: "test", Seed: 42, Tune: DefaultTuning()}

	h := NewHarness(t, cfg, cat, "walker")
	h.Step(25)
	want := h.F.DebugDigest()

	snap := h.F.ExportSnapshot(h.F.CurrentTick())

	f2, err := field.New(cfg, cat)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	if err := f2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := f2.DebugDigest(); got != want {
		t.Fatalf("digest after import = %s, want %s", got, want)
	}
	if f2.CurrentTick() != snap.Header.Tick {
		t.Fatalf("tick after import = %d, want %d", f2.CurrentTick(), snap.Header.Tick)
	}
}

func TestSnapshotSurvivesDisk(t *testing.T) {
	cat := openSpace(t)
	cfg := field.Config{ID: "test", Seed: 7, Tune: DefaultTuning()}

	h := NewHarness(t, cfg, cat, "walker")
	h.Step(10)

	snap := h.F.ExportSnapshot(h.F.CurrentTick())
	dir := t.TempDir()
	path := snapshot.PathFor(dir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := snapshot.Latest(dir); got != path {
		t.Fatalf("Latest = %q, want %q", got, path)
	}

	loaded, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f2, err := field.New(cfg, cat)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	if err := f2.ImportSnapshot(loaded); err != nil {
		t.Fatalf("import: %v", err)
	}
	if f2.DebugDigest() != h.F.DebugDigest() {
		t.Fatalf("digest diverged across disk round trip")
	}
}

func TestSnapshotRejectsForeignRuleset(t *testing.T) {
	cat := openSpace(t)
	cfg := field.Config{ID: "test", Seed: 7, Tune: DefaultTuning()}
	h := NewHarness(t, cfg, cat, "walker")

	snap := h.F.ExportSnapshot(h.F.CurrentTick())
	snap.RulesetID = "dungeon"

	f2, err := field.New(cfg, cat)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	if err := f2.ImportSnapshot(snap); err == nil {
		t.Fatalf("import accepted a snapshot from another ruleset")
	}
}
