package field

import (
	"os"
	"path/filepath"
	"testing"

	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/gen/tuning"
)

// stripCatalog is a minimal three-tile catalog: M admits only B on every
// side, A and B are unconstrained. Fallback is configurable per test.
func stripCatalog(t *testing.T, fallback string) *rules.Catalog {
	t.Helper()
	src := `{
		"id": "strip",
		"fallback": "` + fallback + `",
		"tiles": [
			{"id": "A", "weight": 3},
			{"id": "B", "weight": 1},
			{"id": "M"}
		],
		"adjacency": [
			{"tile": "M", "dir": "+x", "allow": ["B"]},
			{"tile": "M", "dir": "-x", "allow": ["B"]},
			{"tile": "M", "dir": "+z", "allow": ["B"]},
			{"tile": "M", "dir": "-z", "allow": ["B"]}
		]
	}`
	path := filepath.Join(t.TempDir(), "strip.json")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := rules.Load(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newTestField(t *testing.T, cat *rules.Catalog, seed int64, mod func(*tuning.Tuning)) *Field {
	t.Helper()
	tn := tuning.Defaults()
	tn.TickRateHz = 5
	tn.CellsOnEdge = 3
	if mod != nil {
		mod(&tn)
	}
	f, err := New(Config{ID: "test", Seed: seed, Tune: tn}, cat)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	return f
}

func mustTile(t *testing.T, cat *rules.Catalog, id string) rules.Tile {
	t.Helper()
	tile, ok := cat.TileByID(id)
	if !ok {
		t.Fatalf("catalog missing tile %s", id)
	}
	return tile
}

func TestPropagationPrunesBothNeighbors(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 1, nil)

	for x := 0; x < 3; x++ {
		f.DebugAddCell(Coord{X: x})
	}
	m := mustTile(t, cat, "M")
	b := mustTile(t, cat, "B")
	f.DebugSetCell(Coord{X: 1}, m)
	f.DebugPropagate()

	for _, x := range []int{0, 2} {
		c, ok := f.DebugCellAt(Coord{X: x})
		if !ok {
			t.Fatalf("cell at x=%d missing", x)
		}
		if c.Collapsed {
			t.Fatalf("cell at x=%d collapsed during propagation", x)
		}
		if c.Valid != rules.NewTileSet(b) {
			t.Fatalf("cell at x=%d: valid=%v, want only B", x, c.Valid.Tiles())
		}
		if c.Entropy != 1 {
			t.Fatalf("cell at x=%d: entropy=%d, want 1", x, c.Entropy)
		}
	}
	if f.DebugQueueDepth() != 0 {
		t.Fatalf("queue not drained: depth=%d", f.DebugQueueDepth())
	}
}

func TestPropagationIdempotent(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 1, nil)

	for x := 0; x < 3; x++ {
		f.DebugAddCell(Coord{X: x})
	}
	f.DebugSetCell(Coord{X: 1}, mustTile(t, cat, "M"))
	f.DebugPropagate()
	want := f.DebugDigest()

	// Re-queue everything; a second pass must change nothing.
	for _, pos := range f.DebugCoords() {
		c, _ := f.DebugCellAt(pos)
		if c.Collapsed {
			f.DebugSetCell(pos, c.Tile)
		} else {
			f.DebugSetValid(pos, c.Valid)
		}
	}
	f.DebugPropagate()
	if got := f.DebugDigest(); got != want {
		t.Fatalf("re-propagation changed state: %s -> %s", want, got)
	}
}

func TestContradictionForcesFallback(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 1, nil)

	pos := Coord{X: 0}
	f.DebugAddCell(pos)
	f.DebugSetValid(pos, 0)
	f.DebugPropagate()

	c, _ := f.DebugCellAt(pos)
	if !c.Collapsed || !c.Forced {
		t.Fatalf("contradicted cell not force-collapsed: %+v", c)
	}
	if c.Tile != mustTile(t, cat, "A") {
		t.Fatalf("forced tile = %s, want fallback A", cat.TileID(c.Tile))
	}
	if c.Entropy != 0 {
		t.Fatalf("forced cell entropy = %d, want 0", c.Entropy)
	}
	if got := f.DebugContradictions(); got != 1 {
		t.Fatalf("contradictions = %d, want 1", got)
	}
}

func TestForcedFallbackConstrainsNeighborsSamePass(t *testing.T) {
	// Fallback M admits only B, so the forced collapse must prune the
	// neighbor before the pass ends.
	cat := stripCatalog(t, "M")
	f := newTestField(t, cat, 1, nil)

	f.DebugAddCell(Coord{X: 0})
	f.DebugAddCell(Coord{X: 1})
	f.DebugSetValid(Coord{X: 0}, 0)
	f.DebugPropagate()

	n, _ := f.DebugCellAt(Coord{X: 1})
	if n.Valid != rules.NewTileSet(mustTile(t, cat, "B")) {
		t.Fatalf("neighbor valid=%v, want only B", n.Valid.Tiles())
	}
}

func TestCollapseWaitsForQueueDrain(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 1, nil)

	f.DebugAddCell(Coord{X: 0})
	f.DebugSetCell(Coord{X: 1}, mustTile(t, cat, "M")) // queue now non-empty

	var rec tickRecord
	f.collapseStep(&rec)
	if len(rec.Collapses) != 0 {
		t.Fatalf("collapsed with a non-empty queue")
	}

	f.DebugPropagate()
	f.collapseStep(&rec)
	if len(rec.Collapses) != 1 {
		t.Fatalf("no collapse after queue drained")
	}
}

func TestCollapsePicksMinEntropy(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 7, nil)

	wide := Coord{X: 10}
	narrow := Coord{X: 20}
	f.DebugAddCell(wide)
	f.DebugAddCell(narrow)
	b := mustTile(t, cat, "B")
	m := mustTile(t, cat, "M")
	// narrow has 2 candidates, wide keeps all 3.
	c := f.cells[narrow]
	c.Valid = rules.NewTileSet(b, m)
	c.Entropy = 2

	var rec tickRecord
	f.collapseStep(&rec)
	if len(rec.Collapses) != 1 || rec.Collapses[0].Pos != narrow {
		t.Fatalf("collapse records = %+v, want the low-entropy cell at %v", rec.Collapses, narrow)
	}
	got, _ := f.DebugCellAt(narrow)
	if !got.Collapsed || got.Forced {
		t.Fatalf("low-entropy cell not drawn: %+v", got)
	}
}

func TestCollapsedCellsKeepSingletonValid(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 3, nil)

	f.DebugAddCell(Coord{})
	var rec tickRecord
	f.collapseStep(&rec)

	c, _ := f.DebugCellAt(Coord{})
	if !c.Collapsed {
		t.Fatalf("single cell did not collapse")
	}
	if c.Valid != rules.NewTileSet(c.Tile) || c.Entropy != 0 {
		t.Fatalf("collapsed cell invariant broken: valid=%v entropy=%d", c.Valid.Tiles(), c.Entropy)
	}
}

func TestWeightedDrawBias(t *testing.T) {
	cat := stripCatalog(t, "A")
	f := newTestField(t, cat, 99, nil)

	a := mustTile(t, cat, "A")
	b := mustTile(t, cat, "B")
	set := rules.NewTileSet(a, b) // weights 3 and 1

	const n = 20000
	hits := 0
	for i := 0; i < n; i++ {
		if f.drawTile(set) == a {
			hits++
		}
	}
	ratio := float64(hits) / n
	if ratio < 0.72 || ratio > 0.78 {
		t.Fatalf("tile A drawn %.3f of the time, want about 0.75", ratio)
	}
}

func TestDrawSequenceDeterministic(t *testing.T) {
	cat := stripCatalog(t, "A")
	f1 := newTestField(t, cat, 42, nil)
	f2 := newTestField(t, cat, 42, nil)

	for i := 0; i < 100; i++ {
		if f1.rng() != f2.rng() {
			t.Fatalf("rng diverged at draw %d", i)
		}
	}

	f3 := newTestField(t, cat, 43, nil)
	same := 0
	for i := 0; i < 100; i++ {
		if f1.rng() == f3.rng() {
			same++
		}
	}
	if same == 100 {
		t.Fatalf("different seeds produced identical sequences")
	}
}
