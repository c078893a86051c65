package fieldtest

import (
	"testing"

	"tileweave.ai/internal/gen/field"
	"tileweave.ai/internal/gen/rules"
)

func openSpace(t *testing.T) *rules.Catalog {
	t.Helper()
	cat, err := rules.Default("open_space")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func TestStreamingCreatesViewSquare(t *testing.T) {
	h := NewHarness(t, field.Config{ID: "test", Seed: 1, Tune: DefaultTuning()}, openSpace(t), "walker")

	// cells_on_edge=3: a 3x3 square centered on the observer at the origin.
	if got := h.F.DebugCellCount(); got != 9 {
		t.Fatalf("cells after join = %d, want 9", got)
	}
	for x := -1; x <= 1; x++ {
		for z := -1; z <= 1; z++ {
			if _, ok := h.F.DebugCellAt(field.Coord{X: x, Z: z}); !ok {
				t.Fatalf("missing cell (%d,%d)", x, z)
			}
		}
	}
}

func TestStreamingFringeFollowsObserver(t *testing.T) {
	h := NewHarness(t, field.Config{ID: "test", Seed: 1, Tune: DefaultTuning()}, openSpace(t), "walker")

	// Two cell edges along +x: the square is now x in [1,3].
	h.Pose(18, 0, 0)

	for _, x := range []int{2, 3} {
		for z := -1; z <= 1; z++ {
			if _, ok := h.F.DebugCellAt(field.Coord{X: x, Z: z}); !ok {
				t.Fatalf("fringe cell (%d,%d) not created", x, z)
			}
		}
	}
	// The trailing column is beyond the despawn radius (18.9 world units).
	for z := -1; z <= 1; z++ {
		if _, ok := h.F.DebugCellAt(field.Coord{X: -1, Z: z}); ok {
			t.Fatalf("trailing cell (-1,%d) not despawned", z)
		}
	}
}

func TestStreamingDespawnOnTeleport(t *testing.T) {
	h := NewHarness(t, field.Config{ID: "test", Seed: 1, Tune: DefaultTuning()}, openSpace(t), "walker")

	h.Pose(9000, 0, 9000)

	for x := -1; x <= 1; x++ {
		for z := -1; z <= 1; z++ {
			if _, ok := h.F.DebugCellAt(field.Coord{X: x, Z: z}); ok {
				t.Fatalf("origin cell (%d,%d) survived a teleport", x, z)
			}
		}
	}
	gx, gz := 1000, 1000
	if _, ok := h.F.DebugCellAt(field.Coord{X: gx, Z: gz}); !ok {
		t.Fatalf("no cell at the new center (%d,%d)", gx, gz)
	}
}

func TestStreamingIdlesWithoutObservers(t *testing.T) {
	cat := openSpace(t)
	f, err := field.New(field.Config{ID: "test", Seed: 1, Tune: DefaultTuning()}, cat)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	for i := 0; i < 20; i++ {
		_, _ = f.StepOnce(nil, nil, nil)
	}
	if got := f.DebugCellCount(); got != 0 {
		t.Fatalf("cells with no observers = %d, want 0", got)
	}
}

func TestStreamingHonorsMaxCells(t *testing.T) {
	tn := DefaultTuning()
	tn.MaxCells = 5
	h := NewHarness(t, field.Config{ID: "test", Seed: 1, Tune: tn}, openSpace(t), "walker")
	h.Step(10)

	if got := h.F.DebugCellCount(); got > 5 {
		t.Fatalf("cells = %d, exceeds max_cells=5", got)
	}
}

func TestObsReportsFieldCounters(t *testing.T) {
	h := NewHarness(t, field.Config{ID: "test", Seed: 1, Tune: DefaultTuning()}, openSpace(t), "walker")
	h.Step(30)
	h.Pose(0, 0, 0)

	obs := h.LastObs()
	if obs.ObserverID != h.DefaultObserverID {
		t.Fatalf("obs observer id = %q", obs.ObserverID)
	}
	if obs.Field.CellsLive != h.F.DebugCellCount() {
		t.Fatalf("obs cells_live=%d, field has %d", obs.Field.CellsLive, h.F.DebugCellCount())
	}
	if obs.Field.CellsCollapsed == 0 {
		t.Fatalf("nothing collapsed after 30 ticks")
	}
	if obs.Digest == "" {
		t.Fatalf("obs missing digest")
	}
}
