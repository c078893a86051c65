package field

import (
	"sort"

	"tileweave.ai/internal/gen/rules"
)

// Debug accessors for tests and replay tooling. They read loop-owned state
// directly, so callers must drive the field with StepOnce rather than Run.

// DebugCellAt returns a copy of the cell at pos.
func (f *Field) DebugCellAt(pos Coord) (Cell, bool) {
	c := f.cells[pos]
	if c == nil {
		return Cell{}, false
	}
	return *c, true
}

// DebugCoords lists live cell coordinates in sorted order.
func (f *Field) DebugCoords() []Coord {
	out := make([]Coord, 0, len(f.cells))
	for pos := range f.cells {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (f *Field) DebugCellCount() int  { return len(f.cells) }
func (f *Field) DebugQueueDepth() int { return len(f.queue) }

func (f *Field) DebugContradictions() uint64 { return f.contradictions }

// DebugSetCell force-places a collapsed tile, creating the cell if needed,
// and enqueues it so the next pass propagates its constraints.
func (f *Field) DebugSetCell(pos Coord, tile rules.Tile) {
	c := f.cells[pos]
	if c == nil {
		c = newCell(pos, f.rs.All())
		f.cells[pos] = c
	}
	c.Collapsed = true
	c.Tile = tile
	c.Entropy = 0
	c.Valid = rules.NewTileSet(tile)
	f.queue = append(f.queue, pos)
}

// DebugSetValid overwrites a superposed cell's candidate set and enqueues it.
func (f *Field) DebugSetValid(pos Coord, set rules.TileSet) {
	c := f.cells[pos]
	if c == nil {
		c = newCell(pos, f.rs.All())
		f.cells[pos] = c
	}
	c.Collapsed = false
	c.Valid = set
	c.Entropy = set.Count()
	f.queue = append(f.queue, pos)
}

// DebugAddCell creates a fresh superposed cell without any observer driving
// the streaming policy.
func (f *Field) DebugAddCell(pos Coord) {
	if _, ok := f.cells[pos]; ok {
		return
	}
	c := newCell(pos, f.rs.All())
	f.cells[pos] = c
	f.seedPropagation(c)
}

// DebugPropagate runs one full propagation pass outside the tick loop.
func (f *Field) DebugPropagate() {
	var rec tickRecord
	f.propagate(&rec)
}

// DebugDigest exposes the state digest for parity checks.
func (f *Field) DebugDigest() string { return f.stateDigest() }
