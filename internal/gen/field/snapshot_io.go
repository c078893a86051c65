package field

import (
	"fmt"
	"sort"

	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/persistence/snapshot"
)

// ExportSnapshot copies the whole field into a snapshot value. Cells are
// emitted in coordinate order so equal fields export byte-equal snapshots.
func (f *Field) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: 1,
			FieldID: f.cfg.ID,
			Tick:    nowTick,
		},
		Seed:              f.cfg.Seed,
		TickRateHz:        f.cfg.Tune.TickRateHz,
		CellEdgeLength:    f.cfg.Tune.CellEdgeLength,
		CellsOnEdge:       f.cfg.Tune.CellsOnEdge,
		DespawnMultiplier: f.cfg.Tune.DespawnMultiplier,
		RulesetID:         f.rs.ID(),
		RulesetDigest:     f.rs.Digest(),
		Counters: snapshot.CountersV1{
			Draws:          f.draws,
			Contradictions: f.contradictions,
			NextObserver:   f.nextObserverNum.Load(),
		},
	}

	coords := make([]Coord, 0, len(f.cells))
	for pos := range f.cells {
		coords = append(coords, pos)
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })

	snap.Cells = make([]snapshot.CellV1, 0, len(coords))
	for _, pos := range coords {
		c := f.cells[pos]
		cv := snapshot.CellV1{X: pos.X, Z: pos.Z, Collapsed: c.Collapsed}
		if c.Collapsed {
			cv.Tile = f.tileID(c.Tile)
		} else {
			for _, t := range c.Valid.Tiles() {
				cv.Valid = append(cv.Valid, f.tileID(t))
			}
		}
		snap.Cells = append(snap.Cells, cv)
	}
	return snap
}

// ImportSnapshot replaces the in-memory field state with the snapshot. Tile
// ids are resolved against the live catalog, so a snapshot taken under a
// different palette fails instead of silently remapping tiles. Connected
// observers are dropped; clients re-join after a restore.
func (f *Field) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != 1 {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.RulesetID != f.rs.ID() {
		return fmt.Errorf("snapshot ruleset %q, field runs %q", s.RulesetID, f.rs.ID())
	}

	byID, ok := f.rs.(interface {
		TileByID(string) (rules.Tile, bool)
	})
	if !ok {
		return fmt.Errorf("ruleset %q cannot resolve tile ids", f.rs.ID())
	}

	cells := make(map[Coord]*Cell, len(s.Cells))
	for _, cv := range s.Cells {
		pos := Coord{X: cv.X, Z: cv.Z}
		c := &Cell{Pos: pos}
		if cv.Collapsed {
			t, ok := byID.TileByID(cv.Tile)
			if !ok {
				return fmt.Errorf("snapshot cell (%d,%d): unknown tile %q", cv.X, cv.Z, cv.Tile)
			}
			c.Collapsed = true
			c.Tile = t
			c.Valid = rules.NewTileSet(t)
		} else {
			for _, id := range cv.Valid {
				t, ok := byID.TileByID(id)
				if !ok {
					return fmt.Errorf("snapshot cell (%d,%d): unknown tile %q", cv.X, cv.Z, id)
				}
				c.Valid = c.Valid.Add(t)
			}
			c.Entropy = c.Valid.Count()
		}
		cells[pos] = c
	}

	f.cells = cells
	f.queue = f.queue[:0]
	f.observers = map[string]*observerState{}
	f.draws = s.Counters.Draws
	f.contradictions = s.Counters.Contradictions
	f.nextObserverNum.Store(s.Counters.NextObserver)
	f.tick.Store(s.Header.Tick)
	f.nextCreateAt = 0
	f.nextDestroyAt = 0
	return nil
}
