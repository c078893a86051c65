package field

import "tileweave.ai/internal/gen/rules"

// propagate drains the constraint queue. Each coordinate is processed at most
// once per pass; re-enqueues of an already seen coordinate are dropped, which
// bounds the pass at O(live cells). The one exception is a forced collapse,
// which clears its own guard entry so its constraints go out on the same
// pass. A cell is forced at most once, so this cannot loop.
//
// Constraints flow outward from collapsed cells only. A collapsed cell prunes
// its superposed neighbors through its own rule rows; a superposed cell
// recomputes its candidates from its collapsed neighbors' rows, read through
// the opposite direction so both sides consult the same authored rule.
func (f *Field) propagate(rec *tickRecord) {
	if len(f.queue) == 0 {
		return
	}
	seen := make(map[Coord]struct{}, len(f.queue))
	for len(f.queue) > 0 {
		pos := f.queue[0]
		f.queue = f.queue[1:]
		if _, done := seen[pos]; done {
			continue
		}
		seen[pos] = struct{}{}

		c := f.cells[pos]
		if c == nil {
			continue // destroyed while queued
		}
		if c.contradicted() {
			f.forceFallback(c, rec, seen)
			continue
		}
		if c.Collapsed {
			f.constrainNeighbors(c, rec, seen)
		} else {
			f.reconstrain(c, rec, seen)
		}
	}
}

// constrainNeighbors prunes every superposed neighbor of a collapsed cell
// down to what the collapsed tile admits in that direction.
func (f *Field) constrainNeighbors(c *Cell, rec *tickRecord, seen map[Coord]struct{}) {
	for _, d := range f.rs.Directions() {
		n := f.cells[c.Pos.Offset(d)]
		if n == nil || n.Collapsed {
			continue
		}
		next := n.Valid.Intersect(f.rs.Allowed(c.Tile, d))
		if next == n.Valid {
			continue
		}
		n.Valid = next
		n.Entropy = next.Count()
		if next.Empty() {
			f.forceFallback(n, rec, seen)
			continue
		}
		f.queue = append(f.queue, n.Pos)
	}
}

// reconstrain rebuilds a superposed cell's candidate set from all collapsed
// neighbors. Superposed neighbors contribute nothing, so a shrink here never
// needs to ripple further.
func (f *Field) reconstrain(c *Cell, rec *tickRecord, seen map[Coord]struct{}) {
	next := c.Valid
	for _, d := range f.rs.Directions() {
		n := f.cells[c.Pos.Offset(d)]
		if n == nil || !n.Collapsed {
			continue
		}
		next = next.Intersect(f.rs.Allowed(n.Tile, d.Opposite()))
	}
	if next == c.Valid {
		return
	}
	c.Valid = next
	c.Entropy = next.Count()
	if next.Empty() {
		f.forceFallback(c, rec, seen)
	}
}

// forceFallback resolves a contradicted cell by collapsing it to the
// catalog's fallback tile, then re-queues it so its neighbors are constrained
// against the forced tile before the pass ends.
func (f *Field) forceFallback(c *Cell, rec *tickRecord, seen map[Coord]struct{}) {
	fb := f.rs.Fallback()
	c.Tile = fb
	c.Collapsed = true
	c.Forced = true
	c.Entropy = 0
	c.Valid = rules.NewTileSet(fb)
	f.contradictions++
	rec.Contradictions++
	rec.Collapses = append(rec.Collapses, collapseRecord{Pos: c.Pos, Tile: fb, Forced: true})
	delete(seen, c.Pos)
	f.queue = append(f.queue, c.Pos)
}
