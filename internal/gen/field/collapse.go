package field

import (
	"sort"

	"tileweave.ai/internal/gen/rules"
)

// collapseStep resolves at most one cell per tick: the superposed cell with
// the fewest remaining candidates, ties broken by a seeded draw over the
// coordinate-sorted candidates. By default nothing collapses while the
// propagation queue still holds work, so every draw happens against fully
// settled constraints; collapse_every_tick trades that away for throughput.
func (f *Field) collapseStep(rec *tickRecord) {
	if !f.cfg.Tune.CollapseEveryTick && len(f.queue) > 0 {
		return
	}

	minEntropy := 0
	var cands []*Cell
	for _, c := range f.cells {
		if c.Collapsed || c.Valid.Empty() {
			continue
		}
		switch {
		case len(cands) == 0 || c.Entropy < minEntropy:
			minEntropy = c.Entropy
			cands = cands[:0]
			cands = append(cands, c)
		case c.Entropy == minEntropy:
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Pos.Less(cands[j].Pos) })

	c := cands[f.rng()%uint64(len(cands))]
	tile := f.drawTile(c.Valid)

	c.Tile = tile
	c.Collapsed = true
	c.Entropy = 0
	c.Valid = rules.NewTileSet(tile)
	rec.Collapses = append(rec.Collapses, collapseRecord{Pos: c.Pos, Tile: tile})
	f.queue = append(f.queue, c.Pos)
}

// drawTile picks one tile from set, weighted by the catalog. Iteration is in
// ascending palette order so equal inputs always walk the same sequence.
func (f *Field) drawTile(set rules.TileSet) rules.Tile {
	tiles := set.Tiles()
	if len(tiles) == 1 {
		return tiles[0]
	}
	total := 0.0
	for _, t := range tiles {
		total += f.rs.Weight(t)
	}
	r := f.rngFloat() * total
	for _, t := range tiles {
		w := f.rs.Weight(t)
		if r <= w {
			return t
		}
		r -= w
	}
	return tiles[len(tiles)-1]
}

// rng is a counter-mode hash generator: no shared global state, and a
// snapshot of (seed, draws) resumes the exact sequence.
func (f *Field) rng() uint64 {
	f.draws++
	return mix64(uint64(f.cfg.Seed) ^ mix64(f.draws*0x9e3779b97f4a7c15))
}

// rngFloat returns a uniform draw in [0, 1).
func (f *Field) rngFloat() float64 {
	return float64(f.rng()>>11) / (1 << 53)
}

// mix64 is the splitmix64 finalizer.
func mix64(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}
