package field

import (
	"math"

	"tileweave.ai/internal/gen/rules"
)

// Coord addresses a cell on the generation grid. World position is
// Coord * cell_edge_length on the XZ plane.
type Coord struct {
	X int
	Z int
}

func (c Coord) Offset(d rules.Direction) Coord {
	dx, dz := d.Delta()
	return Coord{X: c.X + dx, Z: c.Z + dz}
}

// Less orders coordinates row-major; used wherever iteration order must be
// reproducible.
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Z < o.Z
}

type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3) Dist(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Cell is one superposed grid slot. Until collapse, Valid holds every tile
// the cell could still become and Entropy mirrors its cardinality. After
// collapse Tile is final, Entropy is zero and Valid is the singleton of Tile.
type Cell struct {
	Pos       Coord
	Collapsed bool
	Tile      rules.Tile
	Valid     rules.TileSet
	Entropy   int
	Forced    bool // collapsed by contradiction recovery, not a draw
}

func newCell(pos Coord, all rules.TileSet) *Cell {
	return &Cell{Pos: pos, Valid: all, Entropy: all.Count()}
}

func (c *Cell) contradicted() bool {
	return !c.Collapsed && c.Valid.Empty()
}
