package rules

import (
	"fmt"
	"math/bits"
	"sort"
)

// Tile is an index into a catalog's palette. Catalogs are capped at 64 tiles
// so candidate sets fit in a TileSet.
type Tile uint8

// TileSet is a bitmask of palette indices.
type TileSet uint64

func NewTileSet(tiles ...Tile) TileSet {
	var s TileSet
	for _, t := range tiles {
		s = s.Add(t)
	}
	return s
}

func (s TileSet) Has(t Tile) bool        { return s&(1<<t) != 0 }
func (s TileSet) Add(t Tile) TileSet     { return s | 1<<t }
func (s TileSet) Remove(t Tile) TileSet  { return s &^ (1 << t) }
func (s TileSet) Intersect(o TileSet) TileSet { return s & o }
func (s TileSet) Count() int             { return bits.OnesCount64(uint64(s)) }
func (s TileSet) Empty() bool            { return s == 0 }

// Tiles returns the member tiles in ascending palette order.
func (s TileSet) Tiles() []Tile {
	out := make([]Tile, 0, s.Count())
	for v := uint64(s); v != 0; v &= v - 1 {
		out = append(out, Tile(bits.TrailingZeros64(v)))
	}
	return out
}

// Direction is a neighbor offset on the grid. The four axis directions are
// always defined; the diagonals exist for catalogs that opt into 8-neighbor
// adjacency.
type Direction uint8

const (
	PosX Direction = iota // +X
	NegX                  // -X
	PosZ                  // +Z
	NegZ                  // -Z
	PosXPosZ
	PosXNegZ
	NegXPosZ
	NegXNegZ

	numDirections
)

// Cardinal is the 4-neighbor direction set used by most catalogs.
var Cardinal = []Direction{PosX, NegX, PosZ, NegZ}

// Compass is the 8-neighbor direction set.
var Compass = []Direction{PosX, NegX, PosZ, NegZ, PosXPosZ, PosXNegZ, NegXPosZ, NegXNegZ}

var directionDeltas = [numDirections][2]int{
	PosX:     {1, 0},
	NegX:     {-1, 0},
	PosZ:     {0, 1},
	NegZ:     {0, -1},
	PosXPosZ: {1, 1},
	PosXNegZ: {1, -1},
	NegXPosZ: {-1, 1},
	NegXNegZ: {-1, -1},
}

var directionNames = [numDirections]string{
	PosX:     "+x",
	NegX:     "-x",
	PosZ:     "+z",
	NegZ:     "-z",
	PosXPosZ: "+x+z",
	PosXNegZ: "+x-z",
	NegXPosZ: "-x+z",
	NegXNegZ: "-x-z",
}

func (d Direction) Delta() (dx, dz int) {
	v := directionDeltas[d]
	return v[0], v[1]
}

func (d Direction) Opposite() Direction {
	switch d {
	case PosX:
		return NegX
	case NegX:
		return PosX
	case PosZ:
		return NegZ
	case NegZ:
		return PosZ
	case PosXPosZ:
		return NegXNegZ
	case PosXNegZ:
		return NegXPosZ
	case NegXPosZ:
		return PosXNegZ
	default:
		return PosXPosZ
	}
}

func (d Direction) String() string { return directionNames[d] }

func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if name == s {
			return Direction(d), nil
		}
	}
	return 0, fmt.Errorf("unknown direction: %q", s)
}

// Ruleset is the read-only adjacency/weight catalog consulted by the field.
// Implementations are immutable after load and safe to share.
type Ruleset interface {
	// ID names the catalog (e.g. "open_space").
	ID() string
	// Palette lists tile ids in palette order.
	Palette() []string
	// All is the full candidate set a fresh cell starts with.
	All() TileSet
	// Allowed reports which tiles may occupy the cell at dir from a cell
	// holding t. Callers constraining a cell C from a collapsed neighbor N
	// must pass the direction from N toward C.
	Allowed(t Tile, dir Direction) TileSet
	// Weight is the relative spawn probability of t. Tiles without an
	// authored weight report 1.0.
	Weight(t Tile) float64
	// Fallback is the tile forced onto contradicted cells.
	Fallback() Tile
	// Directions is the neighbor set this catalog was authored against.
	Directions() []Direction
	// Digest is a sha256 hex over the catalog source.
	Digest() string
}

// Catalog is the concrete Ruleset used by both the built-in defaults and
// JSON-loaded rule files.
type Catalog struct {
	id       string
	palette  []string
	index    map[string]Tile
	weights  []float64
	allowed  [][numDirections]TileSet
	all      TileSet
	fallback Tile
	dirs     []Direction
	digest   string
	display  []DisplayDef
}

// DisplayDef is per-tile presentation metadata passed through to clients.
// The generation core never reads it.
type DisplayDef struct {
	Model    string `json:"model,omitempty"`
	Rotation int    `json:"rotation,omitempty"` // quarter turns around +Y
}

func (c *Catalog) ID() string        { return c.id }
func (c *Catalog) Palette() []string { return append([]string(nil), c.palette...) }
func (c *Catalog) All() TileSet      { return c.all }
func (c *Catalog) Fallback() Tile    { return c.fallback }
func (c *Catalog) Digest() string    { return c.digest }

func (c *Catalog) Directions() []Direction { return c.dirs }

func (c *Catalog) Allowed(t Tile, dir Direction) TileSet {
	if int(t) >= len(c.allowed) {
		return 0
	}
	return c.allowed[t][dir]
}

func (c *Catalog) Weight(t Tile) float64 {
	if int(t) >= len(c.weights) || c.weights[t] <= 0 {
		return 1.0
	}
	return c.weights[t]
}

// TileID resolves a palette index to its id, or "" when out of range.
func (c *Catalog) TileID(t Tile) string {
	if int(t) >= len(c.palette) {
		return ""
	}
	return c.palette[t]
}

// TileByID resolves an id to its palette index.
func (c *Catalog) TileByID(id string) (Tile, bool) {
	t, ok := c.index[id]
	return t, ok
}

// Display returns the presentation metadata for t.
func (c *Catalog) Display(t Tile) DisplayDef {
	if int(t) >= len(c.display) {
		return DisplayDef{}
	}
	return c.display[t]
}

// Inconsistency is a directed adjacency pair missing its mirror: a admits b
// at dir but b does not admit a at the opposite direction. The propagation
// engine only ever consults the collapsed side's table, so inconsistencies
// are not fatal, but they usually indicate an authoring mistake.
type Inconsistency struct {
	A, B Tile
	Dir  Direction
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("tile %d admits %d at %s without the mirror rule", i.A, i.B, i.Dir)
}

// CheckConsistency reports every adjacency pair that is not symmetric under
// direction reversal, sorted for stable output.
func (c *Catalog) CheckConsistency() []Inconsistency {
	var out []Inconsistency
	for a := Tile(0); int(a) < len(c.palette); a++ {
		for _, d := range c.dirs {
			for _, b := range c.allowed[a][d].Tiles() {
				if !c.allowed[b][d.Opposite()].Has(a) {
					out = append(out, Inconsistency{A: a, B: b, Dir: d})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		if out[i].B != out[j].B {
			return out[i].B < out[j].B
		}
		return out[i].Dir < out[j].Dir
	})
	return out
}
