package rules

import (
	"encoding/json"
	"fmt"
)

// Tile ids shared by the built-in catalogs.
const (
	TileGround = "GROUND"
	TileTree   = "TREE"
	TileChest  = "CHEST"

	TileFountainCenter  = "FOUNTAIN_CENTER"
	TileFountainCorner1 = "FOUNTAIN_CORNER_1" // outward faces +z and -x
	TileFountainCorner2 = "FOUNTAIN_CORNER_2" // outward faces +z and +x
	TileFountainCorner3 = "FOUNTAIN_CORNER_3" // outward faces -z and -x
	TileFountainCorner4 = "FOUNTAIN_CORNER_4" // outward faces -z and +x
	TileFountainEdge1   = "FOUNTAIN_EDGE_1"   // outward face +z
	TileFountainEdge2   = "FOUNTAIN_EDGE_2"   // outward face +x
	TileFountainEdge3   = "FOUNTAIN_EDGE_3"   // outward face -x
	TileFountainEdge4   = "FOUNTAIN_EDGE_4"   // outward face -z
)

// Default returns a built-in catalog so the engine can run without a config
// dir. The digest covers the canonical JSON form, so a configs/rulesets file
// with different content is distinguishable from the default.
func Default(id string) (*Catalog, error) {
	var def catalogFile
	switch id {
	case "open_space":
		def = openSpaceDef()
	case "building":
		def = sparseDef("building")
	case "dungeon":
		def = sparseDef("dungeon")
	default:
		return nil, fmt.Errorf("no built-in catalog %q", id)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	return build(def, sha256Hex(raw))
}

// sparseDef is the shape the building and dungeon catalogs currently have:
// the basic tiles with no adjacency constraints authored yet.
func sparseDef(id string) catalogFile {
	return catalogFile{
		ID:       id,
		Fallback: TileGround,
		Tiles: []tileDef{
			{ID: TileGround, Model: "models/ground"},
			{ID: TileTree, Model: "models/tree"},
			{ID: TileChest, Model: "models/chest"},
		},
	}
}

func openSpaceDef() catalogFile {
	def := catalogFile{
		ID:       "open_space",
		Fallback: TileGround,
		Tiles: []tileDef{
			{ID: TileGround, Weight: 0.3, Model: "models/ground"},
			{ID: TileTree, Weight: 0.2, Model: "models/tree"},
			{ID: TileChest, Weight: 0.1, Model: "models/chest"},
			{ID: TileFountainCenter, Weight: 0.5, Model: "models/fountain_center"},
			{ID: TileFountainCorner1, Weight: 0.34567, Model: "models/fountain_corner", Rotation: 0},
			{ID: TileFountainCorner2, Weight: 0.3456, Model: "models/fountain_corner", Rotation: 1},
			{ID: TileFountainCorner3, Weight: 0.345, Model: "models/fountain_corner", Rotation: 3},
			{ID: TileFountainCorner4, Weight: 0.34, Model: "models/fountain_corner", Rotation: 2},
			{ID: TileFountainEdge1, Weight: 0.339, Model: "models/fountain_edge", Rotation: 0},
			{ID: TileFountainEdge2, Weight: 0.338, Model: "models/fountain_edge", Rotation: 1},
			{ID: TileFountainEdge3, Weight: 0.337, Model: "models/fountain_edge", Rotation: 3},
			{ID: TileFountainEdge4, Weight: 0.336, Model: "models/fountain_edge", Rotation: 2},
		},
	}

	add := func(tile, dir string, allow ...string) {
		def.Adjacency = append(def.Adjacency, adjacencyDef{Tile: tile, Dir: dir, Allow: allow})
	}
	addAll := func(tile string, allow ...string) {
		for _, dir := range []string{"+x", "-x", "+z", "-z"} {
			add(tile, dir, allow...)
		}
	}

	// Open terrain: ground carries everything; a fountain piece may only
	// appear on the side of ground that its outward face points back at.
	add(TileGround, "+z", TileGround, TileTree, TileChest, TileFountainCorner3, TileFountainCorner4, TileFountainEdge4)
	add(TileGround, "-z", TileGround, TileTree, TileChest, TileFountainCorner1, TileFountainCorner2, TileFountainEdge1)
	add(TileGround, "+x", TileGround, TileTree, TileChest, TileFountainCorner1, TileFountainCorner3, TileFountainEdge3)
	add(TileGround, "-x", TileGround, TileTree, TileChest, TileFountainCorner2, TileFountainCorner4, TileFountainEdge2)

	addAll(TileTree, TileGround, TileTree, TileChest)
	addAll(TileChest, TileGround, TileTree, TileChest)

	// Fountain center expands into itself or terminates in the facing edge.
	add(TileFountainCenter, "+z", TileFountainEdge1, TileFountainCenter)
	add(TileFountainCenter, "-z", TileFountainEdge4, TileFountainCenter)
	add(TileFountainCenter, "+x", TileFountainEdge2, TileFountainCenter)
	add(TileFountainCenter, "-x", TileFountainEdge3, TileFountainCenter)

	// Corners: two outward faces to ground, two inward faces continuing the rim.
	add(TileFountainCorner1, "+z", TileGround)
	add(TileFountainCorner1, "-z", TileFountainEdge3, TileFountainCorner3)
	add(TileFountainCorner1, "+x", TileFountainEdge1, TileFountainCorner2)
	add(TileFountainCorner1, "-x", TileGround)

	add(TileFountainCorner2, "+z", TileGround)
	add(TileFountainCorner2, "-z", TileFountainEdge2, TileFountainCorner4)
	add(TileFountainCorner2, "+x", TileGround)
	add(TileFountainCorner2, "-x", TileFountainEdge1, TileFountainCorner1)

	add(TileFountainCorner3, "+z", TileFountainEdge3, TileFountainCorner1)
	add(TileFountainCorner3, "-z", TileGround)
	add(TileFountainCorner3, "+x", TileFountainEdge4, TileFountainCorner4)
	add(TileFountainCorner3, "-x", TileGround)

	add(TileFountainCorner4, "+z", TileFountainEdge2, TileFountainCorner2)
	add(TileFountainCorner4, "-z", TileGround)
	add(TileFountainCorner4, "+x", TileGround)
	add(TileFountainCorner4, "-x", TileFountainEdge4, TileFountainCorner3)

	// Edges: outward face to ground, inward face to the center or the
	// opposite edge, sideways faces extend the rim.
	add(TileFountainEdge1, "+z", TileGround)
	add(TileFountainEdge1, "-z", TileFountainCenter, TileFountainEdge4)
	add(TileFountainEdge1, "+x", TileFountainEdge1, TileFountainCorner2)
	add(TileFountainEdge1, "-x", TileFountainEdge1, TileFountainCorner1)

	add(TileFountainEdge2, "+z", TileFountainEdge2, TileFountainCorner2)
	add(TileFountainEdge2, "-z", TileFountainEdge2, TileFountainCorner4)
	add(TileFountainEdge2, "+x", TileGround)
	add(TileFountainEdge2, "-x", TileFountainCenter, TileFountainEdge3)

	add(TileFountainEdge3, "+z", TileFountainEdge3, TileFountainCorner1)
	add(TileFountainEdge3, "-z", TileFountainEdge3, TileFountainCorner3)
	add(TileFountainEdge3, "+x", TileFountainCenter, TileFountainEdge2)
	add(TileFountainEdge3, "-x", TileGround)

	add(TileFountainEdge4, "+z", TileFountainCenter, TileFountainEdge1)
	add(TileFountainEdge4, "-z", TileGround)
	add(TileFountainEdge4, "+x", TileFountainEdge4, TileFountainCorner4)
	add(TileFountainEdge4, "-x", TileFountainEdge4, TileFountainCorner3)

	return def
}
