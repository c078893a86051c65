package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// catalogFile is the on-disk shape of configs/rulesets/<id>.json.
type catalogFile struct {
	ID         string         `json:"id"`
	Directions string         `json:"directions,omitempty"` // "cardinal" (default) or "compass"
	Fallback   string         `json:"fallback"`
	Tiles      []tileDef      `json:"tiles"`
	Adjacency  []adjacencyDef `json:"adjacency"`
}

type tileDef struct {
	ID       string  `json:"id"`
	Weight   float64 `json:"weight,omitempty"`
	Model    string  `json:"model,omitempty"`
	Rotation int     `json:"rotation,omitempty"`
}

type adjacencyDef struct {
	Tile  string   `json:"tile"`
	Dir   string   `json:"dir"`
	Allow []string `json:"allow"`
}

// Load reads one rule catalog from a JSON file. The digest covers the raw
// file bytes so clients can detect catalog drift across restarts.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def catalogFile
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c, err := build(def, sha256Hex(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// LoadOrDefault prefers configs/rulesets/<id>.json under configDir and falls
// back to the built-in catalog of the same id when the file is absent.
func LoadOrDefault(configDir, id string) (*Catalog, error) {
	path := filepath.Join(configDir, "rulesets", id+".json")
	c, err := Load(path)
	if err == nil {
		return c, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return Default(id)
}

func build(def catalogFile, digest string) (*Catalog, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("missing catalog id")
	}
	if len(def.Tiles) == 0 {
		return nil, fmt.Errorf("catalog %s: no tiles", def.ID)
	}
	if len(def.Tiles) > 64 {
		return nil, fmt.Errorf("catalog %s: %d tiles exceeds the 64-tile cap", def.ID, len(def.Tiles))
	}

	dirs := Cardinal
	switch def.Directions {
	case "", "cardinal":
	case "compass":
		dirs = Compass
	default:
		return nil, fmt.Errorf("catalog %s: unknown directions %q", def.ID, def.Directions)
	}

	c := &Catalog{
		id:      def.ID,
		palette: make([]string, 0, len(def.Tiles)),
		index:   make(map[string]Tile, len(def.Tiles)),
		weights: make([]float64, len(def.Tiles)),
		allowed: make([][numDirections]TileSet, len(def.Tiles)),
		dirs:    dirs,
		digest:  digest,
		display: make([]DisplayDef, len(def.Tiles)),
	}

	for i, td := range def.Tiles {
		if td.ID == "" {
			return nil, fmt.Errorf("catalog %s: tile %d has empty id", def.ID, i)
		}
		if _, dup := c.index[td.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate tile id %s", def.ID, td.ID)
		}
		t := Tile(i)
		c.palette = append(c.palette, td.ID)
		c.index[td.ID] = t
		c.weights[t] = td.Weight
		c.display[t] = DisplayDef{Model: td.Model, Rotation: td.Rotation}
		c.all = c.all.Add(t)
	}

	// Tiles with no authored rule for a direction are unconstrained there;
	// an authored empty allow list means "admits nothing".
	for t := range c.allowed {
		for _, d := range dirs {
			c.allowed[t][d] = c.all
		}
	}
	for _, ad := range def.Adjacency {
		t, ok := c.index[ad.Tile]
		if !ok {
			return nil, fmt.Errorf("catalog %s: adjacency for unknown tile %s", def.ID, ad.Tile)
		}
		d, err := ParseDirection(ad.Dir)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: tile %s: %w", def.ID, ad.Tile, err)
		}
		if !directionIn(dirs, d) {
			return nil, fmt.Errorf("catalog %s: tile %s: direction %s not in the catalog's direction set", def.ID, ad.Tile, d)
		}
		var allow TileSet
		for _, id := range ad.Allow {
			at, ok := c.index[id]
			if !ok {
				return nil, fmt.Errorf("catalog %s: tile %s allows unknown tile %s", def.ID, ad.Tile, id)
			}
			allow = allow.Add(at)
		}
		c.allowed[t][d] = allow
	}

	fb, ok := c.index[def.Fallback]
	if !ok {
		return nil, fmt.Errorf("catalog %s: fallback %q not in palette", def.ID, def.Fallback)
	}
	c.fallback = fb

	return c, nil
}

func directionIn(dirs []Direction, d Direction) bool {
	for _, v := range dirs {
		if v == d {
			return true
		}
	}
	return false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
