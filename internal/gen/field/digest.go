package field

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// stateDigest hashes every live cell in coordinate order. Two fields with
// equal digests hold identical grids, regardless of map iteration order or
// the history that produced them.
func (f *Field) stateDigest() string {
	coords := make([]Coord, 0, len(f.cells))
	for pos := range f.cells {
		coords = append(coords, pos)
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })

	h := sha256.New()
	var buf [8]byte
	wi := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, pos := range coords {
		c := f.cells[pos]
		wi(int64(pos.X))
		wi(int64(pos.Z))
		if c.Collapsed {
			wi(1)
			wi(int64(c.Tile))
		} else {
			wi(0)
			wi(int64(c.Valid))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
