package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	FieldID string `json:"field_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 captures the whole field plus the parameters needed for a
// deterministic resume.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed              int64   `json:"seed"`
	TickRateHz        int     `json:"tick_rate_hz"`
	CellEdgeLength    int     `json:"cell_edge_length"`
	CellsOnEdge       int     `json:"cells_on_edge"`
	DespawnMultiplier float64 `json:"despawn_multiplier"`

	RulesetID     string `json:"ruleset_id"`
	RulesetDigest string `json:"ruleset_digest"`

	Cells []CellV1 `json:"cells"`

	Counters CountersV1 `json:"counters"`
}

type CellV1 struct {
	X         int      `json:"x"`
	Z         int      `json:"z"`
	Collapsed bool     `json:"collapsed"`
	Tile      string   `json:"tile,omitempty"`
	Valid     []string `json:"valid,omitempty"`
}

type CountersV1 struct {
	Draws          uint64 `json:"draws"`
	Contradictions uint64 `json:"contradictions"`
	NextObserver   uint64 `json:"next_observer"`
}

// WriteSnapshot writes a zstd-compressed snapshot: one JSON header line for
// cheap inspection, then the gob body.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Latest returns the newest snapshot path under dir, or "" when none exist.
// Snapshot files are named snap-<tick>.bin.zst; ticks are compared
// numerically via zero-padding at write time, so lexical order suffices.
func Latest(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "snap-") && strings.HasSuffix(e.Name(), ".bin.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}

// PathFor builds the canonical snapshot path for a tick.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snap-%012d.bin.zst", tick))
}
