package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the knobs of the streaming generator. Everything here is
// data, not behavior; the field engine reads it once at startup.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	// Streaming policy.
	CellEdgeLength    int     `yaml:"cell_edge_length"`   // world units per cell
	CellsOnEdge       int     `yaml:"cells_on_edge"`      // square view width in cells
	DespawnMultiplier float64 `yaml:"despawn_multiplier"` // of the view diameter
	CreateIntervalMs  int     `yaml:"create_interval_ms"`
	DestroyIntervalMs int     `yaml:"destroy_interval_ms"`
	MaxCells          int     `yaml:"max_cells"`

	// Collapse scheduling. The default waits for the propagation queue to
	// drain before resolving a new cell; the every-tick variant trades
	// consistency for throughput.
	CollapseEveryTick bool `yaml:"collapse_every_tick"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         30,
		CellEdgeLength:     9,
		CellsOnEdge:        17,
		DespawnMultiplier:  0.7,
		CreateIntervalMs:   200,
		DestroyIntervalMs:  1000,
		MaxCells:           4096,
		CollapseEveryTick:  false,
		SnapshotEveryTicks: 3000,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, t.Validate()
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.CellEdgeLength <= 0 {
		return fmt.Errorf("cell_edge_length must be positive")
	}
	if t.CellsOnEdge <= 0 {
		return fmt.Errorf("cells_on_edge must be positive")
	}
	if t.DespawnMultiplier <= 0 {
		return fmt.Errorf("despawn_multiplier must be positive")
	}
	return nil
}

func (t Tuning) CreateInterval() time.Duration {
	return time.Duration(t.CreateIntervalMs) * time.Millisecond
}

func (t Tuning) DestroyInterval() time.Duration {
	return time.Duration(t.DestroyIntervalMs) * time.Millisecond
}

// DespawnDistance is the world-space radius beyond which cells are destroyed.
func (t Tuning) DespawnDistance() float64 {
	return float64(t.CellsOnEdge) * float64(t.CellEdgeLength) * t.DespawnMultiplier
}
