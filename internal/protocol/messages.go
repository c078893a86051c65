package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ObserverName    string            `json:"observer_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ObserverID      string      `json:"observer_id"`
	ResumeToken     string      `json:"resume_token"`
	FieldParams     FieldParams `json:"field_params"`
	Catalog         DigestRef   `json:"catalog"`
}

type FieldParams struct {
	TickRateHz     int    `json:"tick_rate_hz"`
	CellEdgeLength int    `json:"cell_edge_length"`
	CellsOnEdge    int    `json:"cells_on_edge"`
	Seed           int64  `json:"seed"`
	RulesetID      string `json:"ruleset_id"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// CATALOG (server -> client): the tile palette with display metadata, sent
// once after WELCOME.
type CatalogMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Name            string        `json:"name"`
	Digest          string        `json:"digest"`
	Tiles           []CatalogTile `json:"tiles"`
}

type CatalogTile struct {
	ID       string  `json:"id"`
	Weight   float64 `json:"weight,omitempty"`
	Model    string  `json:"model,omitempty"`
	Rotation int     `json:"rotation,omitempty"` // quarter turns around +Y
}

// POSE (client -> server): the observer's current world position.
type PoseMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick,omitempty"`
	Pos             [3]float64 `json:"pos"`
}

// OBS (server -> client): per-tick generation report. Cells carries only
// the cells that collapsed this tick within the observer's view.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ObserverID      string `json:"observer_id"`

	Field  FieldObs  `json:"field"`
	Cells  []CellObs `json:"cells,omitempty"`
	Digest string    `json:"digest"`
}

type FieldObs struct {
	CellsLive      int    `json:"cells_live"`
	CellsCollapsed int    `json:"cells_collapsed"`
	Contradictions uint64 `json:"contradictions"`
	QueueDepth     int    `json:"queue_depth"`
}

type CellObs struct {
	Pos      [2]int     `json:"pos"`   // grid coordinate
	World    [3]float64 `json:"world"` // pos * cell_edge_length
	Tile     string     `json:"tile"`
	Model    string     `json:"model,omitempty"`
	Rotation int        `json:"rotation,omitempty"`
	Forced   bool       `json:"forced,omitempty"` // contradiction fallback
}
