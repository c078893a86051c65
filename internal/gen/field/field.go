package field

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/gen/tuning"
	"tileweave.ai/internal/persistence/snapshot"
	"tileweave.ai/internal/protocol"
)

type Config struct {
	ID   string
	Seed int64
	Tune tuning.Tuning
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Catalog protocol.CatalogMsg
}

type PoseEnvelope struct {
	ObserverID string
	Pose       protocol.PoseMsg
}

// Field is a single-threaded authoritative generator.
// All state must be accessed only from the field loop goroutine.
type Field struct {
	cfg Config
	rs  rules.Ruleset

	tick atomic.Uint64

	cells     map[Coord]*Cell
	queue     []Coord
	observers map[string]*observerState

	inbox  chan PoseEnvelope
	join   chan JoinRequest
	attach chan AttachRequest
	leave  chan string
	stop   chan struct{}

	nextObserverNum atomic.Uint64

	draws          uint64
	contradictions uint64

	// Throttle deadlines, measured on the tick-derived clock so that replays
	// of the same tick sequence make the same streaming decisions.
	nextCreateAt  time.Duration
	nextDestroyAt time.Duration

	// Optional logger and snapshot sink (may be nil). Snapshot writing is
	// off-thread; the loop only hands the copy over.
	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick           uint64             `json:"tick"`
	Created        int                `json:"created,omitempty"`
	Destroyed      int                `json:"destroyed,omitempty"`
	Collapses      []CollapseLogEntry `json:"collapses,omitempty"`
	Contradictions int                `json:"contradictions,omitempty"`
	CellsLive      int                `json:"cells_live"`
	QueueDepth     int                `json:"queue_depth"`
	Digest         string             `json:"digest"`
}

type CollapseLogEntry struct {
	Pos    [2]int `json:"pos"`
	Tile   string `json:"tile"`
	Forced bool   `json:"forced,omitempty"`
}

type observerState struct {
	ID          string
	Name        string
	Pos         Vec3
	ResumeToken string
	Out         chan []byte
}

// tickRecord accumulates what one tick did, for OBS messages and the tick log.
type tickRecord struct {
	Created        int
	Destroyed      int
	Collapses      []collapseRecord
	Contradictions int
}

type collapseRecord struct {
	Pos    Coord
	Tile   rules.Tile
	Forced bool
}

func New(cfg Config, rs rules.Ruleset) (*Field, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("field id required")
	}
	if err := cfg.Tune.Validate(); err != nil {
		return nil, err
	}
	f := &Field{
		cfg:       cfg,
		rs:        rs,
		cells:     map[Coord]*Cell{},
		observers: map[string]*observerState{},
		inbox:     make(chan PoseEnvelope, 1024),
		join:      make(chan JoinRequest, 64),
		attach:    make(chan AttachRequest, 64),
		leave:     make(chan string, 64),
		stop:      make(chan struct{}),
	}
	return f, nil
}

func (f *Field) SetTickLogger(l TickLogger)                    { f.tickLogger = l }
func (f *Field) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { f.snapshotSink = ch }

func (f *Field) Inbox() chan<- PoseEnvelope   { return f.inbox }
func (f *Field) Join() chan<- JoinRequest     { return f.join }
func (f *Field) Attach() chan<- AttachRequest { return f.attach }
func (f *Field) Leave() chan<- string         { return f.leave }

func (f *Field) CurrentTick() uint64 { return f.tick.Load() }

func (f *Field) Ruleset() rules.Ruleset { return f.rs }

// tickInterval is the wall time one tick represents. The streaming throttles
// run on tick*interval rather than the real clock so a replayed tick stream
// reproduces the same create/destroy schedule.
func (f *Field) tickInterval() time.Duration {
	return time.Second / time.Duration(f.cfg.Tune.TickRateHz)
}

func (f *Field) elapsedAt(tick uint64) time.Duration {
	return time.Duration(tick) * f.tickInterval()
}

func (f *Field) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.tickInterval())
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingPoses []PoseEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stop:
			return nil
		case req := <-f.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-f.attach:
			f.handleAttach(req)
		case id := <-f.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-f.inbox:
			pendingPoses = append(pendingPoses, env)
		case <-ticker.C:
			f.step(pendingJoins, pendingLeaves, pendingPoses)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingPoses = pendingPoses[:0]
		}
	}
}

func (f *Field) Stop() { close(f.stop) }

// StepOnce advances the field by a single tick with the same ordering
// semantics as the server loop. Intended for deterministic replays and tests.
func (f *Field) StepOnce(joins []JoinRequest, leaves []string, poses []PoseEnvelope) (tick uint64, digest string) {
	tick = f.tick.Load()
	f.step(joins, leaves, poses)
	return tick, f.stateDigest()
}

func (f *Field) step(joins []JoinRequest, leaves []string, poses []PoseEnvelope) {
	nowTick := f.tick.Load()
	now := f.elapsedAt(nowTick)

	// Leaves, joins and poses apply at the tick boundary, in arrival order.
	for _, id := range leaves {
		delete(f.observers, id)
	}
	for _, req := range joins {
		resp := f.joinObserver(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}
	for _, env := range poses {
		ob := f.observers[env.ObserverID]
		if ob == nil {
			continue
		}
		ob.Pos = Vec3{X: env.Pose.Pos[0], Y: env.Pose.Pos[1], Z: env.Pose.Pos[2]}
	}

	var rec tickRecord
	f.createCells(now, &rec)
	f.destroyCells(now, &rec)
	f.propagate(&rec)
	f.collapseStep(&rec)

	digest := f.stateDigest()

	for _, ob := range f.sortedObservers() {
		if ob.Out == nil {
			continue
		}
		obs := f.buildObs(ob, nowTick, digest, &rec)
		b, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		sendLatest(ob.Out, b)
	}

	if f.tickLogger != nil {
		_ = f.tickLogger.WriteTick(f.logEntry(nowTick, digest, &rec))
	}

	every := f.cfg.Tune.SnapshotEveryTicks
	if f.snapshotSink != nil && every > 0 && nowTick != 0 && nowTick%uint64(every) == 0 {
		snap := f.ExportSnapshot(nowTick)
		select {
		case f.snapshotSink <- snap:
		default:
			// Drop the snapshot if the sink is backed up.
		}
	}

	f.tick.Add(1)
}

func (f *Field) logEntry(nowTick uint64, digest string, rec *tickRecord) TickLogEntry {
	e := TickLogEntry{
		Tick:           nowTick,
		Created:        rec.Created,
		Destroyed:      rec.Destroyed,
		Contradictions: rec.Contradictions,
		CellsLive:      len(f.cells),
		QueueDepth:     len(f.queue),
		Digest:         digest,
	}
	for _, cr := range rec.Collapses {
		e.Collapses = append(e.Collapses, CollapseLogEntry{
			Pos:    [2]int{cr.Pos.X, cr.Pos.Z},
			Tile:   f.tileID(cr.Tile),
			Forced: cr.Forced,
		})
	}
	return e
}

func (f *Field) joinObserver(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "observer"
	}

	idNum := f.nextObserverNum.Add(1)
	observerID := fmt.Sprintf("O%d", idNum)
	token := fmt.Sprintf("resume_%s_%d", f.cfg.ID, time.Now().UnixNano())

	f.observers[observerID] = &observerState{
		ID:          observerID,
		Name:        name,
		ResumeToken: token,
		Out:         out,
	}

	return JoinResponse{
		Welcome: f.welcomeFor(observerID, token),
		Catalog: f.catalogMsg(),
	}
}

func (f *Field) welcomeFor(observerID, token string) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ObserverID:      observerID,
		ResumeToken:     token,
		FieldParams: protocol.FieldParams{
			TickRateHz:     f.cfg.Tune.TickRateHz,
			CellEdgeLength: f.cfg.Tune.CellEdgeLength,
			CellsOnEdge:    f.cfg.Tune.CellsOnEdge,
			Seed:           f.cfg.Seed,
			RulesetID:      f.rs.ID(),
		},
		Catalog: protocol.DigestRef{
			Digest: f.rs.Digest(),
			Count:  len(f.rs.Palette()),
		},
	}
}

func (f *Field) catalogMsg() protocol.CatalogMsg {
	palette := f.rs.Palette()
	msg := protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            f.rs.ID(),
		Digest:          f.rs.Digest(),
		Tiles:           make([]protocol.CatalogTile, 0, len(palette)),
	}
	for i, id := range palette {
		t := rules.Tile(i)
		ct := protocol.CatalogTile{ID: id, Weight: f.rs.Weight(t)}
		if disp, ok := f.rs.(interface {
			Display(rules.Tile) rules.DisplayDef
		}); ok {
			d := disp.Display(t)
			ct.Model = d.Model
			ct.Rotation = d.Rotation
		}
		msg.Tiles = append(msg.Tiles, ct)
	}
	return msg
}

func (f *Field) handleAttach(req AttachRequest) {
	token := strings.TrimSpace(req.ResumeToken)
	if token == "" || req.Out == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	var ob *observerState
	for _, cand := range f.sortedObservers() {
		if cand.ResumeToken == token {
			ob = cand
			break
		}
	}
	if ob == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	ob.Out = req.Out
	// Rotate token on successful resume.
	ob.ResumeToken = fmt.Sprintf("resume_%s_%d", f.cfg.ID, time.Now().UnixNano())

	if req.Resp != nil {
		req.Resp <- JoinResponse{
			Welcome: f.welcomeFor(ob.ID, ob.ResumeToken),
			Catalog: f.catalogMsg(),
		}
	}
}

func (f *Field) sortedObservers() []*observerState {
	ids := make([]string, 0, len(f.observers))
	for id := range f.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*observerState, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.observers[id])
	}
	return out
}

func (f *Field) buildObs(ob *observerState, nowTick uint64, digest string, rec *tickRecord) protocol.ObsMsg {
	collapsed := 0
	for _, c := range f.cells {
		if c.Collapsed {
			collapsed++
		}
	}
	msg := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		ObserverID:      ob.ID,
		Field: protocol.FieldObs{
			CellsLive:      len(f.cells),
			CellsCollapsed: collapsed,
			Contradictions: f.contradictions,
			QueueDepth:     len(f.queue),
		},
		Digest: digest,
	}

	edge := float64(f.cfg.Tune.CellEdgeLength)
	half := f.cfg.Tune.CellsOnEdge / 2
	gx := int(math.Round(ob.Pos.X / edge))
	gz := int(math.Round(ob.Pos.Z / edge))
	for _, cr := range rec.Collapses {
		if abs(cr.Pos.X-gx) > half || abs(cr.Pos.Z-gz) > half {
			continue
		}
		co := protocol.CellObs{
			Pos:    [2]int{cr.Pos.X, cr.Pos.Z},
			World:  [3]float64{float64(cr.Pos.X) * edge, 0, float64(cr.Pos.Z) * edge},
			Tile:   f.tileID(cr.Tile),
			Forced: cr.Forced,
		}
		if disp, ok := f.rs.(interface {
			Display(rules.Tile) rules.DisplayDef
		}); ok {
			d := disp.Display(cr.Tile)
			co.Model = d.Model
			co.Rotation = d.Rotation
		}
		msg.Cells = append(msg.Cells, co)
	}
	return msg
}

func (f *Field) tileID(t rules.Tile) string {
	if named, ok := f.rs.(interface{ TileID(rules.Tile) string }); ok {
		return named.TileID(t)
	}
	return fmt.Sprintf("T%d", t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// sendLatest delivers b without ever blocking the field loop: when the client
// queue is full the oldest message is dropped in favor of the new one.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
