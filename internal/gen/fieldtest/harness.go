package fieldtest

import (
	"encoding/json"
	"testing"

	"tileweave.ai/internal/gen/field"
	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/gen/tuning"
	"tileweave.ai/internal/protocol"
)

// Harness is a small black-box helper for driving a field via exported APIs:
// - Join() issues a JoinRequest via StepOnce()
// - Pose()/Step() feed POSE envelopes through StepOnce()
// - the per-observer Out channel carries OBS JSON
//
// It avoids touching field internals beyond the Debug accessors so these
// tests exercise the same surface the server does.
type Harness struct {
	T *testing.T
	F *field.Field

	DefaultObserverID string

	sessions map[string]*session
}

type session struct {
	ObserverID string
	Out        chan []byte
	lastObs    protocol.ObsMsg
}

func DefaultTuning() tuning.Tuning {
	tn := tuning.Defaults()
	tn.TickRateHz = 5
	tn.CellEdgeLength = 9
	tn.CellsOnEdge = 3
	tn.CreateIntervalMs = 200  // one tick at 5Hz
	tn.DestroyIntervalMs = 200 // one tick at 5Hz
	return tn
}

func NewHarness(t *testing.T, cfg field.Config, rs rules.Ruleset, observerName string) *Harness {
	t.Helper()

	f, err := field.New(cfg, rs)
	if err != nil {
		t.Fatalf("field.New: %v", err)
	}
	h := &Harness{T: t, F: f, sessions: map[string]*session{}}
	h.DefaultObserverID = h.Join(observerName)
	return h
}

// NewHarnessWithField wraps an already-constructed field, e.g. one restored
// from a snapshot before the observer joins.
func NewHarnessWithField(t *testing.T, f *field.Field, observerName string) *Harness {
	t.Helper()
	h := &Harness{T: t, F: f, sessions: map[string]*session{}}
	h.DefaultObserverID = h.Join(observerName)
	return h
}

func (h *Harness) Join(observerName string) string {
	h.T.Helper()

	out := make(chan []byte, 16)
	resp := make(chan field.JoinResponse, 1)
	_, _ = h.F.StepOnce([]field.JoinRequest{{
		Name: observerName,
		Out:  out,
		Resp: resp,
	}}, nil, nil)
	jr := <-resp
	if jr.Welcome.ObserverID == "" {
		h.T.Fatalf("join returned empty observer id")
	}
	s := &session{ObserverID: jr.Welcome.ObserverID, Out: out}
	h.sessions[s.ObserverID] = s
	h.drainAllObs()
	return s.ObserverID
}

// Pose advances one tick with the default observer standing at (x, y, z).
func (h *Harness) Pose(x, y, z float64) protocol.ObsMsg {
	return h.PoseFor(h.DefaultObserverID, x, y, z)
}

func (h *Harness) PoseFor(observerID string, x, y, z float64) protocol.ObsMsg {
	h.T.Helper()
	env := field.PoseEnvelope{
		ObserverID: observerID,
		Pose: protocol.PoseMsg{
			Type:            protocol.TypePose,
			ProtocolVersion: protocol.Version,
			Tick:            h.F.CurrentTick(),
			Pos:             [3]float64{x, y, z},
		},
	}
	_, _ = h.F.StepOnce(nil, nil, []field.PoseEnvelope{env})
	h.drainAllObs()
	return h.LastObsFor(observerID)
}

// Step advances n ticks with no new input.
func (h *Harness) Step(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		_, _ = h.F.StepOnce(nil, nil, nil)
		h.drainAllObs()
	}
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultObserverID)
}

func (h *Harness) LastObsFor(observerID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[observerID]
	if s == nil {
		h.T.Fatalf("unknown observer id: %q", observerID)
	}
	return s.lastObs
}

func (h *Harness) drainAllObs() {
	h.T.Helper()
	for _, s := range h.sessions {
		draining := true
		for draining {
			select {
			case b := <-s.Out:
				var obs protocol.ObsMsg
				if err := json.Unmarshal(b, &obs); err != nil {
					h.T.Fatalf("bad OBS json: %v", err)
				}
				if obs.Type == protocol.TypeObs {
					s.lastObs = obs
				}
			default:
				draining = false
			}
		}
	}
}
