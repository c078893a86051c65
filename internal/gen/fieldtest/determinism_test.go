package fieldtest

import (
	"testing"

	"tileweave.ai/internal/gen/field"
	"tileweave.ai/internal/gen/rules"
	"tileweave.ai/internal/protocol"
)

func TestDeterminism_SamePoseStreamSameDigest(t *testing.T) {
	cat, err := rules.Default("open_space")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	cfg := field.Config{ID: "test", Seed: 42, Tune: DefaultTuning()}

	f1, err := field.New(cfg, cat)
	if err != nil {
		t.Fatalf("field1: %v", err)
	}
	f2, err := field.New(cfg, cat)
	if err != nil {
		t.Fatalf("field2: %v", err)
	}

	join := func(f *field.Field, name string) string {
		resp := make(chan field.JoinResponse, 1)
		_, _ = f.StepOnce([]field.JoinRequest{{Name: name, Out: nil, Resp: resp}}, nil, nil)
		r := <-resp
		return r.Welcome.ObserverID
	}

	o1 := join(f1, "walker")
	o2 := join(f2, "walker")
	if o1 != o2 {
		t.Fatalf("observer id mismatch: %s vs %s", o1, o2)
	}

	startTick := f1.CurrentTick()
	if got := f2.CurrentTick(); got != startTick {
		t.Fatalf("tick mismatch after join: f1=%d f2=%d", startTick, got)
	}

	// Walk the same path on both fields for 100 ticks.
	for i := uint64(0); i < 100; i++ {
		wantTick := startTick + i
		pose := protocol.PoseMsg{
			Type:            protocol.TypePose,
			ProtocolVersion: protocol.Version,
			Tick:            wantTick,
			Pos:             [3]float64{float64(i) * 1.5, 0, float64(i) * 0.5},
		}
		t1, d1 := f1.StepOnce(nil, nil, []field.PoseEnvelope{{ObserverID: o1, Pose: pose}})
		t2, d2 := f2.StepOnce(nil, nil, []field.PoseEnvelope{{ObserverID: o2, Pose: pose}})
		if t1 != wantTick || t2 != wantTick {
			t.Fatalf("tick mismatch: got f1=%d f2=%d want %d", t1, t2, wantTick)
		}
		if d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", wantTick, d1, d2)
		}
	}
}

func TestDeterminism_SeedChangesOutcome(t *testing.T) {
	cat, err := rules.Default("open_space")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	run := func(seed int64) string {
		h := NewHarness(t, field.Config{ID: "test", Seed: seed, Tune: DefaultTuning()}, cat, "walker")
		h.Step(60)
		return h.F.DebugDigest()
	}

	if run(1) == run(2) {
		t.Fatalf("different seeds converged on the same grid")
	}
}
