package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tileweave.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	poseSchema := compile("pose.schema.json")
	obsSchema := compile("obs.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "observer_name":"walker1",
	  "capabilities":{"max_queue":8}
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "observer_id":"O1",
	  "resume_token":"resume_field_1_123",
	  "field_params":{
	    "tick_rate_hz":30,
	    "cell_edge_length":9,
	    "cells_on_edge":17,
	    "seed":1337,
	    "ruleset_id":"open_space"
	  },
	  "catalog":{"digest":"deadbeef","count":12}
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var pose any
	_ = json.Unmarshal([]byte(`{
	  "type":"POSE",
	  "protocol_version":"1.0",
	  "tick":42,
	  "pos":[13.5,0,-7.25]
	}`), &pose)
	validate(poseSchema, pose)

	var obs any
	_ = json.Unmarshal([]byte(`{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":42,
	  "observer_id":"O1",
	  "field":{"cells_live":289,"cells_collapsed":120,"contradictions":2,"queue_depth":0},
	  "cells":[
	    {"pos":[3,-1],"world":[27,0,-9],"tile":"GROUND","model":"models/ground"},
	    {"pos":[4,-1],"world":[36,0,-9],"tile":"FOUNTAIN_EDGE_2","model":"models/fountain_edge","rotation":1,"forced":true}
	  ],
	  "digest":"deadbeef"
	}`), &obs)
	validate(obsSchema, obs)
}

func TestSchemas_MatchGoEncoding(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	roundTrip := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ObserverName:    "walker",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := compile("hello.schema.json").Validate(roundTrip(hello)); err != nil {
		t.Fatalf("hello: %v", err)
	}

	obs := protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            7,
		ObserverID:      "O1",
		Field:           protocol.FieldObs{CellsLive: 9, CellsCollapsed: 3},
		Cells: []protocol.CellObs{
			{Pos: [2]int{0, 0}, World: [3]float64{0, 0, 0}, Tile: "GROUND"},
		},
		Digest: "abc",
	}
	if err := compile("obs.schema.json").Validate(roundTrip(obs)); err != nil {
		t.Fatalf("obs: %v", err)
	}
}
