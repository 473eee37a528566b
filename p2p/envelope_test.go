package p2p

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTripsJointPayload(t *testing.T) {
	jp := JointPayload{
		Unit: UnitWire{
			Version: "1.0", Alt: "1", Parents: []string{"p1"},
			Authors: []AuthorWire{{Address: "A1", Authentifiers: []AuthentifierWire{{Algo: "sig", Sig: []byte{1, 2, 3}}}}},
			Messages: []MessageWire{{App: "payment", PayloadLocation: "inline"}},
			UnitHash: "u1",
		},
	}
	raw, err := json.Marshal(jp)
	if err != nil {
		t.Fatalf("marshal JointPayload: %v", err)
	}
	env := Envelope{Type: TypeJoint, Payload: raw}
	envRaw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var gotEnv Envelope
	if err := json.Unmarshal(envRaw, &gotEnv); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if gotEnv.Type != TypeJoint {
		t.Fatalf("envelope type = %q, want %q", gotEnv.Type, TypeJoint)
	}

	var gotJoint JointPayload
	if err := json.Unmarshal(gotEnv.Payload, &gotJoint); err != nil {
		t.Fatalf("unmarshal joint payload: %v", err)
	}
	if gotJoint.Unit.UnitHash != "u1" {
		t.Fatalf("round-tripped unit hash = %q, want u1", gotJoint.Unit.UnitHash)
	}
	if len(gotJoint.Unit.Authors) != 1 || gotJoint.Unit.Authors[0].Address != "A1" {
		t.Fatalf("round-tripped authors = %v", gotJoint.Unit.Authors)
	}
}

func TestFreeJointsEndPayloadRoundTrip(t *testing.T) {
	p := FreeJointsEndPayload{Hashes: []string{"h1", "h2"}}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got FreeJointsEndPayload
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Hashes) != 2 || got.Hashes[0] != "h1" || got.Hashes[1] != "h2" {
		t.Fatalf("round-tripped hashes = %v", got.Hashes)
	}
}
