package node

import (
	"testing"

	"dagledger/core"
	"dagledger/p2p"
)

func sampleJoint(hash string) *core.Joint {
	return &core.Joint{
		Unit: core.Unit{
			UnitHash:  hash,
			Parents:   []string{"p1"},
			Authors:   []core.Author{{Address: "A1"}},
			Witnesses: []core.Address{"W1"},
		},
		Ball: "ball-" + hash,
	}
}

func TestJointsToWireAndBackRoundTripsHashes(t *testing.T) {
	joints := []*core.Joint{sampleJoint("u1"), sampleJoint("u2")}

	wire := jointsToWire(joints)
	back := wireToJoints(wire)

	if len(back) != 2 {
		t.Fatalf("wireToJoints returned %d joints, want 2", len(back))
	}
	if back[0].Unit.UnitHash != "u1" || back[1].Unit.UnitHash != "u2" {
		t.Fatalf("round trip hashes = %q, %q", back[0].Unit.UnitHash, back[1].Unit.UnitHash)
	}
	if back[0].Ball != "ball-u1" {
		t.Fatalf("round trip ball = %q, want ball-u1", back[0].Ball)
	}
}

func TestBallsToWireAndBackRoundTrips(t *testing.T) {
	balls := []core.BallRecord{
		{Unit: "u1", Ball: "b1", ParentBalls: []string{"b0"}, SkiplistBalls: []string{"s0"}, IsNonserial: true, MCI: 5},
	}

	wire := ballsToWire(balls)
	back := wireToBalls(wire)

	if len(back) != 1 {
		t.Fatalf("wireToBalls returned %d records, want 1", len(back))
	}
	got := back[0]
	want := balls[0]
	if got.Unit != want.Unit || got.Ball != want.Ball || got.IsNonserial != want.IsNonserial || got.MCI != want.MCI {
		t.Fatalf("round trip ball record = %+v, want %+v", got, want)
	}
	if len(got.ParentBalls) != 1 || got.ParentBalls[0] != "b0" {
		t.Fatalf("round trip parent balls = %v", got.ParentBalls)
	}
	if len(got.SkiplistBalls) != 1 || got.SkiplistBalls[0] != "s0" {
		t.Fatalf("round trip skiplist balls = %v", got.SkiplistBalls)
	}
}

func TestCatchupPayloadWitnessesConvertToCoreAddresses(t *testing.T) {
	payload := p2p.CatchupPayload{LastStableMCI: 3, LastKnownBall: "b1", Witnesses: []string{"W1", "W2"}}

	req := core.CatchupRequest{LastStableMCI: payload.LastStableMCI, LastKnownBall: payload.LastKnownBall}
	for _, a := range payload.Witnesses {
		req.Witnesses = append(req.Witnesses, core.Address(a))
	}

	if req.LastStableMCI != 3 || req.LastKnownBall != "b1" {
		t.Fatalf("CatchupRequest scalar fields = %+v", req)
	}
	if len(req.Witnesses) != 2 || req.Witnesses[0] != "W1" || req.Witnesses[1] != "W2" {
		t.Fatalf("CatchupRequest witnesses = %v", req.Witnesses)
	}
}
