package node

import (
	"testing"

	"dagledger/core"
)

func TestJointToWireAndBackRoundTripsPaymentUnit(t *testing.T) {
	u := core.Unit{
		Version: "1.0", Alt: "1",
		Parents:      []string{"p1"},
		LastBall:     "ball1",
		LastBallUnit: "p1",
		Authors: []core.Author{{
			Address:       "A1",
			Definition:    &core.Definition{PubKeyCompressed: []byte{1, 2, 3}},
			Authentifiers: []core.Authentifier{{Algo: "sig", Sig: []byte{4, 5, 6}}},
		}},
		Messages: []core.Message{{
			App:             core.AppPayment,
			PayloadLocation: "inline",
			Payment: &core.PaymentPayload{
				Inputs:  []core.Input{{Kind: core.InputTransfer, Unit: "p1", MessageIndex: 0, OutputIndex: 0, Address: "A1"}},
				Outputs: []core.Output{{Address: "A2", Amount: 100}},
			},
		}},
		Witnesses: []core.Address{"W1", "W2"},
		UnitHash:  "u1",
	}
	j := &core.Joint{Unit: u, Ball: "ball2", SkiplistUnits: []string{"s1"}}

	wire := JointToWire(j)
	back := WireToJoint(wire)

	if back.Unit.UnitHash != "u1" {
		t.Fatalf("UnitHash round-trip = %q, want u1", back.Unit.UnitHash)
	}
	if back.Ball != "ball2" {
		t.Fatalf("Ball round-trip = %q, want ball2", back.Ball)
	}
	if len(back.SkiplistUnits) != 1 || back.SkiplistUnits[0] != "s1" {
		t.Fatalf("SkiplistUnits round-trip = %v", back.SkiplistUnits)
	}
	if len(back.Unit.Authors) != 1 || back.Unit.Authors[0].Address != "A1" {
		t.Fatalf("Authors round-trip = %v", back.Unit.Authors)
	}
	if back.Unit.Authors[0].Definition == nil || string(back.Unit.Authors[0].Definition.PubKeyCompressed) != "\x01\x02\x03" {
		t.Fatalf("Definition round-trip = %+v", back.Unit.Authors[0].Definition)
	}
	if len(back.Unit.Messages) != 1 || back.Unit.Messages[0].Payment == nil {
		t.Fatalf("Payment message round-trip missing")
	}
	pay := back.Unit.Messages[0].Payment
	if len(pay.Outputs) != 1 || pay.Outputs[0].Address != "A2" || pay.Outputs[0].Amount != 100 {
		t.Fatalf("Payment outputs round-trip = %v", pay.Outputs)
	}
	if len(back.Unit.Witnesses) != 2 || back.Unit.Witnesses[0] != "W1" {
		t.Fatalf("Witnesses round-trip = %v", back.Unit.Witnesses)
	}
}

func TestJointToWireAndBackRoundTripsDataFeedValues(t *testing.T) {
	u := core.Unit{
		Version: "1.0", Alt: "1",
		Authors: []core.Author{{Address: "A1"}},
		Messages: []core.Message{{
			App:             core.AppDataFeed,
			PayloadLocation: "inline",
			DataFeed: map[string]core.DataFeedValue{
				"temp":  {IsInt: true, Int: -5},
				"label": {Str: "sunny"},
			},
		}},
	}
	j := &core.Joint{Unit: u}

	back := WireToJoint(JointToWire(j))
	df := back.Unit.Messages[0].DataFeed
	if len(df) != 2 {
		t.Fatalf("DataFeed round-trip has %d entries, want 2", len(df))
	}
	if !df["temp"].IsInt || df["temp"].Int != -5 {
		t.Fatalf("temp round-trip = %+v, want IsInt=true Int=-5", df["temp"])
	}
	if df["label"].IsInt || df["label"].Str != "sunny" {
		t.Fatalf("label round-trip = %+v, want IsInt=false Str=sunny", df["label"])
	}
}

func TestDecodeDataFeedValueFallsBackToStringForUntaggedInput(t *testing.T) {
	v := decodeDataFeedValue("no-prefix")
	if v.IsInt || v.Str != "no-prefix" {
		t.Fatalf("decodeDataFeedValue(no-prefix) = %+v, want a plain string value", v)
	}
}
