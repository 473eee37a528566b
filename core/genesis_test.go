package core

import "testing"

func TestBuildGenesisRejectsNoSigners(t *testing.T) {
	if _, err := BuildGenesis(GenesisConfig{Version: "1.0", Alt: "1", IssueCap: 100}, nil); err == nil {
		t.Fatalf("expected an error when no signers are supplied")
	}
}

func TestBuildGenesisProducesAParentlessSignedJoint(t *testing.T) {
	signer := testSigner(t)
	j, err := BuildGenesis(GenesisConfig{Version: "1.0", Alt: "1", IssueCap: 1000}, []Signer{signer})
	if err != nil {
		t.Fatalf("BuildGenesis failed: %v", err)
	}
	if !j.Unit.IsGenesis() {
		t.Fatalf("genesis joint has parents: %v", j.Unit.Parents)
	}
	if j.Unit.UnitHash == "" {
		t.Fatalf("genesis joint has no unit hash")
	}
	if len(j.Unit.Authors) != 1 || j.Unit.Authors[0].Address != signer.Address() {
		t.Fatalf("genesis author = %v, want exactly the supplied signer", j.Unit.Authors)
	}
	if len(j.Unit.Authors[0].Authentifiers) != 1 {
		t.Fatalf("genesis author has %d authentifiers, want 1", len(j.Unit.Authors[0].Authentifiers))
	}

	payloadHash := SignedPayloadHash(&j.Unit)
	if !signer.Verify(payloadHash, signer.Definition().PubKeyCompressed, j.Unit.Authors[0].Authentifiers[0]) {
		t.Fatalf("genesis signature does not verify against its own signed payload")
	}

	msg := j.Unit.Messages[0]
	if msg.App != AppPayment || msg.Payment == nil {
		t.Fatalf("genesis message is not an inline payment: %+v", msg)
	}
	if len(msg.Payment.Inputs) != 1 || msg.Payment.Inputs[0].Kind != InputIssue || msg.Payment.Inputs[0].Amount != 1000 {
		t.Fatalf("genesis input = %+v, want a single issue input of 1000", msg.Payment.Inputs)
	}
	if len(msg.Payment.Outputs) != 1 || msg.Payment.Outputs[0].Address != signer.Address() || msg.Payment.Outputs[0].Amount != 1000 {
		t.Fatalf("genesis output = %+v, want 1000 to %s", msg.Payment.Outputs, signer.Address())
	}
}

func TestBuildGenesisPassesBasicValidate(t *testing.T) {
	signer := testSigner(t)
	j, err := BuildGenesis(GenesisConfig{Version: "1.0", Alt: "1", IssueCap: 500}, []Signer{signer})
	if err != nil {
		t.Fatalf("BuildGenesis failed: %v", err)
	}
	if err := BasicValidate(ValidationConfig{Version: "1.0", Alt: "1"}, j); err != nil {
		t.Fatalf("BasicValidate rejected a freshly built genesis joint: %v", err)
	}
}
