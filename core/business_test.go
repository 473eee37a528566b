package core

import "testing"

func TestUTXOStateAddHasRemove(t *testing.T) {
	s := NewUTXOState()
	addr := Address("ADDR1")
	key := UtxoKey{Unit: "u1", MessageIndex: 0, OutputIndex: 0, Amount: 100}

	if s.Has(addr, key) {
		t.Fatalf("fresh UTXOState already has an output")
	}
	s.AddOutput(addr, key, 5)
	if !s.Has(addr, key) {
		t.Fatalf("Has() false right after AddOutput")
	}
	if got := s.Balance(addr); got != 100 {
		t.Fatalf("Balance() = %d, want 100", got)
	}
	if _, ok := s.RemoveOutput(addr, key); !ok {
		t.Fatalf("RemoveOutput() reported not-found for an output just added")
	}
	if s.Has(addr, key) {
		t.Fatalf("Has() still true after RemoveOutput")
	}
	if _, ok := s.RemoveOutput(addr, key); ok {
		t.Fatalf("RemoveOutput() succeeded twice on the same key")
	}
}

func TestUTXOStateOutputsSortedAndScopedByAddress(t *testing.T) {
	s := NewUTXOState()
	a := Address("A")
	b := Address("B")
	s.AddOutput(a, UtxoKey{Unit: "u2", MessageIndex: 0, OutputIndex: 0, Amount: 10}, 1)
	s.AddOutput(a, UtxoKey{Unit: "u1", MessageIndex: 1, OutputIndex: 0, Amount: 20}, 1)
	s.AddOutput(a, UtxoKey{Unit: "u1", MessageIndex: 0, OutputIndex: 0, Amount: 30}, 1)
	s.AddOutput(b, UtxoKey{Unit: "u3", MessageIndex: 0, OutputIndex: 0, Amount: 99}, 1)

	outs := s.Outputs(a)
	if len(outs) != 3 {
		t.Fatalf("Outputs(A) returned %d entries, want 3", len(outs))
	}
	want := []string{"u1", "u1", "u2"}
	for i, o := range outs {
		if o.Unit != want[i] {
			t.Fatalf("Outputs() not sorted: index %d = %s, want %s", i, o.Unit, want[i])
		}
	}
	if outs[0].MessageIndex != 0 || outs[1].MessageIndex != 1 {
		t.Fatalf("Outputs() did not break the u1 tie by message index")
	}

	var total int64
	for _, o := range s.Outputs(b) {
		total += o.Amount
	}
	if total != 99 {
		t.Fatalf("Outputs(B) summed to %d, want 99 (must not include A's outputs)", total)
	}
}

func TestGlobalStateRelatedJoints(t *testing.T) {
	g := NewGlobalState()
	addr := Address("ADDR1")
	if got := g.RelatedJoints(addr); len(got) != 0 {
		t.Fatalf("RelatedJoints on an untouched address returned %d entries", len(got))
	}
	g.AddRelated(addr, "unitA")
	g.AddRelated(addr, "unitB")
	got := g.RelatedJoints(addr)
	if len(got) != 2 || got[0] != "unitA" || got[1] != "unitB" {
		t.Fatalf("RelatedJoints = %v, want [unitA unitB]", got)
	}
	got[0] = "tampered"
	if g.RelatedJoints(addr)[0] == "tampered" {
		t.Fatalf("RelatedJoints leaked its internal slice to caller mutation")
	}
}

func TestBusinessLedgerIssueThenTransferStableApply(t *testing.T) {
	bl := NewBusinessLedger(BusinessConfig{IssueCap: 1000, GenesisUnit: "genesis"})
	payee := Address("PAYEE")

	genesisUnit := Unit{
		UnitHash: "genesis",
		Authors:  []Author{{Address: "ISSUER"}},
		Messages: []Message{{
			App: AppPayment,
			Payment: &PaymentPayload{
				Inputs:  []Input{{Kind: InputIssue, Address: "ISSUER", SerialNumber: 1, Amount: 1000}},
				Outputs: []Output{{Address: payee, Amount: 1000}},
			},
		}},
	}
	gjd := newJointData("genesis", &Joint{Unit: genesisUnit}, 0)

	seq, err := bl.ApplyStable(gjd, 0)
	if err != nil {
		t.Fatalf("ApplyStable(genesis) error: %v", err)
	}
	if seq != SeqGood {
		t.Fatalf("ApplyStable(genesis) sequence = %v, want Good", seq)
	}
	if got := bl.Stable.Balance(payee); got != 1000 {
		t.Fatalf("payee stable balance = %d, want 1000", got)
	}

	spender := Address("SPENDER")
	payUnit := Unit{
		UnitHash: "pay1",
		Authors:  []Author{{Address: payee}},
		Messages: []Message{{
			App: AppPayment,
			Payment: &PaymentPayload{
				Inputs:  []Input{{Kind: InputTransfer, Unit: "genesis", MessageIndex: 0, OutputIndex: 0, Address: payee}},
				Outputs: []Output{{Address: spender, Amount: 400}, {Address: payee, Amount: 600}},
			},
		}},
	}
	pjd := newJointData("pay1", &Joint{Unit: payUnit}, 1)

	seq, err = bl.ApplyStable(pjd, 1)
	if err != nil {
		t.Fatalf("ApplyStable(pay1) error: %v", err)
	}
	if seq != SeqGood {
		t.Fatalf("ApplyStable(pay1) sequence = %v, want Good", seq)
	}
	if got := bl.Stable.Balance(payee); got != 600 {
		t.Fatalf("payee balance after spend = %d, want 600", got)
	}
	if got := bl.Stable.Balance(spender); got != 400 {
		t.Fatalf("spender balance after receiving payment = %d, want 400", got)
	}
	if got := bl.Stable.Balance(payee); got < 0 {
		t.Fatalf("balance went negative: %d", got)
	}
}

func TestBusinessLedgerApplyStableSetsBalanceAndRelatedUnits(t *testing.T) {
	bl := NewBusinessLedger(BusinessConfig{IssueCap: 1000, GenesisUnit: "genesis"})
	payee := Address("PAYEE")

	genesisUnit := Unit{
		UnitHash: "genesis",
		Authors:  []Author{{Address: "ISSUER"}},
		Messages: []Message{{
			App: AppPayment,
			Payment: &PaymentPayload{
				Inputs:  []Input{{Kind: InputIssue, Address: "ISSUER", SerialNumber: 1, Amount: 1000}},
				Outputs: []Output{{Address: payee, Amount: 1000}},
			},
		}},
	}
	gjd := newJointData("genesis", &Joint{Unit: genesisUnit}, 0)
	if _, err := bl.ApplyStable(gjd, 0); err != nil {
		t.Fatalf("ApplyStable(genesis) error: %v", err)
	}
	if gjd.Props().PrevStableSelfUnit != "" {
		t.Fatalf("genesis PrevStableSelfUnit = %q, want empty (no prior self joint)", gjd.Props().PrevStableSelfUnit)
	}

	// payee's own next self-joint should see genesis in RelatedUnits, since
	// genesis paid it and payee has not yet had a self-joint since.
	spender := Address("SPENDER")
	payUnit := Unit{
		UnitHash: "pay1",
		Authors:  []Author{{Address: payee}},
		Messages: []Message{{
			App: AppPayment,
			Payment: &PaymentPayload{
				Inputs:  []Input{{Kind: InputTransfer, Unit: "genesis", MessageIndex: 0, OutputIndex: 0, Address: payee}},
				Outputs: []Output{{Address: spender, Amount: 400}, {Address: payee, Amount: 600}},
			},
		}},
	}
	pjd := newJointData("pay1", &Joint{Unit: payUnit}, 1)
	if _, err := bl.ApplyStable(pjd, 1); err != nil {
		t.Fatalf("ApplyStable(pay1) error: %v", err)
	}

	props := pjd.Props()
	if props.PrevStableSelfUnit != "" {
		t.Fatalf("pay1 PrevStableSelfUnit = %q, want empty (payee authored no earlier joint)", props.PrevStableSelfUnit)
	}
	if len(props.RelatedUnits) != 1 || props.RelatedUnits[0] != "genesis" {
		t.Fatalf("pay1 RelatedUnits = %v, want [genesis]", props.RelatedUnits)
	}
	// pre-joint balance (1000) minus the 400 sent elsewhere, no commissions.
	if props.Balance != 600 {
		t.Fatalf("pay1 Balance = %d, want 600", props.Balance)
	}
	if got := bl.Global.RelatedJoints(payee); len(got) != 0 {
		t.Fatalf("payee's related joints should be cleared after folding into pay1, got %v", got)
	}
}

func TestBusinessLedgerRejectsUnbalancedPayment(t *testing.T) {
	bl := NewBusinessLedger(BusinessConfig{IssueCap: 1000, GenesisUnit: "genesis"})
	u := Unit{
		UnitHash: "genesis",
		Authors:  []Author{{Address: "ISSUER"}},
		Messages: []Message{{
			App: AppPayment,
			Payment: &PaymentPayload{
				Inputs:  []Input{{Kind: InputIssue, Address: "ISSUER", SerialNumber: 1, Amount: 1000}},
				Outputs: []Output{{Address: "PAYEE", Amount: 999}}, // short by 1
			},
		}},
	}
	jd := newJointData("genesis", &Joint{Unit: u}, 0)
	seq, err := bl.ApplyStable(jd, 0)
	if err != nil {
		t.Fatalf("ApplyStable returned a hard error instead of FinalBad: %v", err)
	}
	if seq != SeqFinalBad {
		t.Fatalf("ApplyStable sequence = %v, want FinalBad for an unbalanced payment", seq)
	}
}
