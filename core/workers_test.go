package core

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// TestCoreRunStabilizesGenesis exercises the fresh-ledger scenario: a
// submitted genesis joint must flow through ready validation, the
// main-chain worker and the business worker to become the stable tip with
// its issued supply credited.
func TestCoreRunStabilizesGenesis(t *testing.T) {
	signer := testSigner(t)
	addrs := makeWitnessAddresses(t, WitnessCount)
	wl, err := NewWitnessList(addrs)
	if err != nil {
		t.Fatalf("NewWitnessList failed: %v", err)
	}

	vcfg := ValidationConfig{Version: "1.0", Alt: "1"}
	bcfg := BusinessConfig{IssueCap: 1000}
	c := NewCore(vcfg, wl, nil, clock.New(), noopLogger(), NoopInstrumentation{}, bcfg)

	g, err := BuildGenesis(GenesisConfig{Version: "1.0", Alt: "1", IssueCap: 1000}, []Signer{signer})
	if err != nil {
		t.Fatalf("BuildGenesis failed: %v", err)
	}
	// The genesis unit's own hash is only known after BuildGenesis runs, so
	// the business config's GenesisUnit check is satisfied here rather than
	// at NewCore construction time.
	c.Business.cfg.GenesisUnit = g.Unit.UnitHash

	if err := c.SubmitJoint(g, "local"); err != nil {
		t.Fatalf("SubmitJoint(genesis) failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.MainChain.LastStable() != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	last := c.MainChain.LastStable()
	if last == nil {
		t.Fatalf("genesis never reached stability within the test deadline")
	}
	if last.Hash != g.Unit.UnitHash {
		t.Fatalf("stable tip = %s, want genesis %s", last.Hash, g.Unit.UnitHash)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Business.Stable.Balance(signer.Address()) == 1000 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Business.Stable.Balance(signer.Address()); got != 1000 {
		t.Fatalf("stable balance after genesis = %d, want 1000", got)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after context cancellation")
	}
}
