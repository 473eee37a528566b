package node

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"dagledger/core"
)

var mnemonicWords = []string{
	"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
	"legal winner thank year wave sausage worth useful legal winner thank yellow",
	"letter advice cage absurd amount doctor acoustic avoid letter advice cage above",
	"zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong",
}

func testWitnessList(t *testing.T) *core.WitnessList {
	t.Helper()
	addrs := make([]core.Address, 0, core.WitnessCount)
	for i := 0; i < core.WitnessCount; i++ {
		signer, err := core.NewMnemonicSigner(mnemonicWords[i%len(mnemonicWords)], "passphrase-"+string(rune('a'+i)))
		if err != nil {
			t.Fatalf("NewMnemonicSigner failed: %v", err)
		}
		addrs = append(addrs, signer.Address())
	}
	wl, err := core.NewWitnessList(addrs)
	if err != nil {
		t.Fatalf("NewWitnessList failed: %v", err)
	}
	return wl
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

// TestRunMaintenanceWritesSnapshotOnTick exercises the snapshot cadence of
// RunMaintenance: once the mock clock crosses snapshotInterval, it expects a
// gzip snapshot of the store to land at the configured path.
func TestRunMaintenanceWritesSnapshotOnTick(t *testing.T) {
	wl := testWitnessList(t)
	mock := clock.NewMock()
	vcfg := core.ValidationConfig{Version: "1.0", Alt: "1"}
	bcfg := core.BusinessConfig{IssueCap: 1000}
	c := core.NewCore(vcfg, wl, nil, mock, testLogger(), core.NoopInstrumentation{}, bcfg)

	dir := t.TempDir()
	fs, err := core.NewFileStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer fs.Close()

	b := &Bootstrap{Core: c, log: testLogger()}

	snapshotPath := filepath.Join(dir, "snapshot.gz")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.RunMaintenance(ctx, mock, fs, snapshotPath)
		close(done)
	}()

	// Let RunMaintenance register its tickers before advancing the clock.
	time.Sleep(20 * time.Millisecond)
	mock.Add(snapshotInterval + time.Second)
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunMaintenance did not exit after context cancellation")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		t.Fatalf("expected snapshot file at %s: %v", snapshotPath, err)
	}
}
