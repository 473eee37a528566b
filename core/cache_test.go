package core

import (
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

func noopLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func alwaysValid(j *Joint) error { return nil }

func genesisJoint(hash string) *Joint {
	return &Joint{Unit: Unit{UnitHash: hash, Authors: []Author{{Address: "ADDR1"}}}}
}

func childJoint(hash string, parents ...string) *Joint {
	return &Joint{Unit: Unit{
		UnitHash: hash, Parents: parents,
		LastBall: "parent-ball", LastBallUnit: parents[0],
		Authors: []Author{{Address: "ADDR1"}},
	}}
}

func TestCacheSubmitGenesisIsImmediatelyReady(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	jd, ready, err := c.Submit(genesisJoint("g1"), "peer1", 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !ready {
		t.Fatalf("genesis joint (no parents) should be immediately ready")
	}
	if jd.Hash != "g1" {
		t.Fatalf("jd.Hash = %q, want g1", jd.Hash)
	}
}

func TestCacheSubmitWithMissingParentIsNotReady(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	_, ready, err := c.Submit(childJoint("c1", "missing-parent"), "peer1", 0)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if ready {
		t.Fatalf("a joint whose parent is unresolved must not be reported ready")
	}
}

func TestCacheSubmitRejectsDuplicate(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	if _, _, err := c.Submit(genesisJoint("g1"), "peer1", 0); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if _, _, err := c.Submit(genesisJoint("g1"), "peer1", 0); err != ErrAlreadyUnhandled {
		t.Fatalf("second Submit error = %v, want ErrAlreadyUnhandled", err)
	}
}

func TestCacheNormalizeWakesWaitingChild(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	gjd, _, err := c.Submit(genesisJoint("g1"), "peer1", 0)
	if err != nil {
		t.Fatalf("submit genesis failed: %v", err)
	}
	if _, _, err := c.Submit(childJoint("c1", "g1"), "peer1", 0); err != nil {
		t.Fatalf("submit child failed: %v", err)
	}

	woken, err := c.Normalize("g1")
	if err != nil {
		t.Fatalf("Normalize(g1) failed: %v", err)
	}
	if len(woken) != 1 || woken[0].Hash != "c1" {
		t.Fatalf("Normalize(g1) woke %v, want [c1]", woken)
	}
	_ = gjd

	if _, err := c.Normalize("c1"); err != nil {
		t.Fatalf("Normalize(c1) failed after its parent resolved: %v", err)
	}
	got, ok := c.Get("c1")
	if !ok || got.Hash != "c1" {
		t.Fatalf("Get(c1) after normalize = %v, %v", got, ok)
	}
}

func TestCachePurgeBadCascadesToWaiters(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	if _, _, err := c.Submit(genesisJoint("g1"), "peer1", 0); err != nil {
		t.Fatalf("submit genesis failed: %v", err)
	}
	if _, _, err := c.Submit(childJoint("c1", "g1"), "peer1", 0); err != nil {
		t.Fatalf("submit child failed: %v", err)
	}

	c.PurgeBad("g1", ErrMalformed)
	if _, ok := c.KnownBadReason("g1"); !ok {
		t.Fatalf("g1 not recorded as known-bad after PurgeBad")
	}
	if _, ok := c.KnownBadReason("c1"); !ok {
		t.Fatalf("c1 (waiting on bad parent g1) should cascade into known-bad too")
	}
	if err := c.CheckNew("g1"); err != ErrKnownBad {
		t.Fatalf("CheckNew(g1) = %v, want ErrKnownBad", err)
	}
}

func TestCachePurgeOldUnhandledRespectsTimeout(t *testing.T) {
	mock := clock.NewMock()
	c := NewCache(mock, nil, noopLogger(), alwaysValid)
	if _, _, err := c.Submit(childJoint("c1", "missing"), "peer1", 0); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if purged := c.PurgeOldUnhandled(DefaultUnhandledTTL); len(purged) != 0 {
		t.Fatalf("purged %v before the TTL elapsed", purged)
	}

	mock.Add(DefaultUnhandledTTL + time.Second)
	purged := c.PurgeOldUnhandled(DefaultUnhandledTTL)
	if len(purged) != 1 || purged[0] != "c1" {
		t.Fatalf("PurgeOldUnhandled after TTL = %v, want [c1]", purged)
	}
	if _, ok := c.KnownBadReason("c1"); !ok {
		t.Fatalf("c1 should be known-bad after its unhandled TTL expired")
	}
}

func TestCacheFreeHashesTracksTips(t *testing.T) {
	c := NewCache(clock.NewMock(), nil, noopLogger(), alwaysValid)
	if _, _, err := c.Submit(genesisJoint("g1"), "peer1", 0); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := c.Normalize("g1"); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	free := c.FreeHashes()
	if len(free) != 1 || free[0] != "g1" {
		t.Fatalf("FreeHashes() = %v, want [g1]", free)
	}

	if _, _, err := c.Submit(childJoint("c1", "g1"), "peer1", 0); err != nil {
		t.Fatalf("submit child failed: %v", err)
	}
	if _, err := c.Normalize("c1"); err != nil {
		t.Fatalf("normalize child failed: %v", err)
	}
	free = c.FreeHashes()
	if len(free) != 1 || free[0] != "c1" {
		t.Fatalf("FreeHashes() after child normalized = %v, want [c1] (g1 now has a live child)", free)
	}
}
