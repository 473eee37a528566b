package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultUnhandledTTL and DefaultTempBadFreeTTL are the purge timeouts named
// in §5 ("unhandled joints older than their TTL are purged (default 120s);
// temp-bad free joints... (default 60s)").
const (
	DefaultUnhandledTTL   = 120 * time.Second
	DefaultTempBadFreeTTL = 60 * time.Second
)

// BasicValidateFunc runs the pre-cache checks of §4.2 against a freshly
// submitted joint, before parents are known to be resolvable.
type BasicValidateFunc func(j *Joint) error

type unhandledEntry struct {
	jd        *JointData
	addedAt   time.Time
	waitingOn map[string]struct{}
}

// Cache is the in-memory DAG described in §4.1: three disjoint maps
// (normal, unhandled, known_bad), a free-tip index, and a missing-parent
// waiter map, protected by one reader/writer lock at the map level while
// per-joint payloads use the RCU cell in JointData.
type Cache struct {
	clock Clock
	store Store
	log   *logrus.Logger
	validateBasic BasicValidateFunc

	mu             sync.RWMutex
	normal         map[string]*JointData
	unhandled      map[string]*unhandledEntry
	knownBad       map[string]string
	free           map[string]*JointData
	missingParents map[string][]*JointData // missing parent hash -> waiting children
}

// NewCache constructs an empty joint cache backed by store for read-through
// existence checks and basic validation via validateBasic.
func NewCache(clk Clock, store Store, log *logrus.Logger, validateBasic BasicValidateFunc) *Cache {
	return &Cache{
		clock:          clk,
		store:          store,
		log:            log,
		validateBasic:  validateBasic,
		normal:         make(map[string]*JointData),
		unhandled:      make(map[string]*unhandledEntry),
		knownBad:       make(map[string]string),
		free:           make(map[string]*JointData),
		missingParents: make(map[string][]*JointData),
	}
}

// CheckNew reports why hash cannot be freshly submitted, or nil if it can
// (§4.1 check_new).
func (c *Cache) CheckNew(hash string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkNewLocked(hash)
}

func (c *Cache) checkNewLocked(hash string) error {
	if _, ok := c.normal[hash]; ok {
		return ErrAlreadyKnown
	}
	if _, ok := c.unhandled[hash]; ok {
		return ErrAlreadyUnhandled
	}
	if _, ok := c.knownBad[hash]; ok {
		return ErrKnownBad
	}
	if c.store != nil && c.store.HasJoint(hash) {
		return ErrAlreadyPersisted
	}
	return nil
}

// Get returns the cached record for hash, searching normal then unhandled.
func (c *Cache) Get(hash string) (*JointData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if jd, ok := c.normal[hash]; ok {
		return jd, true
	}
	if e, ok := c.unhandled[hash]; ok {
		return e.jd, true
	}
	return nil, false
}

// KnownBadReason returns the recorded error for a known-bad hash, if any.
func (c *Cache) KnownBadReason(hash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reason, ok := c.knownBad[hash]
	return reason, ok
}

// Submit is §4.1's submit operation: basic-validate, then register as
// unhandled and resolve parents, or fail straight into known-bad. It
// always places the joint in unhandled — per §2's data flow, ready
// validation and normalize happen only after parents are structurally
// complete, never at submit time — and reports via ready whether every
// parent is already resolved, so the caller can enqueue it for
// ready-validation immediately instead of waiting on a waiter wake-up.
func (c *Cache) Submit(j *Joint, peer string, now int64) (jd *JointData, ready bool, err error) {
	hash := j.Unit.UnitHash
	c.mu.Lock()
	if err := c.checkNewLocked(hash); err != nil {
		c.mu.Unlock()
		return nil, false, err
	}
	c.mu.Unlock()

	if err := c.validateBasic(j); err != nil {
		c.PurgeBad(hash, err)
		return nil, false, err
	}

	jd = newJointData(hash, j, now)
	jd.PeerID = peer

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock: a concurrent submit may have landed
	// between the unlock above and here.
	if err := c.checkNewLocked(hash); err != nil {
		return nil, false, err
	}

	parents := make([]*JointData, len(j.Unit.Parents))
	waiting := make(map[string]struct{})
	for i, p := range j.Unit.Parents {
		if pjd, ok := c.normal[p]; ok {
			parents[i] = pjd
			continue
		}
		if pe, ok := c.unhandled[p]; ok {
			parents[i] = pe.jd
			waiting[p] = struct{}{}
			continue
		}
		if c.store != nil && c.store.HasJoint(p) {
			// Persisted but not in memory: treated as resolved; the
			// business/mainchain layers read through the store for it.
			continue
		}
		waiting[p] = struct{}{}
	}
	jd.setParents(parents)

	c.unhandled[hash] = &unhandledEntry{jd: jd, addedAt: c.clock.Now(), waitingOn: waiting}
	for missing := range waiting {
		c.missingParents[missing] = append(c.missingParents[missing], jd)
	}
	return jd, len(waiting) == 0, nil
}

// Normalize moves hash from unhandled to normal once its ready-validation
// has succeeded (§4.1 normalize), links it into its parents' children
// lists, and wakes any waiters in missingParents[hash] whose own wait set
// is now empty, returning them for the caller to enqueue into
// ready-validation in turn.
func (c *Cache) Normalize(hash string) (woken []*JointData, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.unhandled[hash]
	if !ok {
		return nil, ErrMissingDependency
	}
	delete(c.unhandled, hash)
	c.normal[hash] = e.jd
	c.linkIntoParentsLocked(e.jd, e.jd.Parents())
	c.free[hash] = e.jd

	waiters := c.missingParents[hash]
	delete(c.missingParents, hash)
	for _, w := range waiters {
		if we, ok2 := c.unhandled[w.Hash]; ok2 {
			delete(we.waitingOn, hash)
			if len(we.waitingOn) == 0 {
				woken = append(woken, we.jd)
			}
		}
	}
	return woken, nil
}

func (c *Cache) linkIntoParentsLocked(jd *JointData, parents []*JointData) {
	for _, p := range parents {
		if p == nil {
			continue
		}
		p.AddChild(jd)
		delete(c.free, p.Hash)
	}
}

// PurgeBad is §4.1's purge_bad: record the error and cascade to every
// descendant transitively waiting on hash, none of which can ever become
// ready now.
func (c *Cache) PurgeBad(hash string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeBadLocked(hash, cause)
}

func (c *Cache) purgeBadLocked(hash string, cause error) {
	if _, already := c.knownBad[hash]; already {
		return
	}
	c.knownBad[hash] = cause.Error()
	delete(c.normal, hash)
	delete(c.free, hash)
	if e, ok := c.unhandled[hash]; ok {
		delete(c.unhandled, hash)
		_ = e
	}
	waiters := c.missingParents[hash]
	delete(c.missingParents, hash)
	for _, w := range waiters {
		c.purgeBadLocked(w.Hash, ErrMissingDependency)
	}
}

// PurgeOldUnhandled removes unhandled records whose age exceeds timeout,
// cascading to their waiters (§4.1, §5 default 120s).
func (c *Cache) PurgeOldUnhandled(timeout time.Duration) []string {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged []string
	for hash, e := range c.unhandled {
		if now.Sub(e.addedAt) >= timeout {
			purged = append(purged, hash)
		}
	}
	for _, hash := range purged {
		c.purgeBadLocked(hash, ErrMissingDependency)
	}
	return purged
}

// PurgeTempBadFree removes free joints that are TempBad and older than
// timeout, promoting now-childless parents back into the free set and
// recursing into parents that are themselves free-and-bad (§4.1, default
// 60s).
func (c *Cache) PurgeTempBadFree(timeout time.Duration) []string {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged []string
	var visit func(jd *JointData)
	visit = func(jd *JointData) {
		props := jd.Props()
		if props.Sequence != SeqTempBad {
			return
		}
		age := now.Sub(time.Unix(props.CreateTime, 0))
		if age < timeout {
			return
		}
		delete(c.normal, jd.Hash)
		delete(c.free, jd.Hash)
		purged = append(purged, jd.Hash)
		for _, p := range jd.Parents() {
			if p == nil {
				continue
			}
			p.ClearChild(jd)
			if p.HasNoLiveChildren() {
				c.free[p.Hash] = p
				visit(p)
			}
		}
	}
	for _, jd := range c.free {
		visit(jd)
	}
	return purged
}

// GetFreeGood performs the DFS of §4.1: a free joint is "good-free" if it
// is Good or witness-authored and all its children are bad; otherwise the
// search recurses into its parents.
func (c *Cache) GetFreeGood(witnesses *WitnessList) []*JointData {
	c.mu.RLock()
	roots := make([]*JointData, 0, len(c.free))
	for _, jd := range c.free {
		roots = append(roots, jd)
	}
	c.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*JointData
	var visit func(jd *JointData)
	visit = func(jd *JointData) {
		if jd == nil || seen[jd.Hash] {
			return
		}
		seen[jd.Hash] = true
		props := jd.Props()
		authoredByWitness := false
		for _, a := range jd.Joint.Unit.Authors {
			if witnesses != nil && witnesses.Contains(a.Address) {
				authoredByWitness = true
				break
			}
		}
		allChildrenBad := allBad(jd.Children())
		if (props.Sequence == SeqGood || authoredByWitness) && allChildrenBad {
			out = append(out, jd)
			return
		}
		for _, p := range jd.Parents() {
			visit(p)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

func allBad(joints []*JointData) bool {
	if len(joints) == 0 {
		return true
	}
	for _, j := range joints {
		seq := j.Props().Sequence
		if seq == SeqGood || seq == SeqTempBad {
			return false
		}
	}
	return true
}

// FreeHashes returns a snapshot of the current free-tip set, used by the
// peer layer to advertise free_joints_end.
func (c *Cache) FreeHashes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.free))
	for h := range c.free {
		out = append(out, h)
	}
	return out
}
