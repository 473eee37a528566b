package core

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// StabilityEvent is MciStable(mci) (§4.3), emitted in MCI order.
type StabilityEvent struct {
	MCI int64
}

// precedenceCompare orders two parent candidates by (−wl, +level, +hash)
// (§4.3): it returns <0 if a should be preferred over b as best parent,
// >0 if b should be preferred, 0 if equal.
func precedenceCompare(a, b *JointData) int {
	pa, pb := a.Props(), b.Props()
	if pa.WL.LessForPrecedence(pb.WL) {
		return 1
	}
	if pb.WL.LessForPrecedence(pa.WL) {
		return -1
	}
	if pa.Level.LessForPrecedence(pb.Level) {
		return -1
	}
	if pb.Level.LessForPrecedence(pa.Level) {
		return 1
	}
	if a.Hash < b.Hash {
		return -1
	}
	if a.Hash > b.Hash {
		return 1
	}
	return 0
}

// FindBestParent returns the precedence-smallest (most preferred) parent.
func FindBestParent(parents []*JointData) *JointData {
	var best *JointData
	for _, p := range parents {
		if p == nil {
			continue
		}
		if best == nil || precedenceCompare(p, best) < 0 {
			best = p
		}
	}
	return best
}

// ComputeLevel is level = 1 + max(parent levels), or 0 for genesis (§3
// invariant 3).
func ComputeLevel(parents []*JointData) Level {
	if len(parents) == 0 {
		return ZeroLevel
	}
	max := InvalidLevel
	for _, p := range parents {
		max = MaxLevel(max, p.Props().Level)
	}
	return max.Add(1)
}

// ComputeWitnessedLevel walks best-parent ancestors from jd collecting
// distinct witness addresses until MAJORITY are seen, per §4.3: the
// stopping ancestor's own level is jd's witnessed level, and that
// ancestor's own witnessed level is jd's minimum witnessed level.
func ComputeWitnessedLevel(jd *JointData, witnesses *WitnessList) (wl, minWL Level) {
	collected := make(map[Address]struct{}, MAJORITY)
	cur := jd.BestParent()
	for cur != nil {
		for _, a := range cur.Joint.Unit.Authors {
			if witnesses.Contains(a.Address) {
				collected[a.Address] = struct{}{}
			}
		}
		if len(collected) >= MAJORITY {
			return cur.Props().Level, cur.Props().WL
		}
		cur = cur.BestParent()
	}
	return InvalidLevel, InvalidLevel
}

// MainChainEngine computes best parents, witnessed levels, and promotes
// joints to stable (§4.3). It is the single consumer of the main-chain
// worker stage (§5).
type MainChainEngine struct {
	witnesses *WitnessList
	store     Store
	log       *logrus.Logger
	instr     Instrumentation

	businessQueue chan<- *JointData
	events        chan<- StabilityEvent

	mu         sync.Mutex
	lastStable *JointData
}

// NewMainChainEngine wires the engine to its downstream business queue and
// stability-event sink.
func NewMainChainEngine(witnesses *WitnessList, store Store, businessQueue chan<- *JointData, events chan<- StabilityEvent, log *logrus.Logger, instr Instrumentation) *MainChainEngine {
	return &MainChainEngine{witnesses: witnesses, store: store, businessQueue: businessQueue, events: events, log: log, instr: instr}
}

// SetLastStable seeds the engine's notion of the current stable tip, used
// once at startup after replay (§9).
func (e *MainChainEngine) SetLastStable(jd *JointData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastStable = jd
}

func (e *MainChainEngine) LastStable() *JointData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStable
}

// mainChainChildTowards walks end's best-parent chain back to lastStable
// and returns the immediate child of lastStable on that path, i.e. the
// current unstable main-chain child (§4.3 "the immediate main-chain child
// of S").
func mainChainChildTowards(lastStable, end *JointData) *JointData {
	if lastStable == nil || end == nil {
		return nil
	}
	var prev *JointData
	cur := end
	for cur != nil {
		if cur == lastStable {
			return prev
		}
		prev = cur
		cur = cur.BestParent()
	}
	return nil
}

// calcMaxAltLevel implements §4.3 step 1: a fast dominant-branch scan
// followed, only if it cannot resolve the question on its own, by a
// precise ancestor-of-end check.
func (e *MainChainEngine) calcMaxAltLevel(stablePoint, end, mcChild *JointData) Level {
	base := stablePoint.Props().Level
	var candidates []*JointData
	visited := map[string]bool{stablePoint.Hash: true}
	var walk func(n *JointData)
	walk = func(n *JointData) {
		for _, c := range n.Children() {
			if c == mcChild || visited[c.Hash] {
				continue
			}
			visited[c.Hash] = true
			if c.Props().Level.Valid() && end.Props().Level.Valid() && c.Props().Level < end.Props().Level && c.Props().IsWLIncreased {
				candidates = append(candidates, c)
			}
			walk(c)
		}
	}
	walk(stablePoint)

	fastMax := base
	for _, c := range candidates {
		if c.Props().Level > fastMax {
			fastMax = c.Props().Level
		}
	}
	if end.Props().MinWL.Valid() && end.Props().MinWL > fastMax {
		return fastMax
	}

	ancestors := ancestorSetDownTo(end, base)
	preciseMax := base
	for _, c := range candidates {
		if ancestors[c.Hash] && c.Props().Level > preciseMax {
			preciseMax = c.Props().Level
		}
	}
	return preciseMax
}

// ancestorSetDownTo BFS-collects jd and its ancestors via ALL parent edges
// (not just best-parent), expanding only nodes whose level is above floor;
// the first nodes reached at or below floor are collected but not expanded.
func ancestorSetDownTo(jd *JointData, floor Level) map[string]bool {
	seen := map[string]bool{}
	queue := []*JointData{jd}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.Hash] {
			continue
		}
		seen[n.Hash] = true
		if n.Props().Level.Valid() && floor.Valid() && n.Props().Level <= floor {
			continue
		}
		queue = append(queue, n.Parents()...)
	}
	return seen
}

// OnReadyJoint is fed every joint whose min_wl increased (§5, the
// main-chain worker's input filter). It evaluates and, in a loop, applies
// the stability rule of §4.3.
func (e *MainChainEngine) OnReadyJoint(end *JointData) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.lastStable == nil {
			return nil
		}
		endProps := end.Props()
		if !endProps.IsMinWLIncreased || !endProps.MinWL.Valid() {
			return nil
		}
		if !(endProps.MinWL > e.lastStable.Props().Level) {
			return nil
		}
		mc := mainChainChildTowards(e.lastStable, end)
		if mc == nil {
			return nil
		}
		maxAlt := e.calcMaxAltLevel(e.lastStable, end, mc)
		if !(endProps.MinWL > maxAlt) {
			return nil
		}
		if err := e.markStable(mc); err != nil {
			return err
		}
		e.lastStable = mc
	}
}

// markStable implements the §4.3 "when a joint is marked stable" steps:
// gather its so-far-unstable ancestors, order them deterministically, and
// assign mci/sub_mci/limci/is_stable to the whole batch in one step.
func (e *MainChainEngine) markStable(mc *JointData) error {
	newMCI := e.lastStable.Props().MCI + 1

	var unstable []*JointData
	seen := map[string]bool{}
	var walk func(n *JointData)
	walk = func(n *JointData) {
		if seen[n.Hash] || n.Props().IsStable {
			return
		}
		seen[n.Hash] = true
		for _, p := range n.Parents() {
			walk(p)
		}
		unstable = append(unstable, n)
	}
	walk(mc)

	sort.Slice(unstable, func(i, j int) bool {
		li, lj := unstable[i].Props().Level, unstable[j].Props().Level
		if li != lj {
			return li < lj
		}
		return unstable[i].Hash < unstable[j].Hash
	})

	for idx, a := range unstable {
		limci := NoMCI
		for _, p := range a.Parents() {
			if p.Props().LIMCI > limci {
				limci = p.Props().LIMCI
			}
		}
		isMC := a == mc
		a.MutateProps(func(p *JointProperty) {
			p.MCI = newMCI
			p.SubMCI = int64(idx)
			p.IsStable = true
			if isMC {
				p.LIMCI = newMCI
			} else if limci != NoMCI {
				p.LIMCI = limci
			} else {
				p.LIMCI = newMCI
			}
		})

		// unstable is ordered by ascending level, so every parent of a has
		// already had its ball assigned in this loop (or in an earlier
		// batch) by the time a itself is reached.
		var parentBalls []string
		for _, p := range a.Parents() {
			if p.Joint.Ball != "" {
				parentBalls = append(parentBalls, p.Joint.Ball)
			}
		}
		sort.Strings(parentBalls)
		var skiplistBalls []string
		for _, su := range a.Joint.SkiplistUnits {
			// Skiplist targets are always already-stable decade boundaries
			// (enforced at ready-validation time), so their ball is on disk.
			if e.store == nil {
				continue
			}
			if sj, ok, err := e.store.GetJoint(su); err == nil && ok && sj.Ball != "" {
				skiplistBalls = append(skiplistBalls, sj.Ball)
			}
		}
		sort.Strings(skiplistBalls)
		a.Joint.Ball = BallHash(a.Hash, parentBalls, skiplistBalls, a.Props().Sequence == SeqNonserialBad)
	}

	if e.store != nil {
		if err := e.store.SaveLastMCI(newMCI); err != nil {
			return err
		}
	}
	if e.events != nil {
		e.events <- StabilityEvent{MCI: newMCI}
	}
	if e.instr != nil {
		e.instr.ObserveStableMCI(newMCI)
	}
	for _, a := range unstable {
		if e.businessQueue != nil {
			e.businessQueue <- a
		}
	}
	return nil
}

// IsStableToJoint answers §4.3's relative-stability query, used by
// last-ball validation (§4.2): earlier must be at-or-before the stable
// point on the main chain, or reachable from tip via best parents down to
// the stable point, and the branch-bound inequality must then hold
// somewhere along that walk at or above earlier's level.
func (e *MainChainEngine) IsStableToJoint(earlier, tip *JointData) bool {
	e.mu.Lock()
	sp := e.lastStable
	e.mu.Unlock()
	if sp == nil {
		return false
	}
	if earlier.Props().IsOnMainChain() && earlier.Props().MCI != NoMCI && earlier.Props().MCI <= sp.Props().MCI {
		return true
	}

	reached := false
	for cur := tip; cur != nil; cur = cur.BestParent() {
		if cur == earlier {
			reached = true
			break
		}
		if cur == sp {
			break
		}
	}
	if !reached {
		return false
	}

	for cur := tip; cur != nil; cur = cur.BestParent() {
		p := cur.Props()
		if p.IsMinWLIncreased && p.MinWL.Valid() && earlier.Props().Level.Valid() && p.MinWL >= earlier.Props().Level {
			mc := mainChainChildTowards(sp, cur)
			if mc == nil {
				mc = cur
			}
			if p.MinWL > e.calcMaxAltLevel(sp, cur, mc) {
				return true
			}
		}
		if cur == sp {
			break
		}
	}
	return false
}
