package core

import (
	"fmt"
	"sort"
	"sync"
)

// DefinitionRegistry remembers the first definition ever recorded for an
// address (§9 Open Question (a): "source stores the first definition
// only" — this implementation follows that and documents it in
// DESIGN.md rather than letting a later definition silently override
// an author's signature-verification key).
type DefinitionRegistry struct {
	mu    sync.RWMutex
	defs  map[Address]Definition
}

func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{defs: make(map[Address]Definition)}
}

// RecordFirst stores def for addr only if no definition is already known.
func (r *DefinitionRegistry) RecordFirst(addr Address, def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[addr]; !ok {
		r.defs[addr] = def
	}
}

func (r *DefinitionRegistry) Get(addr Address) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[addr]
	return d, ok
}

// ReadyValidator runs §4.2's "ready validation": the structural checks
// that require every parent (and the last-ball unit) to already be
// resolved in the cache. Business-rule outcomes (Good/TempBad/NonserialBad)
// are decided afterwards by the business layer, not here.
type ReadyValidator struct {
	cfg       ValidationConfig
	witnesses *WitnessList
	cache     *Cache
	mainChain *MainChainEngine
	defs      *DefinitionRegistry
}

func NewReadyValidator(cfg ValidationConfig, witnesses *WitnessList, cache *Cache, mc *MainChainEngine, defs *DefinitionRegistry) *ReadyValidator {
	return &ReadyValidator{cfg: cfg, witnesses: witnesses, cache: cache, mainChain: mc, defs: defs}
}

// Validate runs every structural ready-validation rule and, on success,
// publishes level/best-parent/witnessed-level properties onto jd.
func (rv *ReadyValidator) Validate(jd *JointData) error {
	u := &jd.Joint.Unit
	parents := jd.Parents()
	best := FindBestParent(parents)

	if !u.IsGenesis() {
		if err := rv.checkParentConstraints(u, parents); err != nil {
			return err
		}
		if err := rv.checkLastBall(u, parents, best); err != nil {
			return err
		}
		if err := rv.checkSkiplist(jd.Joint); err != nil {
			return err
		}
		if err := rv.checkWitnesses(u); err != nil {
			return err
		}
	}
	if err := rv.checkAuthors(u); err != nil {
		return err
	}

	level := ComputeLevel(parents)
	jd.SetBestParent(best)

	wl, minWL := ComputeWitnessedLevel(jd, rv.witnesses)
	wlIncreased := false
	minWLIncreased := false
	if best != nil {
		bp := best.Props()
		wlIncreased = !bp.WL.Valid() || (wl.Valid() && wl > bp.WL)
		minWLIncreased = !bp.MinWL.Valid() || (minWL.Valid() && minWL > bp.MinWL)
	} else {
		wlIncreased = wl.Valid()
		minWLIncreased = minWL.Valid()
	}

	bestParentUnit := ""
	if best != nil {
		bestParentUnit = best.Hash
	}
	jd.MutateProps(func(p *JointProperty) {
		p.Level = level
		p.BestParentUnit = bestParentUnit
		p.WL = wl
		p.MinWL = minWL
		p.IsWLIncreased = wlIncreased
		p.IsMinWLIncreased = minWLIncreased
	})
	return nil
}

func (rv *ReadyValidator) checkParentConstraints(u *Unit, parents []*JointData) error {
	seenAuthors := map[Address]bool{}
	for i, p := range parents {
		if p == nil {
			return fmt.Errorf("%w: unresolved parent at ready time", ErrMissingDependency)
		}
		for _, a := range p.Joint.Unit.Authors {
			if seenAuthors[a.Address] {
				return fmt.Errorf("%w: two parents share an author", ErrMalformed)
			}
			seenAuthors[a.Address] = true
		}
		for j, q := range parents {
			if i == j || q == nil {
				continue
			}
			if isAncestor(q, p) {
				return fmt.Errorf("%w: parent %s includes parent %s", ErrMalformed, p.Hash, q.Hash)
			}
		}
	}
	anyBall, allBall := false, true
	for _, p := range parents {
		if p.Joint.Ball != "" {
			anyBall = true
		} else {
			allBall = false
		}
	}
	if anyBall && !allBall {
		return fmt.Errorf("%w: ball presence must propagate to all parents", ErrMalformed)
	}
	_ = u
	return nil
}

// isAncestor reports whether anc is reachable from start via any parent
// path (§4.2 "no include-relationship").
func isAncestor(anc, start *JointData) bool {
	if anc == start {
		return false
	}
	seen := map[string]bool{}
	queue := []*JointData{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n.Hash] {
			continue
		}
		seen[n.Hash] = true
		for _, p := range n.Parents() {
			if p == anc {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}

// checkLastBall enforces §4.2's "last_ball_unit must be stable in the view
// of these parents" via the relative-stability query of §4.3
// (MainChainEngine.IsStableToJoint), rather than the unit's own absolute
// is_stable flag: a unit earlier than the globally-stable point is always
// fine, but a unit that has only just become determinable-stable from this
// joint's own branch must be confirmed through the best parent's view.
func (rv *ReadyValidator) checkLastBall(u *Unit, parents []*JointData, best *JointData) error {
	lb, ok := rv.cache.Get(u.LastBallUnit)
	if !ok {
		return fmt.Errorf("%w: last_ball_unit not in cache", ErrMissingDependency)
	}
	lbProps := lb.Props()
	if !lbProps.IsOnMainChain() {
		return fmt.Errorf("%w: last_ball_unit not on main chain", ErrMalformed)
	}
	if best == nil || !rv.mainChain.IsStableToJoint(lb, best) {
		return fmt.Errorf("%w: last_ball_unit not stable in the view of these parents", ErrMalformed)
	}
	if lb.Joint.Ball != u.LastBall {
		return fmt.Errorf("%w: last_ball does not match referenced unit's ball", ErrMalformed)
	}
	for _, p := range parents {
		pLBU, ok := rv.cache.Get(p.Joint.Unit.LastBallUnit)
		if !ok {
			continue
		}
		if pLBU.Props().MCI > lbProps.MCI {
			return fmt.Errorf("%w: last_ball_mci retreats relative to a parent", ErrMalformed)
		}
	}
	return nil
}

func (rv *ReadyValidator) checkSkiplist(j *Joint) error {
	if len(j.SkiplistUnits) == 0 {
		return nil
	}
	if !sort.StringsAreSorted(j.SkiplistUnits) {
		return fmt.Errorf("%w: skiplist not sorted", ErrMalformed)
	}
	for i := 1; i < len(j.SkiplistUnits); i++ {
		if j.SkiplistUnits[i] == j.SkiplistUnits[i-1] {
			return fmt.Errorf("%w: duplicate skiplist unit", ErrMalformed)
		}
	}
	for _, su := range j.SkiplistUnits {
		sjd, ok := rv.cache.Get(su)
		if !ok {
			return fmt.Errorf("%w: skiplist unit not in cache", ErrMissingDependency)
		}
		p := sjd.Props()
		if !p.IsStable || !p.IsOnMainChain() || p.MCI%10 != 0 {
			return fmt.Errorf("%w: skiplist unit not a valid decade boundary", ErrMalformed)
		}
	}
	return nil
}

func (rv *ReadyValidator) checkWitnesses(u *Unit) error {
	if len(u.Witnesses) > 0 {
		wl, err := NewWitnessList(u.Witnesses)
		if err != nil {
			return fmt.Errorf("%w: inline witness list invalid", ErrMalformed)
		}
		_ = wl
		return nil
	}
	if u.WitnessListUnit == "" {
		return fmt.Errorf("%w: no witness source", ErrMalformed)
	}
	wlu, ok := rv.cache.Get(u.WitnessListUnit)
	if !ok {
		return fmt.Errorf("%w: witness_list_unit not in cache", ErrMissingDependency)
	}
	p := wlu.Props()
	if !p.IsStable || p.Sequence != SeqGood {
		return fmt.Errorf("%w: witness_list_unit not stable good", ErrMalformed)
	}
	lb, ok := rv.cache.Get(u.LastBallUnit)
	if ok && p.MCI > lb.Props().MCI {
		return fmt.Errorf("%w: witness_list_unit mci exceeds last_ball_mci", ErrMalformed)
	}
	if len(wlu.Joint.Unit.Witnesses) != WitnessCount {
		return fmt.Errorf("%w: witness_list_unit does not carry 12 witnesses", ErrMalformed)
	}
	return nil
}

func (rv *ReadyValidator) checkAuthors(u *Unit) error {
	payloadHash := SignedPayloadHash(u)
	for _, a := range u.Authors {
		def := a.Definition
		if def != nil {
			if Chash(def.CanonicalValue()) != a.Address {
				return fmt.Errorf("%w: definition does not hash to author address", ErrMalformed)
			}
			rv.defs.RecordFirst(a.Address, *def)
		} else {
			d, ok := rv.defs.Get(a.Address)
			if !ok {
				return fmt.Errorf("%w: no prior definition recorded for author", ErrMalformed)
			}
			def = &d
		}
		if len(a.Authentifiers) == 0 {
			return fmt.Errorf("%w: author has no authentifiers", ErrMalformed)
		}
		for _, f := range a.Authentifiers {
			if !VerifyAuthentifier(payloadHash, def.PubKeyCompressed, f) {
				return fmt.Errorf("%w: signature verification failed", ErrMalformed)
			}
		}
	}
	return nil
}
