package core

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// hashTreeBatchSize is §8 scenario S6's "fetches hash-tree balls in
// batches of <=300".
const hashTreeBatchSize = 300

// ballCacheSize bounds the in-memory ball cache a catch-up session
// consults while verifying a hash-tree batch, independent of the store's
// own joint cache.
const ballCacheSize = 20000

// BallRecord is one entry of a hash-tree response: enough of a stable
// joint's shape to recompute its ball hash and confirm it chains to its
// declared parent/skiplist balls (§6 "ball = base64(sha256({unit,
// parent_balls?, skiplist_balls?, is_nonserial?}))").
type BallRecord struct {
	Unit          string
	Ball          string
	ParentBalls   []string
	SkiplistBalls []string
	IsNonserial   bool
	MCI           int64
}

// CatchupRequest is the `catchup` wire message (§6): what the requester
// already has, so the responder knows where to start.
type CatchupRequest struct {
	LastStableMCI int64
	LastKnownBall string
	Witnesses     []Address
}

// WitnessProof is the `catchup` response (§6, §8 S6): the last stable
// self-authored joint of each requested witness, plus the unstable
// main-chain segment above the responder's last stable point, sufficient
// for the requester to establish which witness addresses are currently
// authoritative without replaying the whole DAG.
type WitnessProof struct {
	WitnessJoints []*Joint
	UnstableMC    []*Joint
}

// PrepareWitnessProof gathers the witnesses' last stable self-authored
// joints from the store, plus every joint from the last stable point up to
// tip walked via best parents (the "unstable MC segment").
func PrepareWitnessProof(store Store, global *GlobalState, witnesses *WitnessList, tip *JointData) (*WitnessProof, error) {
	proof := &WitnessProof{}
	seen := map[string]bool{}
	for _, addr := range witnesses.Addresses() {
		unitHash, ok := global.LastStableSelfJoint(addr)
		if !ok {
			continue
		}
		if seen[unitHash] {
			continue
		}
		seen[unitHash] = true
		j, ok, err := store.GetJoint(unitHash)
		if err != nil {
			return nil, fmt.Errorf("core: load witness joint %s: %w", unitHash, err)
		}
		if !ok {
			continue
		}
		proof.WitnessJoints = append(proof.WitnessJoints, j)
	}

	for cur := tip; cur != nil && !cur.Props().IsStable; cur = cur.BestParent() {
		proof.UnstableMC = append(proof.UnstableMC, cur.Joint)
	}
	// Oldest first, matching the order a requester replays them in.
	sort.Slice(proof.UnstableMC, func(i, j int) bool {
		return proof.UnstableMC[i].Unit.Timestamp < proof.UnstableMC[j].Unit.Timestamp
	})
	return proof, nil
}

// ProcessWitnessProof verifies every joint in proof independently
// (signatures and content hash) and confirms at least a majority of the
// configured witnesses are represented. The checks run in an error group
// bounded to readyPoolSize; every check runs to completion and the first
// error is reported (§8 S6 "every ball recomputes exactly").
func ProcessWitnessProof(proof *WitnessProof, witnesses *WitnessList) error {
	all := append(append([]*Joint(nil), proof.WitnessJoints...), proof.UnstableMC...)

	var g errgroup.Group
	g.SetLimit(readyPoolSize)
	for _, j := range all {
		j := j
		g.Go(func() error { return verifyProofJoint(j) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: witness proof joint failed verification: %v", ErrCatchup, err)
	}

	present := map[Address]bool{}
	for _, j := range proof.WitnessJoints {
		for _, a := range j.Unit.Authors {
			if witnesses.Contains(a.Address) {
				present[a.Address] = true
			}
		}
	}
	if len(present) < MAJORITY {
		return fmt.Errorf("%w: witness proof covers only %d of %d required witnesses", ErrCatchup, len(present), MAJORITY)
	}
	return nil
}

func verifyProofJoint(j *Joint) error {
	u := j.Unit
	want := u.UnitHash
	got := (&u).ComputeHash()
	if want != "" && got != want {
		return fmt.Errorf("unit %s: hash mismatch", want)
	}
	payloadHash := SignedPayloadHash(&u)
	for _, a := range u.Authors {
		if a.Definition == nil {
			return fmt.Errorf("unit %s: author %s missing definition in proof", got, a.Address)
		}
		if Chash(a.Definition.CanonicalValue()) != a.Address {
			return fmt.Errorf("unit %s: definition does not hash to address", got)
		}
		for _, f := range a.Authentifiers {
			if !VerifyAuthentifier(payloadHash, a.Definition.PubKeyCompressed, f) {
				return fmt.Errorf("unit %s: signature verification failed", got)
			}
		}
	}
	return nil
}

// HashTreeRequest names the ball range a catch-up session still needs
// (§6 `get_hash_tree`).
type HashTreeRequest struct {
	SessionID uuid.UUID
	FromBall  string
	ToBall    string
}

// HashTreeResponse is one batch of at most hashTreeBatchSize balls,
// ordered by MCI then unit hash (the same total order stability assigns).
type HashTreeResponse struct {
	Balls   []BallRecord
	HasMore bool
}

// CatchupSession tracks one in-progress catch-up: the balls already
// verified and fetched, so a resumed session does not re-request them.
type CatchupSession struct {
	ID      uuid.UUID
	FromMCI int64
	ToMCI   int64

	mu     sync.Mutex
	cursor int64 // next MCI to serve
}

// CatchupManager serves hash-tree batches and tracks open sessions, backed
// by a bounded LRU of recently-served ball records so a record already
// assembled for one session is not reloaded from the store for another.
type CatchupManager struct {
	store Store

	mu       sync.Mutex
	sessions map[uuid.UUID]*CatchupSession
	ballCache *lru.Cache[string, BallRecord]
}

func NewCatchupManager(store Store) (*CatchupManager, error) {
	cache, err := lru.New[string, BallRecord](ballCacheSize)
	if err != nil {
		return nil, fmt.Errorf("core: new ball cache: %w", err)
	}
	return &CatchupManager{store: store, sessions: make(map[uuid.UUID]*CatchupSession), ballCache: cache}, nil
}

// OpenSession begins a new catch-up session spanning [fromMCI, toMCI].
func (m *CatchupManager) OpenSession(fromMCI, toMCI int64) *CatchupSession {
	s := &CatchupSession{ID: uuid.New(), FromMCI: fromMCI, ToMCI: toMCI, cursor: fromMCI}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *CatchupManager) CloseSession(id uuid.UUID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// NextBatch serves up to hashTreeBatchSize balls starting at the session's
// cursor, reading joints, their assigned properties and the balls stored on
// their parent and skiplist joints from the store. Each record carries the
// ball stored on the joint; NextBatch does not recompute it.
func (m *CatchupManager) NextBatch(sessionID uuid.UUID, hashesByMCI func(mci int64) ([]string, error)) (*HashTreeResponse, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown catch-up session", ErrCatchup)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &HashTreeResponse{}
	for ; s.cursor <= s.ToMCI && len(resp.Balls) < hashTreeBatchSize; s.cursor++ {
		hashes, err := hashesByMCI(s.cursor)
		if err != nil {
			return nil, fmt.Errorf("core: list mci %d: %w", s.cursor, err)
		}
		sort.Strings(hashes)
		for _, h := range hashes {
			if len(resp.Balls) >= hashTreeBatchSize {
				break
			}
			br, err := m.ballRecord(h)
			if err != nil {
				return nil, err
			}
			resp.Balls = append(resp.Balls, br)
		}
	}
	resp.HasMore = s.cursor <= s.ToMCI
	return resp, nil
}

func (m *CatchupManager) ballRecord(unitHash string) (BallRecord, error) {
	if br, ok := m.ballCache.Get(unitHash); ok {
		return br, nil
	}
	j, ok, err := m.store.GetJoint(unitHash)
	if err != nil {
		return BallRecord{}, fmt.Errorf("core: load joint %s: %w", unitHash, err)
	}
	if !ok {
		return BallRecord{}, fmt.Errorf("%w: joint %s not found for hash tree", ErrCatchup, unitHash)
	}
	p, ok, err := m.store.GetProperty(unitHash)
	if err != nil {
		return BallRecord{}, fmt.Errorf("core: load property %s: %w", unitHash, err)
	}
	if !ok {
		return BallRecord{}, fmt.Errorf("%w: joint %s has no assigned property", ErrCatchup, unitHash)
	}
	parentBalls := make([]string, 0, len(j.Unit.Parents))
	for _, parentHash := range j.Unit.Parents {
		pj, ok, err := m.store.GetJoint(parentHash)
		if err != nil {
			return BallRecord{}, fmt.Errorf("core: load parent joint %s: %w", parentHash, err)
		}
		if ok && pj.Ball != "" {
			parentBalls = append(parentBalls, pj.Ball)
		}
	}
	sort.Strings(parentBalls)

	skiplistBalls := make([]string, 0, len(j.SkiplistUnits))
	for _, skipHash := range j.SkiplistUnits {
		sj, ok, err := m.store.GetJoint(skipHash)
		if err != nil {
			return BallRecord{}, fmt.Errorf("core: load skiplist joint %s: %w", skipHash, err)
		}
		if ok && sj.Ball != "" {
			skiplistBalls = append(skiplistBalls, sj.Ball)
		}
	}
	sort.Strings(skiplistBalls)

	isNonserial := p.Sequence == SeqNonserialBad
	br := BallRecord{
		Unit:          unitHash,
		Ball:          j.Ball,
		ParentBalls:   parentBalls,
		SkiplistBalls: skiplistBalls,
		IsNonserial:   isNonserial,
		MCI:           p.MCI,
	}
	m.ballCache.Add(unitHash, br)
	return br, nil
}

// VerifyHashTreeBatch recomputes every ball in resp and confirms it
// matches the recorded hash, concurrently bounded by an error group
// (§8 S6 "every ball recomputes exactly").
func VerifyHashTreeBatch(resp *HashTreeResponse) error {
	var g errgroup.Group
	g.SetLimit(readyPoolSize)
	for _, br := range resp.Balls {
		br := br
		g.Go(func() error {
			want := BallHash(br.Unit, br.ParentBalls, br.SkiplistBalls, br.IsNonserial)
			if want != br.Ball {
				return fmt.Errorf("ball for unit %s recomputes to %s, expected %s", br.Unit, want, br.Ball)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrCatchup, err)
	}
	return nil
}
