package core

import (
	"fmt"
	"sort"
	"sync"
)

// UtxoKey identifies one unspent output (§4.4).
type UtxoKey struct {
	Unit         string
	MessageIndex int
	OutputIndex  int
	Amount       int64
}

// UtxoData is the minimal record kept per output: the MCI it was created
// at, used for "referenced unit must be before last-ball" checks.
type UtxoData struct {
	Address Address
	MCI     int64
}

// UTXOState is one of the two UTXO views maintained by the business layer
// (§4.4): stable (committed) or temp (speculative). One reader/writer lock
// per instance, per §5.
type UTXOState struct {
	mu   sync.RWMutex
	sets map[Address]map[UtxoKey]UtxoData
}

func NewUTXOState() *UTXOState {
	return &UTXOState{sets: make(map[Address]map[UtxoKey]UtxoData)}
}

func (s *UTXOState) AddOutput(addr Address, key UtxoKey, mci int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sets[addr]
	if !ok {
		m = make(map[UtxoKey]UtxoData)
		s.sets[addr] = m
	}
	m[key] = UtxoData{Address: addr, MCI: mci}
}

func (s *UTXOState) RemoveOutput(addr Address, key UtxoKey) (UtxoData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sets[addr]
	if !ok {
		return UtxoData{}, false
	}
	d, ok := m[key]
	if ok {
		delete(m, key)
	}
	return d, ok
}

func (s *UTXOState) Has(addr Address, key UtxoKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sets[addr]
	if !ok {
		return false
	}
	_, ok = m[key]
	return ok
}

// Outputs returns every unspent output owned by addr, for light-client
// input selection (§9 "Light client HTTP API").
func (s *UTXOState) Outputs(addr Address) []UtxoKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UtxoKey, 0, len(s.sets[addr]))
	for k := range s.sets[addr] {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		if out[i].MessageIndex != out[j].MessageIndex {
			return out[i].MessageIndex < out[j].MessageIndex
		}
		return out[i].OutputIndex < out[j].OutputIndex
	})
	return out
}

// Balance sums every unspent output owned by addr (§8.7 "balance(A,m) >= 0").
func (s *UTXOState) Balance(addr Address) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for k := range s.sets[addr] {
		total += k.Amount
	}
	return total
}

// GlobalState tracks, per address, the last Good stable self-authored
// joint and the set of stable joints that paid that address since — the
// acceleration structures named in §4.4 "Commission and balance".
type GlobalState struct {
	mu                  sync.RWMutex
	lastStableSelfJoint map[Address]string
	relatedJoints       map[Address][]string
}

func NewGlobalState() *GlobalState {
	return &GlobalState{
		lastStableSelfJoint: make(map[Address]string),
		relatedJoints:       make(map[Address][]string),
	}
}

func (g *GlobalState) LastStableSelfJoint(addr Address) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	u, ok := g.lastStableSelfJoint[addr]
	return u, ok
}

func (g *GlobalState) UpdateSelfJoint(addr Address, unit string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastStableSelfJoint[addr] = unit
}

func (g *GlobalState) AddRelated(addr Address, unit string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relatedJoints[addr] = append(g.relatedJoints[addr], unit)
}

func (g *GlobalState) RelatedJoints(addr Address) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.relatedJoints[addr]...)
}

// RemoveRelated drops one consumed entry from addr's related-joints list,
// called once that entry has been folded into the receiving address's own
// next self-joint (§4.4 "Commission and balance").
func (g *GlobalState) RemoveRelated(addr Address, unit string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.relatedJoints[addr]
	for i, u := range list {
		if u == unit {
			g.relatedJoints[addr] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// BusinessConfig carries genesis parameters the payment contract checks
// against (§4.4 "issue... amount == cap").
type BusinessConfig struct {
	IssueCap       int64
	GenesisUnit    string
}

// BusinessLedger is the UTXO + text + data-feed business layer (§4.4).
type BusinessLedger struct {
	cfg    BusinessConfig
	Stable *UTXOState
	Temp   *UTXOState
	Global *GlobalState

	mu               sync.Mutex
	pendingByAuthor  map[Address][]*JointData
	issuedSerials    map[Address]map[int64]bool
}

func NewBusinessLedger(cfg BusinessConfig) *BusinessLedger {
	return &BusinessLedger{
		cfg:             cfg,
		Stable:          NewUTXOState(),
		Temp:            NewUTXOState(),
		Global:          NewGlobalState(),
		pendingByAuthor: make(map[Address][]*JointData),
		issuedSerials:   make(map[Address]map[int64]bool),
	}
}

// CheckAndApplyUnstable is §4.4's "Ready-joint business check
// (validate_unstable)": it runs against the temp state; on success the
// temp state is updated and Good is returned, on a business conflict
// TempBad is returned (not an error — the joint is structurally fine, just
// not presently spendable), and on a non-serial conflict with another
// pending same-author joint NonserialBad is returned.
func (bl *BusinessLedger) CheckAndApplyUnstable(jd *JointData) (JointSequence, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	u := &jd.Joint.Unit
	for _, a := range u.Authors {
		for _, other := range bl.pendingByAuthor[a.Address] {
			if other == jd {
				continue
			}
			if !isAncestor(other, jd) && !isAncestor(jd, other) {
				return SeqNonserialBad, nil
			}
		}
	}

	for msgIdx, m := range u.Messages {
		switch m.App {
		case AppPayment:
			ok, err := bl.applyPaymentToTemp(jd.Hash, msgIdx, m.Payment, u.HeadersCommission, u.PayloadCommission)
			if err != nil {
				return SeqTempBad, nil //nolint:nilerr // business conflict, not a hard error
			}
			if !ok {
				return SeqTempBad, nil
			}
		case AppDataFeed:
			if err := validateDataFeedShape(m.DataFeed); err != nil {
				return SeqTempBad, nil
			}
		}
	}

	for _, a := range u.Authors {
		bl.pendingByAuthor[a.Address] = append(bl.pendingByAuthor[a.Address], jd)
	}
	return SeqGood, nil
}

func validateDataFeedShape(df map[string]DataFeedValue) error {
	for k, v := range df {
		if len(k) > 64 {
			return fmt.Errorf("%w: data_feed key too long", ErrMalformed)
		}
		if !v.IsInt && len(v.Str) > 64 {
			return fmt.Errorf("%w: data_feed value too long", ErrMalformed)
		}
	}
	return nil
}

// applyPaymentToTemp implements the payment contract of §4.4 against the
// temp state: duplicate-input detection, before-last-ball checks (skipped
// here since the temp state has no notion of "before" — that bound is
// enforced at stable-apply time using MCI), and input/output conservation.
func (bl *BusinessLedger) applyPaymentToTemp(unit string, msgIdx int, p *PaymentPayload, headersFee, payloadFee int64) (bool, error) {
	return bl.applyPayment(bl.Temp, unit, msgIdx, p, headersFee, payloadFee, -1)
}

// applyPayment is shared by the temp and stable apply paths. lastBallMCI<0
// disables the before-last-ball bound (used for the temp/speculative path,
// which has no stable MCI yet to compare against).
func (bl *BusinessLedger) applyPayment(state *UTXOState, unit string, msgIdx int, p *PaymentPayload, headersFee, payloadFee int64, lastBallMCI int64) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("%w: nil payment payload", ErrMalformed)
	}
	var sumIn, sumOut int64
	type removal struct {
		addr Address
		key  UtxoKey
	}
	var removals []removal
	seenIssue := map[Address]bool{}

	for outIdx, in := range p.Inputs {
		switch in.Kind {
		case InputIssue:
			if unit != bl.cfg.GenesisUnit {
				return false, fmt.Errorf("%w: issue input outside genesis", ErrMalformed)
			}
			if in.SerialNumber != 1 || in.Amount != bl.cfg.IssueCap {
				return false, fmt.Errorf("%w: bad issue input", ErrMalformed)
			}
			if seenIssue[in.Address] {
				return false, fmt.Errorf("%w: duplicate issue input", ErrMalformed)
			}
			seenIssue[in.Address] = true
			sumIn += in.Amount
		default: // transfer
			key, data, ok := findUtxoByRef(state, in.Unit, in.MessageIndex, in.OutputIndex)
			if !ok {
				return false, nil
			}
			if lastBallMCI >= 0 && data.MCI > lastBallMCI {
				return false, fmt.Errorf("%w: referenced output not before last ball", ErrMalformed)
			}
			removals = append(removals, removal{addr: data.Address, key: key})
			sumIn += key.Amount
		}
		_ = outIdx
	}

	for _, o := range p.Outputs {
		sumOut += o.Amount
	}
	if sumIn != sumOut+headersFee+payloadFee {
		return false, fmt.Errorf("%w: input/output conservation violated", ErrMalformed)
	}

	for _, r := range removals {
		if _, ok := state.RemoveOutput(r.addr, r.key); !ok {
			return false, nil // spent concurrently; treat as business conflict
		}
	}
	for outIdx, o := range p.Outputs {
		key := UtxoKey{Unit: unit, MessageIndex: msgIdx, OutputIndex: outIdx, Amount: o.Amount}
		mci := lastBallMCI
		if mci < 0 {
			mci = 0
		}
		state.AddOutput(o.Address, key, mci)
	}
	return true, nil
}

// findUtxoByRef locates the full key (which embeds the amount) for an
// input reference that only names (unit, message-index, output-index);
// the amount is intrinsic to the output being spent, not the reference.
func findUtxoByRef(state *UTXOState, unit string, msgIdx, outIdx int) (UtxoKey, UtxoData, bool) {
	state.mu.RLock()
	defer state.mu.RUnlock()
	for addr, m := range state.sets {
		for k, d := range m {
			if k.Unit == unit && k.MessageIndex == msgIdx && k.OutputIndex == outIdx {
				d.Address = addr
				return k, d, true
			}
		}
	}
	return UtxoKey{}, UtxoData{}, false
}

// RevertTemp is §4.4's "Revert (temp only)": the inverse of applying a
// message, used when a previously Good unstable joint turns out FinalBad
// at stability.
func (bl *BusinessLedger) RevertTemp(jd *JointData) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	u := &jd.Joint.Unit
	for msgIdx, m := range u.Messages {
		if m.App != AppPayment || m.Payment == nil {
			continue
		}
		for outIdx, o := range m.Payment.Outputs {
			key := UtxoKey{Unit: jd.Hash, MessageIndex: msgIdx, OutputIndex: outIdx, Amount: o.Amount}
			bl.Temp.RemoveOutput(o.Address, key)
		}
		for _, in := range m.Payment.Inputs {
			if in.Kind == InputIssue {
				continue
			}
			// Restoring the exact original owner/amount requires the
			// referenced output; callers that reach this path already
			// hold it via the stable state, which never removed it.
			if key, d, ok := findUtxoByRef(bl.Stable, in.Unit, in.MessageIndex, in.OutputIndex); ok {
				bl.Temp.AddOutput(d.Address, key, d.MCI)
			}
		}
	}
	for _, a := range u.Authors {
		bl.removePending(a.Address, jd)
	}
}

func (bl *BusinessLedger) removePending(addr Address, jd *JointData) {
	list := bl.pendingByAuthor[addr]
	for i, x := range list {
		if x == jd {
			bl.pendingByAuthor[addr] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// ApplyStable is §4.4's "Stable business check": re-run the contract
// against the stable state; on success update stable UTXOs, balances and
// the GlobalState bookkeeping and return Good; on failure return FinalBad
// (the caller is responsible for reverting any prior temp application).
func (bl *BusinessLedger) ApplyStable(jd *JointData, lastBallMCI int64) (JointSequence, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	u := &jd.Joint.Unit

	// Snapshot each author's balance before this joint's own outputs land,
	// so the joint's balance property (§4.4) reflects what remained with
	// the payer, not what a same-unit refund already restored.
	preBalances := make(map[Address]int64, len(u.Authors))
	for _, a := range u.Authors {
		preBalances[a.Address] = bl.Stable.Balance(a.Address)
	}

	for msgIdx, m := range u.Messages {
		if m.App != AppPayment {
			continue
		}
		ok, err := bl.applyPayment(bl.Stable, jd.Hash, msgIdx, m.Payment, u.HeadersCommission, u.PayloadCommission, lastBallMCI)
		if err != nil || !ok {
			return SeqFinalBad, nil
		}
	}

	for _, a := range u.Authors {
		var nonSelf int64
		for _, m := range u.Messages {
			if m.App != AppPayment || m.Payment == nil {
				continue
			}
			for _, o := range m.Payment.Outputs {
				if o.Address != a.Address {
					nonSelf += o.Amount
				}
			}
		}
		balance := preBalances[a.Address] - nonSelf - u.HeadersCommission - u.PayloadCommission

		prevSelf, _ := bl.Global.LastStableSelfJoint(a.Address)
		related := bl.Global.RelatedJoints(a.Address)
		for _, ru := range related {
			bl.Global.RemoveRelated(a.Address, ru)
		}

		jd.MutateProps(func(p *JointProperty) {
			p.Balance = balance
			p.PrevStableSelfUnit = prevSelf
			p.RelatedUnits = related
		})

		bl.Global.UpdateSelfJoint(a.Address, jd.Hash)
		bl.removePending(a.Address, jd)
	}
	for _, m := range u.Messages {
		if m.App != AppPayment || m.Payment == nil {
			continue
		}
		for _, o := range m.Payment.Outputs {
			if _, isAuthor := preBalances[o.Address]; isAuthor {
				continue
			}
			bl.Global.AddRelated(o.Address, jd.Hash)
		}
	}
	return SeqGood, nil
}
