package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"dagledger/core"
	"dagledger/p2p"
)

const (
	topicCatchup      = "catchup"
	topicWitnessProof = "witness_proof"
	topicGetHashTree  = "get_hash_tree"
	topicHashTree     = "hash_tree"
)

// RunCatchupResponder subscribes to the catchup/get_hash_tree topics and
// serves a joining peer's requests from the local core.CatchupManager
// (§4.5, §8 S6), replying on the witness_proof/hash_tree topics.
func (b *Bootstrap) RunCatchupResponder(ctx context.Context) error {
	reqCh, err := b.Node.Subscribe(topicCatchup)
	if err != nil {
		return fmt.Errorf("node: subscribe catchup topic: %w", err)
	}
	treeCh, err := b.Node.Subscribe(topicGetHashTree)
	if err != nil {
		return fmt.Errorf("node: subscribe get_hash_tree topic: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-reqCh:
				if !ok {
					return
				}
				b.handleCatchupRequest(msg)
			case msg, ok := <-treeCh:
				if !ok {
					return
				}
				b.handleHashTreeRequest(msg)
			}
		}
	}()
	return nil
}

func (b *Bootstrap) handleCatchupRequest(msg p2p.Message) {
	var env p2p.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type != p2p.TypeCatchup {
		return
	}
	var payloadIn p2p.CatchupPayload
	if err := json.Unmarshal(env.Payload, &payloadIn); err != nil {
		b.log.WithError(err).Warn("node: malformed catchup request")
		return
	}
	req := core.CatchupRequest{LastStableMCI: payloadIn.LastStableMCI, LastKnownBall: payloadIn.LastKnownBall}
	for _, a := range payloadIn.Witnesses {
		req.Witnesses = append(req.Witnesses, core.Address(a))
	}
	for _, w := range req.Witnesses {
		if !b.Core.Witnesses().Contains(w) {
			b.log.WithField("witness", w).Debug("node: rejecting catchup request for a foreign witness list")
			return
		}
	}

	tip := b.catchupTip()
	if tip == nil {
		b.log.Debug("node: catchup request received with no local tip to serve from")
		return
	}
	proof, err := core.PrepareWitnessProof(b.Core.Store, b.Core.Business.Global, b.Core.Witnesses(), tip)
	if err != nil {
		b.log.WithError(err).Warn("node: prepare witness proof")
		return
	}
	session := b.CatchupManager.OpenSession(req.LastStableMCI+1, tip.Props().MCI)

	payload := p2p.WitnessProofPayload{
		SessionID:     session.ID.String(),
		WitnessJoints: jointsToWire(proof.WitnessJoints),
		UnstableMC:    jointsToWire(proof.UnstableMC),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.WithError(err).Warn("node: marshal witness proof")
		return
	}
	if err := b.Node.Broadcast(topicWitnessProof, p2p.Envelope{Type: p2p.TypeWitnessProof, Payload: raw}); err != nil {
		b.log.WithError(err).Warn("node: broadcast witness proof")
	}
}

func (b *Bootstrap) handleHashTreeRequest(msg p2p.Message) {
	var env p2p.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type != p2p.TypeGetHashTree {
		return
	}
	var req p2p.GetHashTreePayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		b.log.WithError(err).Warn("node: malformed get_hash_tree request")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		b.log.WithError(err).Warn("node: malformed catch-up session id")
		return
	}
	resp, err := b.CatchupManager.NextBatch(sessionID, b.hashesByMCI)
	if err != nil {
		b.log.WithError(err).Warn("node: serve hash tree batch")
		return
	}
	payload := p2p.HashTreeResponsePayload{Balls: ballsToWire(resp.Balls), HasMore: resp.HasMore}
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.WithError(err).Warn("node: marshal hash tree response")
		return
	}
	if err := b.Node.Broadcast(topicHashTree, p2p.Envelope{Type: p2p.TypeHashTree, Payload: raw}); err != nil {
		b.log.WithError(err).Warn("node: broadcast hash tree response")
	}
}

// catchupTip picks the joint a witness proof is prepared against: the
// highest-level good free tip if one exists (GetFreeGood, §4.1), falling
// back to the last stable joint for a quiescent node.
func (b *Bootstrap) catchupTip() *core.JointData {
	free := b.Core.Cache.GetFreeGood(b.Core.Witnesses())
	if len(free) == 0 {
		return b.Core.MainChain.LastStable()
	}
	best := free[0]
	for _, jd := range free[1:] {
		if jd.Props().Level > best.Props().Level {
			best = jd
		}
	}
	return best
}

// hashesByMCI lists every joint hash stable at exactly mci, read through
// the store the same way Core.Replay groups stable joints for rebuild.
func (b *Bootstrap) hashesByMCI(mci int64) ([]string, error) {
	all, err := b.Core.Store.AllJointHashes()
	if err != nil {
		return nil, fmt.Errorf("node: list joints for hash tree: %w", err)
	}
	var out []string
	for _, h := range all {
		p, ok, err := b.Core.Store.GetProperty(h)
		if err != nil {
			return nil, fmt.Errorf("node: load property %s: %w", h, err)
		}
		if ok && p.IsStable && p.MCI == mci {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out, nil
}

// CatchupResult summarizes a completed client-side catch-up run.
type CatchupResult struct {
	SessionID             string
	WitnessJointsVerified int
	BallsVerified         int
}

// RunCatchup drives the client side of the catch-up protocol against one
// peer (§4.5, §8 S6): dial it, request a witness proof, verify it against
// witnesses, then pull and verify hash-tree ball batches until the peer
// reports none remain.
func RunCatchup(ctx context.Context, n *p2p.Node, peerAddr string, witnesses *core.WitnessList, lastStableMCI int64, lastKnownBall string) (*CatchupResult, error) {
	if err := n.DialSeed([]string{peerAddr}); err != nil {
		return nil, fmt.Errorf("node: dial catch-up peer: %w", err)
	}

	req := core.CatchupRequest{
		LastStableMCI: lastStableMCI,
		LastKnownBall: lastKnownBall,
		Witnesses:     witnesses.Addresses(),
	}
	addrs := make([]string, len(req.Witnesses))
	for i, a := range req.Witnesses {
		addrs[i] = string(a)
	}
	reqRaw, err := json.Marshal(p2p.CatchupPayload{LastStableMCI: req.LastStableMCI, LastKnownBall: req.LastKnownBall, Witnesses: addrs})
	if err != nil {
		return nil, fmt.Errorf("node: marshal catchup request: %w", err)
	}

	proofCh, err := n.Subscribe(topicWitnessProof)
	if err != nil {
		return nil, fmt.Errorf("node: subscribe witness proof topic: %w", err)
	}
	if err := n.Broadcast(topicCatchup, p2p.Envelope{Type: p2p.TypeCatchup, Payload: reqRaw}); err != nil {
		return nil, fmt.Errorf("node: send catchup request: %w", err)
	}

	var proofPayload p2p.WitnessProofPayload
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-proofCh:
		if !ok {
			return nil, fmt.Errorf("node: witness proof channel closed before a response arrived")
		}
		var env p2p.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type != p2p.TypeWitnessProof {
			return nil, fmt.Errorf("node: malformed witness proof envelope")
		}
		if err := json.Unmarshal(env.Payload, &proofPayload); err != nil {
			return nil, fmt.Errorf("node: decode witness proof: %w", err)
		}
	}

	proof := &core.WitnessProof{
		WitnessJoints: wireToJoints(proofPayload.WitnessJoints),
		UnstableMC:    wireToJoints(proofPayload.UnstableMC),
	}
	if err := core.ProcessWitnessProof(proof, witnesses); err != nil {
		return nil, fmt.Errorf("node: witness proof rejected: %w", err)
	}

	treeCh, err := n.Subscribe(topicHashTree)
	if err != nil {
		return nil, fmt.Errorf("node: subscribe hash tree topic: %w", err)
	}

	result := &CatchupResult{SessionID: proofPayload.SessionID, WitnessJointsVerified: len(proof.WitnessJoints)}
	for {
		raw, err := json.Marshal(p2p.GetHashTreePayload{SessionID: proofPayload.SessionID})
		if err != nil {
			return nil, fmt.Errorf("node: marshal get_hash_tree request: %w", err)
		}
		if err := n.Broadcast(topicGetHashTree, p2p.Envelope{Type: p2p.TypeGetHashTree, Payload: raw}); err != nil {
			return nil, fmt.Errorf("node: send get_hash_tree request: %w", err)
		}

		var batchPayload p2p.HashTreeResponsePayload
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-treeCh:
			if !ok {
				return nil, fmt.Errorf("node: hash tree channel closed before a response arrived")
			}
			var env p2p.Envelope
			if err := json.Unmarshal(msg.Data, &env); err != nil || env.Type != p2p.TypeHashTree {
				return nil, fmt.Errorf("node: malformed hash tree envelope")
			}
			if err := json.Unmarshal(env.Payload, &batchPayload); err != nil {
				return nil, fmt.Errorf("node: decode hash tree batch: %w", err)
			}
		}

		batch := &core.HashTreeResponse{Balls: wireToBalls(batchPayload.Balls), HasMore: batchPayload.HasMore}
		if err := core.VerifyHashTreeBatch(batch); err != nil {
			return nil, fmt.Errorf("node: hash tree batch failed verification: %w", err)
		}
		result.BallsVerified += len(batch.Balls)
		if !batch.HasMore {
			break
		}
	}
	return result, nil
}

func jointsToWire(joints []*core.Joint) []p2p.JointPayload {
	out := make([]p2p.JointPayload, len(joints))
	for i, j := range joints {
		out[i] = JointToWire(j)
	}
	return out
}

func wireToJoints(payloads []p2p.JointPayload) []*core.Joint {
	out := make([]*core.Joint, len(payloads))
	for i, p := range payloads {
		out[i] = WireToJoint(p)
	}
	return out
}

func ballsToWire(balls []core.BallRecord) []p2p.BallRecordWire {
	out := make([]p2p.BallRecordWire, len(balls))
	for i, br := range balls {
		out[i] = p2p.BallRecordWire{
			Unit: br.Unit, Ball: br.Ball, ParentBalls: br.ParentBalls,
			SkiplistBalls: br.SkiplistBalls, IsNonserial: br.IsNonserial, MCI: br.MCI,
		}
	}
	return out
}

func wireToBalls(wire []p2p.BallRecordWire) []core.BallRecord {
	out := make([]core.BallRecord, len(wire))
	for i, w := range wire {
		out[i] = core.BallRecord{
			Unit: w.Unit, Ball: w.Ball, ParentBalls: w.ParentBalls,
			SkiplistBalls: w.SkiplistBalls, IsNonserial: w.IsNonserial, MCI: w.MCI,
		}
	}
	return out
}
