// Package node wires the business/consensus core to the gossip transport:
// it decodes inbound envelopes into joints the core can validate, and
// encodes outbound joints (locally authored or forwarded) back into wire
// envelopes for the "joint" and "free_joints_end" topics of §6.
package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"dagledger/core"
	"dagledger/p2p"
)

const (
	topicJoint         = "joint"
	topicFreeJointsEnd = "free_joints_end"
)

// Bootstrap glues one core.Core to one p2p.Node/PeerManagement pair.
type Bootstrap struct {
	Core           *core.Core
	Node           *p2p.Node
	Peers          *p2p.PeerManagement
	CatchupManager *core.CatchupManager
	log            *logrus.Logger
}

// NewBootstrap wires an already-constructed core and transport together,
// including the catch-up manager (§4.5) that serves other nodes'
// catchup/get_hash_tree requests once Run starts.
func NewBootstrap(c *core.Core, n *p2p.Node, pm *p2p.PeerManagement, log *logrus.Logger) (*Bootstrap, error) {
	cm, err := core.NewCatchupManager(c.Store)
	if err != nil {
		return nil, fmt.Errorf("node: new catch-up manager: %w", err)
	}
	return &Bootstrap{Core: c, Node: n, Peers: pm, CatchupManager: cm, log: log}, nil
}

// Run starts the core pipeline, the catch-up responder, and the gossip
// intake loop; it blocks until ctx is cancelled or either side fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	jointCh, err := b.Node.Subscribe(topicJoint)
	if err != nil {
		return fmt.Errorf("node: subscribe joint topic: %w", err)
	}
	if err := b.RunCatchupResponder(ctx); err != nil {
		return fmt.Errorf("node: start catch-up responder: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- b.Core.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg, ok := <-jointCh:
			if !ok {
				return nil
			}
			b.handleJointMessage(msg)
		}
	}
}

func (b *Bootstrap) handleJointMessage(msg p2p.Message) {
	var env p2p.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.log.WithError(err).Warn("node: malformed envelope")
		return
	}
	if env.Type != p2p.TypeJoint {
		return
	}
	var payload p2p.JointPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		b.log.WithError(err).Warn("node: malformed joint payload")
		return
	}
	j := WireToJoint(payload)
	if err := b.Core.SubmitJoint(j, string(msg.From)); err != nil {
		b.log.WithError(err).WithField("peer", msg.From).Debug("node: rejected joint")
	}
}

// BroadcastJoint encodes and publishes a locally authored or re-gossiped
// joint on the joint topic.
func (b *Bootstrap) BroadcastJoint(j *core.Joint) error {
	payload := JointToWire(j)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("node: marshal joint payload: %w", err)
	}
	return b.Node.Broadcast(topicJoint, p2p.Envelope{Type: p2p.TypeJoint, Payload: raw})
}

// BroadcastFreeJointsEnd advertises the node's current free-tip set.
func (b *Bootstrap) BroadcastFreeJointsEnd(hashes []string) error {
	raw, err := json.Marshal(p2p.FreeJointsEndPayload{Hashes: hashes})
	if err != nil {
		return fmt.Errorf("node: marshal free joints end: %w", err)
	}
	return b.Node.Broadcast(topicFreeJointsEnd, p2p.Envelope{Type: p2p.TypeFreeJointsEnd, Payload: raw})
}

// JointToWire flattens a core.Joint into its plain-JSON wire mirror.
func JointToWire(j *core.Joint) p2p.JointPayload {
	u := j.Unit
	authors := make([]p2p.AuthorWire, len(u.Authors))
	for i, a := range u.Authors {
		aw := p2p.AuthorWire{Address: string(a.Address)}
		if a.Definition != nil {
			aw.Definition = &p2p.DefinitionWire{PubKeyCompressed: a.Definition.PubKeyCompressed}
		}
		auths := make([]p2p.AuthentifierWire, len(a.Authentifiers))
		for k, f := range a.Authentifiers {
			auths[k] = p2p.AuthentifierWire{Algo: f.Algo, Sig: f.Sig}
		}
		aw.Authentifiers = auths
		authors[i] = aw
	}

	messages := make([]p2p.MessageWire, len(u.Messages))
	for i, m := range u.Messages {
		mw := p2p.MessageWire{
			App:               m.App,
			PayloadLocation:   m.PayloadLocation,
			ContentHash:       m.ContentHash,
			HeadersCommission: m.HeadersCommission,
			PayloadCommission: m.PayloadCommission,
			Text:              m.Text,
		}
		if len(m.DataFeed) > 0 {
			mw.DataFeed = make(map[string]string, len(m.DataFeed))
			for k, v := range m.DataFeed {
				if v.IsInt {
					mw.DataFeed[k] = fmt.Sprintf("int:%d", v.Int)
				} else {
					mw.DataFeed[k] = "str:" + v.Str
				}
			}
		}
		if m.Payment != nil {
			pw := &p2p.PaymentWire{
				Inputs:  make([]p2p.InputWire, len(m.Payment.Inputs)),
				Outputs: make([]p2p.OutputWire, len(m.Payment.Outputs)),
			}
			for k, in := range m.Payment.Inputs {
				pw.Inputs[k] = p2p.InputWire{
					Kind: in.Kind, Unit: in.Unit, MessageIndex: in.MessageIndex,
					OutputIndex: in.OutputIndex, Address: string(in.Address),
					SerialNumber: in.SerialNumber, Amount: in.Amount,
				}
			}
			for k, out := range m.Payment.Outputs {
				pw.Outputs[k] = p2p.OutputWire{Address: string(out.Address), Amount: out.Amount}
			}
			mw.Payment = pw
		}
		messages[i] = mw
	}

	witnesses := make([]string, len(u.Witnesses))
	for i, w := range u.Witnesses {
		witnesses[i] = string(w)
	}

	return p2p.JointPayload{
		Unit: p2p.UnitWire{
			Version: u.Version, Alt: u.Alt, Parents: u.Parents,
			LastBall: u.LastBall, LastBallUnit: u.LastBallUnit,
			Authors: authors, Messages: messages,
			WitnessListUnit: u.WitnessListUnit, Witnesses: witnesses,
			HeadersCommission: u.HeadersCommission, PayloadCommission: u.PayloadCommission,
			Timestamp: u.Timestamp, UnitHash: u.UnitHash,
		},
		Ball:          j.Ball,
		SkiplistUnits: j.SkiplistUnits,
		Unsigned:      j.Unsigned,
	}
}

// WireToJoint reconstitutes a core.Joint from its wire mirror. The unit
// hash travels on the wire rather than being recomputed, since a tampered
// hash is caught by ready-validation's recomputation, not by the decoder.
func WireToJoint(p p2p.JointPayload) *core.Joint {
	uw := p.Unit
	authors := make([]core.Author, len(uw.Authors))
	for i, a := range uw.Authors {
		au := core.Author{Address: core.Address(a.Address)}
		if a.Definition != nil {
			def := core.Definition{PubKeyCompressed: a.Definition.PubKeyCompressed}
			au.Definition = &def
		}
		auths := make([]core.Authentifier, len(a.Authentifiers))
		for k, f := range a.Authentifiers {
			auths[k] = core.Authentifier{Algo: f.Algo, Sig: f.Sig}
		}
		au.Authentifiers = auths
		authors[i] = au
	}

	messages := make([]core.Message, len(uw.Messages))
	for i, m := range uw.Messages {
		cm := core.Message{
			App: m.App, PayloadLocation: m.PayloadLocation, ContentHash: m.ContentHash,
			HeadersCommission: m.HeadersCommission, PayloadCommission: m.PayloadCommission,
			Text: m.Text,
		}
		if len(m.DataFeed) > 0 {
			cm.DataFeed = make(map[string]core.DataFeedValue, len(m.DataFeed))
			for k, v := range m.DataFeed {
				cm.DataFeed[k] = decodeDataFeedValue(v)
			}
		}
		if m.Payment != nil {
			pp := &core.PaymentPayload{
				Inputs:  make([]core.Input, len(m.Payment.Inputs)),
				Outputs: make([]core.Output, len(m.Payment.Outputs)),
			}
			for k, in := range m.Payment.Inputs {
				pp.Inputs[k] = core.Input{
					Kind: in.Kind, Unit: in.Unit, MessageIndex: in.MessageIndex,
					OutputIndex: in.OutputIndex, Address: core.Address(in.Address),
					SerialNumber: in.SerialNumber, Amount: in.Amount,
				}
			}
			for k, out := range m.Payment.Outputs {
				pp.Outputs[k] = core.Output{Address: core.Address(out.Address), Amount: out.Amount}
			}
			cm.Payment = pp
		}
		messages[i] = cm
	}

	witnesses := make([]core.Address, len(uw.Witnesses))
	for i, w := range uw.Witnesses {
		witnesses[i] = core.Address(w)
	}

	u := core.Unit{
		Version: uw.Version, Alt: uw.Alt, Parents: uw.Parents,
		LastBall: uw.LastBall, LastBallUnit: uw.LastBallUnit,
		Authors: authors, Messages: messages,
		WitnessListUnit: uw.WitnessListUnit, Witnesses: witnesses,
		HeadersCommission: uw.HeadersCommission, PayloadCommission: uw.PayloadCommission,
		Timestamp: uw.Timestamp, UnitHash: uw.UnitHash,
	}

	return &core.Joint{Unit: u, Ball: p.Ball, SkiplistUnits: p.SkiplistUnits, Unsigned: p.Unsigned}
}

func decodeDataFeedValue(raw string) core.DataFeedValue {
	if len(raw) > 4 && raw[:4] == "int:" {
		var n int64
		fmt.Sscanf(raw[4:], "%d", &n)
		return core.DataFeedValue{IsInt: true, Int: n}
	}
	if len(raw) > 4 && raw[:4] == "str:" {
		return core.DataFeedValue{Str: raw[4:]}
	}
	return core.DataFeedValue{Str: raw}
}
