package p2p

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// PeerInfo is a lightweight, address-free peer summary used for random
// sampling (§6 "get_peers") and diagnostics.
type PeerInfo struct {
	ID      NodeID
	RTTMs   float64
	Updated int64
}

// InboundMsg is one direct-stream or pubsub delivery handed to a PeerManager
// subscriber, already tagged with its originating peer and topic.
type InboundMsg struct {
	PeerID  string
	Topic   string
	Payload []byte
	Ts      int64
}

// PeerManager is the peer-set interface: list, sample, connect and drop
// peers, send an envelope on a direct stream, and subscribe to topics,
// alongside the broadcast topics Node already covers. node.Bootstrap holds
// one, but its catch-up and hash-tree exchange runs over Node's topics.
type PeerManager interface {
	Peers() []PeerInfo
	Sample(n int) []string
	Connect(addr string) error
	Disconnect(id NodeID) error
	SendAsync(peerID, proto string, env Envelope) error
	Subscribe(proto string) <-chan InboundMsg
	Unsubscribe(proto string)
}

// PeerManagement implements PeerManager around an existing Node, adding a
// one-way direct-stream send (SendAsync) on top of the topics Node already
// multiplexes. It registers no handler for inbound streams.
type PeerManagement struct {
	node *Node
	mu   sync.Mutex
	subs map[string]*pubsub.Subscription
	out  map[string]chan InboundMsg
}

func NewPeerManagement(n *Node) *PeerManagement {
	return &PeerManagement{
		node: n,
		subs: make(map[string]*pubsub.Subscription),
		out:  make(map[string]chan InboundMsg),
	}
}

func (pm *PeerManagement) Peers() []PeerInfo {
	pm.node.peerLock.RLock()
	defer pm.node.peerLock.RUnlock()
	out := make([]PeerInfo, 0, len(pm.node.peers))
	for _, p := range pm.node.peers {
		out = append(out, PeerInfo{ID: p.ID, RTTMs: float64(p.Latency.Milliseconds()), Updated: time.Now().Unix()})
	}
	return out
}

func (pm *PeerManagement) Connect(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("p2p: invalid address: %w", err)
	}
	if err := pm.node.host.Connect(pm.node.ctx, *pi); err != nil {
		return err
	}
	id := NodeID(pi.ID.String())
	pm.node.peerLock.Lock()
	pm.node.peers[id] = &Peer{ID: id, Addr: addr}
	pm.node.peerLock.Unlock()
	return nil
}

func (pm *PeerManagement) Disconnect(id NodeID) error {
	pm.node.peerLock.Lock()
	delete(pm.node.peers, id)
	pm.node.peerLock.Unlock()
	return nil
}

// Sample returns up to n peer IDs chosen by a Fisher-Yates shuffle over
// the known peer set.
func (pm *PeerManagement) Sample(n int) []string {
	peers := pm.Peers()
	if n > len(peers) {
		n = len(peers)
	}
	for i := len(peers) - 1; i > 0; i-- {
		r, err := crand.Int(crand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			break
		}
		j := int(r.Int64())
		peers[i], peers[j] = peers[j], peers[i]
	}
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, string(peers[i].ID))
	}
	return ids
}

// SendAsync opens a direct libp2p stream to peerID and writes a single
// envelope; it does not wait for or read a reply.
func (pm *PeerManagement) SendAsync(peerID, proto string, env Envelope) error {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: marshal envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(pm.node.ctx, 5*time.Second)
	defer cancel()
	s, err := pm.node.host.NewStream(ctx, pid, protocol.ID(proto))
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Write(data); err != nil {
		return err
	}
	return nil
}

// Subscribe joins proto as a gossipsub topic and decodes every delivery
// into an InboundMsg, memoizing the subscription so repeat calls share it.
func (pm *PeerManagement) Subscribe(proto string) <-chan InboundMsg {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if ch, ok := pm.out[proto]; ok {
		return ch
	}
	t, err := pm.node.pubsub.Join(proto)
	if err != nil {
		logrus.Warnf("p2p: join %s failed: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	sub, err := t.Subscribe()
	if err != nil {
		logrus.Warnf("p2p: subscribe %s failed: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	out := make(chan InboundMsg)
	pm.subs[proto] = sub
	pm.out[proto] = out
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(pm.node.ctx)
			if err != nil {
				return
			}
			select {
			case out <- InboundMsg{PeerID: msg.GetFrom().String(), Payload: msg.Data, Topic: proto, Ts: time.Now().UnixMilli()}:
			case <-pm.node.ctx.Done():
				return
			}
		}
	}()
	return out
}

func (pm *PeerManagement) Unsubscribe(proto string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if sub, ok := pm.subs[proto]; ok {
		sub.Cancel()
		delete(pm.subs, proto)
	}
	if ch, ok := pm.out[proto]; ok {
		close(ch)
		delete(pm.out, proto)
	}
}

var _ PeerManager = (*PeerManagement)(nil)
