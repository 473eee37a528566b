package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// NodeID is a libp2p peer ID rendered as a string, the identity the rest
// of the system addresses a connection by.
type NodeID string

// Peer is what the node remembers about a connected gossip peer.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
}

// Config carries the bootstrap parameters for a gossip node, adapted from
// the teacher's network Config (§6's transport is deliberately agnostic to
// the protocol version string and discovery tag, which the wiring layer
// supplies).
type Config struct {
	ListenAddr      string
	BootstrapPeers  []string
	DiscoveryTag    string
	ProtocolVersion string
	Alt             string
}

// Message is one gossipsub delivery: who sent it, on what topic, and the
// raw envelope bytes.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Node is a libp2p host running gossipsub over the joint-propagation
// topics of §6, plus mDNS discovery for same-LAN peers.
type Node struct {
	host   hostIface
	pubsub *pubsub.PubSub

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic

	subLock sync.Mutex
	subs    map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer

	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
}

// hostIface is the subset of host.Host the node needs; kept as an
// interface so tests can substitute a fake without spinning up a real
// libp2p transport.
type hostIface interface {
	ID() peer.ID
	Connect(ctx context.Context, pi peer.AddrInfo) error
	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
	Close() error
}

// NewNode bootstraps a libp2p host, joins gossipsub, dials any configured
// seeds, and starts mDNS discovery (§6 transport: "peers connect over
// libp2p, subscribe to joint/free_joints_end, and gossip").
func NewNode(cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.Warnf("p2p: dial seed warning: %v", err)
	}

	if cfg.DiscoveryTag != "" {
		mdns.NewMdnsService(h, cfg.DiscoveryTag, n)
	}

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a discovered peer,
// ignoring ourselves and peers already known.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())
	n.peerLock.RLock()
	_, known := n.peers[id]
	n.peerLock.RUnlock()
	if known {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.Warnf("p2p: connect to discovered peer %s: %v", id, err)
		return
	}
	n.peerLock.Lock()
	n.peers[id] = &Peer{ID: id, Addr: info.String()}
	n.peerLock.Unlock()
	logrus.WithField("peer", id).Info("p2p: connected via mDNS")
}

// DialSeed connects to every bootstrap address, collecting failures rather
// than aborting on the first one.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		n.peerLock.Lock()
		n.peers[id] = &Peer{ID: id, Addr: addr}
		n.peerLock.Unlock()
		logrus.WithField("addr", addr).Info("p2p: bootstrapped")
	}
	if len(errs) > 0 {
		return fmt.Errorf("p2p: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Broadcast publishes an envelope on topic, joining it lazily.
func (n *Node) Broadcast(topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("p2p: marshal envelope: %w", err)
	}
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return fmt.Errorf("p2p: join topic %s: %w", topic, err)
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("p2p: publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe joins topic (lazily) and returns a channel of messages from
// every peer, including ourselves, each carrying the raw envelope bytes.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("p2p: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			select {
			case out <- Message{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("p2p: node shutting down")
}

// Close tears down the host and cancels the node's context.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Peers returns a snapshot of the currently known peers.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}
