// Package p2p adapts the teacher's libp2p-based gossip transport into the
// peer protocol of §6: joint propagation, free-tip advertisement, and the
// catch-up / hash-tree request-response pair, all framed as typed envelopes
// over gossipsub topics and direct streams.
package p2p

import "encoding/json"

// Envelope is the outer wire frame every message type is carried in (§6
// "version, subscribe/subscribed, heartbeat, joint, free_joints_end,
// refresh, get_joint/joint|joint_not_found, catchup, get_hash_tree,
// post_joint, get_witnesses, get_peers").
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Message type tags, one per §6 wire message.
const (
	TypeVersion       = "version"
	TypeSubscribe     = "subscribe"
	TypeSubscribed    = "subscribed"
	TypeHeartbeat     = "heartbeat"
	TypeJoint         = "joint"
	TypeFreeJointsEnd = "free_joints_end"
	TypeRefresh       = "refresh"
	TypeGetJoint      = "get_joint"
	TypeJointFound    = "joint"
	TypeJointNotFound = "joint_not_found"
	TypeCatchup       = "catchup"
	TypeWitnessProof  = "witness_proof"
	TypeGetHashTree   = "get_hash_tree"
	TypeHashTree      = "hash_tree"
	TypePostJoint     = "post_joint"
	TypeGetWitnesses  = "get_witnesses"
	TypeGetPeers      = "get_peers"
)

// VersionPayload is the handshake both peers send on connect.
type VersionPayload struct {
	ProtocolVersion string `json:"protocol_version"`
	Alt             string `json:"alt"`
}

// JointPayload carries a gossiped or requested joint, RLP-agnostic for the
// wire (plain JSON keeps the transport layer independent of the store's
// encoding choice).
type JointPayload struct {
	Unit          UnitWire `json:"unit"`
	Ball          string   `json:"ball,omitempty"`
	SkiplistUnits []string `json:"skiplist_units,omitempty"`
	Unsigned      bool     `json:"unsigned,omitempty"`
}

// UnitWire mirrors core.Unit field-for-field; p2p does not import core so
// that the transport can be exercised and tested independently of the
// business/consensus layers (the adapter in node/bootstrap.go converts
// between the two).
type UnitWire struct {
	Version           string            `json:"version"`
	Alt               string            `json:"alt"`
	Parents           []string          `json:"parents"`
	LastBall          string            `json:"last_ball,omitempty"`
	LastBallUnit      string            `json:"last_ball_unit,omitempty"`
	Authors           []AuthorWire      `json:"authors"`
	Messages          []MessageWire     `json:"messages"`
	WitnessListUnit   string            `json:"witness_list_unit,omitempty"`
	Witnesses         []string          `json:"witnesses,omitempty"`
	HeadersCommission int64             `json:"headers_commission"`
	PayloadCommission int64             `json:"payload_commission"`
	Timestamp         int64             `json:"timestamp"`
	UnitHash          string            `json:"unit"`
}

type AuthorWire struct {
	Address       string            `json:"address"`
	Definition    *DefinitionWire   `json:"definition,omitempty"`
	Authentifiers []AuthentifierWire `json:"authentifiers"`
}

type DefinitionWire struct {
	PubKeyCompressed []byte `json:"pubkey"`
}

type AuthentifierWire struct {
	Algo string `json:"algo"`
	Sig  []byte `json:"sig"`
}

type MessageWire struct {
	App               string            `json:"app"`
	PayloadLocation   string            `json:"payload_location"`
	ContentHash       string            `json:"content_hash,omitempty"`
	HeadersCommission int64             `json:"headers_commission"`
	PayloadCommission int64             `json:"payload_commission"`
	Text              string            `json:"text,omitempty"`
	DataFeed          map[string]string `json:"data_feed,omitempty"`
	Payment           *PaymentWire      `json:"payment,omitempty"`
}

type PaymentWire struct {
	Inputs  []InputWire  `json:"inputs"`
	Outputs []OutputWire `json:"outputs"`
}

type InputWire struct {
	Kind         string `json:"kind"`
	Unit         string `json:"unit,omitempty"`
	MessageIndex int    `json:"message_index,omitempty"`
	OutputIndex  int    `json:"output_index,omitempty"`
	Address      string `json:"address,omitempty"`
	SerialNumber int64  `json:"serial_number,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
}

type OutputWire struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// FreeJointsEndPayload advertises the sender's current free-tip set (§6).
type FreeJointsEndPayload struct {
	Hashes []string `json:"hashes"`
}

// CatchupPayload is the `catchup` request (§6, §8 S6).
type CatchupPayload struct {
	LastStableMCI int64    `json:"last_stable_mci"`
	LastKnownBall string   `json:"last_known_ball"`
	Witnesses     []string `json:"witnesses"`
}

// GetHashTreePayload is the `get_hash_tree` request (§6, §8 S6, batches of
// at most 300 balls per response).
type GetHashTreePayload struct {
	SessionID string `json:"session_id"`
	FromBall  string `json:"from_ball"`
	ToBall    string `json:"to_ball"`
}

// WitnessProofPayload is the `witness_proof` response to a `catchup`
// request (§4.5, §6, §8 S6): the responder's witness-committee evidence,
// plus the session id the requester uses to pull the hash-tree batches that
// follow.
type WitnessProofPayload struct {
	SessionID     string         `json:"session_id"`
	WitnessJoints []JointPayload `json:"witness_joints"`
	UnstableMC    []JointPayload `json:"unstable_mc"`
}

// BallRecordWire mirrors core.BallRecord field-for-field on the wire.
type BallRecordWire struct {
	Unit          string   `json:"unit"`
	Ball          string   `json:"ball"`
	ParentBalls   []string `json:"parent_balls,omitempty"`
	SkiplistBalls []string `json:"skiplist_balls,omitempty"`
	IsNonserial   bool     `json:"is_nonserial,omitempty"`
	MCI           int64    `json:"mci"`
}

// HashTreeResponsePayload is the `hash_tree` response to a `get_hash_tree`
// request (§6, §8 S6): one batch of at most 300 balls.
type HashTreeResponsePayload struct {
	Balls   []BallRecordWire `json:"balls"`
	HasMore bool             `json:"has_more"`
}
