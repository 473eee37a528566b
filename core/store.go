package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/klauspost/compress/gzip"
)

// Store is the persisted key/value engine the core consumes (§1, §6): four
// namespaces — joints, properties, children, misc — opened once at startup.
// No example repo in the retrieval pack vendors an embeddable KV engine, so
// the default implementation below stays on the standard library (os,
// path/filepath) for the on-disk layer itself; see DESIGN.md for that justification.
// Everything layered on top of it (RLP encoding, gzip snapshots, the async
// writer pool) reuses the teacher's and pack's real dependencies.
type Store interface {
	HasJoint(hash string) bool
	PutJoint(hash string, j *Joint) error
	GetJoint(hash string) (*Joint, bool, error)

	PutChildren(hash string, children []string) error
	GetChildren(hash string) ([]string, error)

	PutProperty(hash string, p *JointProperty) error
	GetProperty(hash string) (*JointProperty, bool, error)

	SaveLastMCI(mci int64) error
	LoadLastMCI() (int64, bool, error)

	// AllJointHashes supports startup replay (§9 "Balance/related-units
	// rebuild"); order is unspecified, callers sort by mci separately.
	AllJointHashes() ([]string, error)

	Close() error
}

// --- RLP wire mirrors -------------------------------------------------
// RLP (github.com/ethereum/go-ethereum/rlp, already a teacher dependency
// via core/ledger.go) does not support maps or interfaces, so these mirror
// structs flatten Unit/Joint/JointProperty into plain fields before
// encoding and reconstruct them on read.

type rlpAuthentifier struct {
	Algo string
	Sig  []byte
}

type rlpAuthor struct {
	Address       string
	HasDefinition bool
	DefPubKey     []byte
	Authentifiers []rlpAuthentifier
}

type rlpInput struct {
	Kind         string
	Unit         string
	MessageIndex int64
	OutputIndex  int64
	Address      string
	SerialNumber int64
	Amount       int64
}

type rlpOutput struct {
	Address string
	Amount  int64
}

type rlpDataFeedEntry struct {
	Key   string
	IsInt bool
	Str   string
	Int   int64
}

type rlpMessage struct {
	App               string
	PayloadLocation   string
	ContentHash       string
	HeadersCommission int64
	PayloadCommission int64
	Text              string
	DataFeed          []rlpDataFeedEntry
	HasPayment        bool
	PaymentInputs     []rlpInput
	PaymentOutputs    []rlpOutput
}

type rlpUnit struct {
	Version           string
	Alt               string
	Parents           []string
	LastBall          string
	LastBallUnit      string
	Authors           []rlpAuthor
	Messages          []rlpMessage
	WitnessListUnit   string
	Witnesses         []string
	HeadersCommission int64
	PayloadCommission int64
	Timestamp         int64
	UnitHash          string
}

type rlpJoint struct {
	Unit          rlpUnit
	Ball          string
	SkiplistUnits []string
	Unsigned      bool
}

type rlpProperty struct {
	Level              int64
	BestParentUnit     string
	WL                 int64
	MinWL              int64
	IsWLIncreased      bool
	IsMinWLIncreased   bool
	MCI                int64
	LIMCI              int64
	SubMCI             int64
	IsStable           bool
	Sequence           int64
	CreateTime         int64
	PrevStableSelfUnit string
	RelatedUnits       []string
	Balance            int64
}

func toRLPJoint(j *Joint) rlpJoint {
	u := j.Unit
	authors := make([]rlpAuthor, len(u.Authors))
	for i, a := range u.Authors {
		ra := rlpAuthor{Address: string(a.Address)}
		if a.Definition != nil {
			ra.HasDefinition = true
			ra.DefPubKey = a.Definition.PubKeyCompressed
		}
		for _, f := range a.Authentifiers {
			ra.Authentifiers = append(ra.Authentifiers, rlpAuthentifier{Algo: f.Algo, Sig: f.Sig})
		}
		authors[i] = ra
	}
	messages := make([]rlpMessage, len(u.Messages))
	for i, m := range u.Messages {
		rm := rlpMessage{
			App: m.App, PayloadLocation: m.PayloadLocation, ContentHash: m.ContentHash,
			HeadersCommission: m.HeadersCommission, PayloadCommission: m.PayloadCommission,
			Text: m.Text,
		}
		for k, v := range m.DataFeed {
			rm.DataFeed = append(rm.DataFeed, rlpDataFeedEntry{Key: k, IsInt: v.IsInt, Str: v.Str, Int: v.Int})
		}
		if m.Payment != nil {
			rm.HasPayment = true
			for _, in := range m.Payment.Inputs {
				rm.PaymentInputs = append(rm.PaymentInputs, rlpInput{
					Kind: in.Kind, Unit: in.Unit, MessageIndex: int64(in.MessageIndex),
					OutputIndex: int64(in.OutputIndex), Address: string(in.Address),
					SerialNumber: in.SerialNumber, Amount: in.Amount,
				})
			}
			for _, o := range m.Payment.Outputs {
				rm.PaymentOutputs = append(rm.PaymentOutputs, rlpOutput{Address: string(o.Address), Amount: o.Amount})
			}
		}
		messages[i] = rm
	}
	witnesses := make([]string, len(u.Witnesses))
	for i, w := range u.Witnesses {
		witnesses[i] = string(w)
	}
	return rlpJoint{
		Unit: rlpUnit{
			Version: u.Version, Alt: u.Alt, Parents: u.Parents,
			LastBall: u.LastBall, LastBallUnit: u.LastBallUnit,
			Authors: authors, Messages: messages,
			WitnessListUnit: u.WitnessListUnit, Witnesses: witnesses,
			HeadersCommission: u.HeadersCommission, PayloadCommission: u.PayloadCommission,
			Timestamp: u.Timestamp, UnitHash: u.UnitHash,
		},
		Ball: j.Ball, SkiplistUnits: j.SkiplistUnits, Unsigned: j.Unsigned,
	}
}

func fromRLPJoint(r rlpJoint) *Joint {
	authors := make([]Author, len(r.Unit.Authors))
	for i, ra := range r.Unit.Authors {
		a := Author{Address: Address(ra.Address)}
		if ra.HasDefinition {
			a.Definition = &Definition{PubKeyCompressed: ra.DefPubKey}
		}
		for _, f := range ra.Authentifiers {
			a.Authentifiers = append(a.Authentifiers, Authentifier{Algo: f.Algo, Sig: f.Sig})
		}
		authors[i] = a
	}
	messages := make([]Message, len(r.Unit.Messages))
	for i, rm := range r.Unit.Messages {
		m := Message{
			App: rm.App, PayloadLocation: rm.PayloadLocation, ContentHash: rm.ContentHash,
			HeadersCommission: rm.HeadersCommission, PayloadCommission: rm.PayloadCommission,
			Text: rm.Text,
		}
		if len(rm.DataFeed) > 0 {
			m.DataFeed = make(map[string]DataFeedValue, len(rm.DataFeed))
			for _, e := range rm.DataFeed {
				m.DataFeed[e.Key] = DataFeedValue{IsInt: e.IsInt, Str: e.Str, Int: e.Int}
			}
		}
		if rm.HasPayment {
			p := &PaymentPayload{}
			for _, in := range rm.PaymentInputs {
				p.Inputs = append(p.Inputs, Input{
					Kind: in.Kind, Unit: in.Unit, MessageIndex: int(in.MessageIndex),
					OutputIndex: int(in.OutputIndex), Address: Address(in.Address),
					SerialNumber: in.SerialNumber, Amount: in.Amount,
				})
			}
			for _, o := range rm.PaymentOutputs {
				p.Outputs = append(p.Outputs, Output{Address: Address(o.Address), Amount: o.Amount})
			}
			m.Payment = p
		}
		messages[i] = m
	}
	witnesses := make([]Address, len(r.Unit.Witnesses))
	for i, w := range r.Unit.Witnesses {
		witnesses[i] = Address(w)
	}
	return &Joint{
		Unit: Unit{
			Version: r.Unit.Version, Alt: r.Unit.Alt, Parents: r.Unit.Parents,
			LastBall: r.Unit.LastBall, LastBallUnit: r.Unit.LastBallUnit,
			Authors: authors, Messages: messages,
			WitnessListUnit: r.Unit.WitnessListUnit, Witnesses: witnesses,
			HeadersCommission: r.Unit.HeadersCommission, PayloadCommission: r.Unit.PayloadCommission,
			Timestamp: r.Unit.Timestamp, UnitHash: r.Unit.UnitHash,
		},
		Ball: r.Ball, SkiplistUnits: r.SkiplistUnits, Unsigned: r.Unsigned,
	}
}

func toRLPProperty(p *JointProperty) rlpProperty {
	return rlpProperty{
		Level: int64(p.Level), BestParentUnit: p.BestParentUnit,
		WL: int64(p.WL), MinWL: int64(p.MinWL),
		IsWLIncreased: p.IsWLIncreased, IsMinWLIncreased: p.IsMinWLIncreased,
		MCI: p.MCI, LIMCI: p.LIMCI, SubMCI: p.SubMCI, IsStable: p.IsStable,
		Sequence: int64(p.Sequence), CreateTime: p.CreateTime,
		PrevStableSelfUnit: p.PrevStableSelfUnit, RelatedUnits: p.RelatedUnits, Balance: p.Balance,
	}
}

func fromRLPProperty(r rlpProperty) *JointProperty {
	return &JointProperty{
		Level: Level(r.Level), BestParentUnit: r.BestParentUnit,
		WL: Level(r.WL), MinWL: Level(r.MinWL),
		IsWLIncreased: r.IsWLIncreased, IsMinWLIncreased: r.IsMinWLIncreased,
		MCI: r.MCI, LIMCI: r.LIMCI, SubMCI: r.SubMCI, IsStable: r.IsStable,
		Sequence: JointSequence(r.Sequence), CreateTime: r.CreateTime,
		PrevStableSelfUnit: r.PrevStableSelfUnit, RelatedUnits: r.RelatedUnits, Balance: r.Balance,
	}
}

// --- file-backed implementation ---------------------------------------

type writeJob struct {
	dir  string
	name string
	data []byte
}

// FileStore is the default Store: one directory per namespace, files named
// by a hex-safe encoding of the key, and an asynchronous pool of eight
// writer goroutines — the same fan-out kv_store.rs uses for its
// save_cache_async path ("for i in 1..9 { spawn worker }").
type FileStore struct {
	root string
	jobs chan writeJob
	wg   sync.WaitGroup

	miscMu sync.Mutex
}

const storeWriterPoolSize = 8

// NewFileStore opens (creating if absent) the four namespace directories
// under root and starts the async writer pool.
func NewFileStore(root string) (*FileStore, error) {
	for _, ns := range []string{"joints", "properties", "children", "misc"} {
		if err := os.MkdirAll(filepath.Join(root, ns), 0o755); err != nil {
			return nil, fmt.Errorf("core: open store namespace %s: %w", ns, err)
		}
	}
	fs := &FileStore{root: root, jobs: make(chan writeJob, 4096)}
	for i := 0; i < storeWriterPoolSize; i++ {
		fs.wg.Add(1)
		go fs.writerLoop()
	}
	return fs, nil
}

func (fs *FileStore) writerLoop() {
	defer fs.wg.Done()
	for job := range fs.jobs {
		path := filepath.Join(fs.root, job.dir, job.name)
		_ = os.WriteFile(path, job.data, 0o644)
	}
}

func keyFile(hash string) string {
	return hex.EncodeToString([]byte(hash))
}

func (fs *FileStore) enqueue(dir, name string, data []byte) {
	fs.jobs <- writeJob{dir: dir, name: name, data: data}
}

func (fs *FileStore) HasJoint(hash string) bool {
	_, err := os.Stat(filepath.Join(fs.root, "joints", keyFile(hash)))
	return err == nil
}

func (fs *FileStore) PutJoint(hash string, j *Joint) error {
	data, err := rlp.EncodeToBytes(toRLPJoint(j))
	if err != nil {
		return fmt.Errorf("core: encode joint: %w", err)
	}
	fs.enqueue("joints", keyFile(hash), data)
	return nil
}

func (fs *FileStore) GetJoint(hash string) (*Joint, bool, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, "joints", keyFile(hash)))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r rlpJoint
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, false, fmt.Errorf("core: decode joint: %w", err)
	}
	return fromRLPJoint(r), true, nil
}

func (fs *FileStore) PutChildren(hash string, children []string) error {
	data, err := rlp.EncodeToBytes(children)
	if err != nil {
		return err
	}
	fs.enqueue("children", keyFile(hash), data)
	return nil
}

func (fs *FileStore) GetChildren(hash string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, "children", keyFile(hash)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var children []string
	if err := rlp.DecodeBytes(data, &children); err != nil {
		return nil, err
	}
	return children, nil
}

func (fs *FileStore) PutProperty(hash string, p *JointProperty) error {
	data, err := rlp.EncodeToBytes(toRLPProperty(p))
	if err != nil {
		return err
	}
	fs.enqueue("properties", keyFile(hash), data)
	return nil
}

func (fs *FileStore) GetProperty(hash string) (*JointProperty, bool, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, "properties", keyFile(hash)))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r rlpProperty
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, false, err
	}
	return fromRLPProperty(r), true, nil
}

// SaveLastMCI persists misc/last_mci synchronously (not via the async
// pool): it is read once at the very next startup and must not race a
// process exit (§6 "misc/last_mci -> last stable MCI at shutdown").
func (fs *FileStore) SaveLastMCI(mci int64) error {
	fs.miscMu.Lock()
	defer fs.miscMu.Unlock()
	data, err := rlp.EncodeToBytes(mci)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(fs.root, "misc", "last_mci"), data, 0o644)
}

func (fs *FileStore) LoadLastMCI() (int64, bool, error) {
	data, err := os.ReadFile(filepath.Join(fs.root, "misc", "last_mci"))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var mci int64
	if err := rlp.DecodeBytes(data, &mci); err != nil {
		return 0, false, err
	}
	return mci, true, nil
}

func (fs *FileStore) AllJointHashes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.root, "joints"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		out = append(out, string(raw))
	}
	return out, nil
}

// Close drains the writer pool.
func (fs *FileStore) Close() error {
	close(fs.jobs)
	fs.wg.Wait()
	return nil
}

// SnapshotGzip writes a gzip-compressed snapshot of every joint hash
// currently on disk, mirroring the teacher's ledger.go WAL/snapshot split.
func SnapshotGzip(fs *FileStore, w *bytes.Buffer) error {
	gz := gzip.NewWriter(w)
	hashes, err := fs.AllJointHashes()
	if err != nil {
		return err
	}
	if err := rlp.Encode(gz, hashes); err != nil {
		return err
	}
	return gz.Close()
}
