package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tyler-smith/go-bip39"
)

// Authentifier is one author's proof over the signed payload: an algorithm
// tag ("sig" for secp256k1) plus the raw signature bytes (§4.2 "Signature
// verification supports [\"sig\", {pubkey}]").
type Authentifier struct {
	Algo string
	Sig  []byte
}

// Definition is the address-defining object a new author attaches the first
// time it signs; Chash(Definition.CanonicalValue()) must equal the address
// (§4.2). This repo only implements the single-signature "sig" definition
// kind; multi-signature definitions are an Open Question left unaddressed
// by spec.md and are out of scope here.
type Definition struct {
	PubKeyCompressed []byte
}

func (d Definition) CanonicalValue() CanonicalValue {
	return CArray{CString("sig"), CanonicalObject{"pubkey": CString(string(d.PubKeyCompressed))}}
}

// Signer is the external collaborator the core consumes for authoring
// joints (§1 "the core consumes ... a signer"). Wallet key derivation
// beyond this minimal contract is out of scope.
type Signer interface {
	Address() Address
	Definition() Definition
	Sign(payloadHash [32]byte) (Authentifier, error)
	Verify(payloadHash [32]byte, pub []byte, auth Authentifier) bool
}

// MnemonicSigner derives a single secp256k1 signing identity from a BIP-39
// mnemonic, sufficient to drive genesis construction and CLI wallet
// operations. It is not a hierarchical-deterministic wallet service.
type MnemonicSigner struct {
	priv *secp256k1.PrivateKey
	pub  []byte
	addr Address
	def  Definition
}

// NewMnemonicSigner derives a deterministic key from mnemonic+passphrase via
// BIP-39's seed function, matching the teacher's pattern of deriving
// operational keys from a configured mnemonic (pkg/config's Mnemonic field).
func NewMnemonicSigner(mnemonic, passphrase string) (*MnemonicSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("core: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	sum := sha256.Sum256(seed)
	priv := secp256k1.PrivKeyFromBytes(sum[:])
	pub := priv.PubKey().SerializeCompressed()
	def := Definition{PubKeyCompressed: pub}
	addr := Chash(def.CanonicalValue())
	return &MnemonicSigner{priv: priv, pub: pub, addr: addr, def: def}, nil
}

func (s *MnemonicSigner) Address() Address       { return s.addr }
func (s *MnemonicSigner) Definition() Definition  { return s.def }

func (s *MnemonicSigner) Sign(payloadHash [32]byte) (Authentifier, error) {
	sig := ecdsa.Sign(s.priv, payloadHash[:])
	return Authentifier{Algo: "sig", Sig: sig.Serialize()}, nil
}

func (s *MnemonicSigner) Verify(payloadHash [32]byte, pub []byte, auth Authentifier) bool {
	return VerifyAuthentifier(payloadHash, pub, auth)
}

// VerifyAuthentifier checks a detached signature against a public key,
// independent of any particular Signer instance — used by ready-validation
// (§4.2) to verify authors that are not the local signing identity.
func VerifyAuthentifier(payloadHash [32]byte, pub []byte, auth Authentifier) bool {
	if auth.Algo != "sig" {
		return false
	}
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(auth.Sig)
	if err != nil {
		return false
	}
	return sig.Verify(payloadHash[:], key)
}

// SignedPayloadHash is the SHA-256 of the canonical serialization of a unit
// with every author's authentifiers nulled (§4.2, §6), the payload every
// author signs and every verifier recomputes.
func SignedPayloadHash(u *Unit) [32]byte {
	return Sha256Sum(u.canonicalForSigning())
}
