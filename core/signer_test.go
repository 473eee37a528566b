package core

import "testing"

func TestMnemonicSignerRejectsInvalidMnemonic(t *testing.T) {
	if _, err := NewMnemonicSigner("not a real mnemonic at all", ""); err == nil {
		t.Fatalf("expected an error for an invalid BIP-39 mnemonic")
	}
}

func TestMnemonicSignerSignVerifyRoundTrip(t *testing.T) {
	signer := testSigner(t)
	u := Unit{Version: "1.0", Alt: "1", Authors: []Author{{Address: signer.Address()}}}
	hash := SignedPayloadHash(&u)

	auth, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if auth.Algo != "sig" {
		t.Fatalf("Authentifier.Algo = %q, want sig", auth.Algo)
	}
	if !signer.Verify(hash, signer.Definition().PubKeyCompressed, auth) {
		t.Fatalf("Verify rejected a signature it just produced")
	}
}

func TestVerifyAuthentifierRejectsWrongHash(t *testing.T) {
	signer := testSigner(t)
	u := Unit{Version: "1.0", Authors: []Author{{Address: signer.Address()}}}
	hash := SignedPayloadHash(&u)
	auth, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	other := Unit{Version: "2.0", Authors: []Author{{Address: signer.Address()}}}
	otherHash := SignedPayloadHash(&other)
	if VerifyAuthentifier(otherHash, signer.Definition().PubKeyCompressed, auth) {
		t.Fatalf("signature over one payload verified against a different payload's hash")
	}
}

func TestVerifyAuthentifierRejectsWrongAlgo(t *testing.T) {
	auth := Authentifier{Algo: "not-sig", Sig: []byte("whatever")}
	var hash [32]byte
	if VerifyAuthentifier(hash, []byte("pub"), auth) {
		t.Fatalf("VerifyAuthentifier accepted an unsupported algo tag")
	}
}

func TestDefinitionCanonicalValueMatchesChash(t *testing.T) {
	signer := testSigner(t)
	def := signer.Definition()
	if Chash(def.CanonicalValue()) != signer.Address() {
		t.Fatalf("Chash(definition) does not reproduce the signer's own address")
	}
}
