package core

import "testing"

func makeWitnessAddresses(t *testing.T, n int) []Address {
	t.Helper()
	words := []string{
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		"legal winner thank year wave sausage worth useful legal winner thank yellow",
		"letter advice cage absurd amount doctor acoustic avoid letter advice cage above",
		"zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong",
	}
	addrs := make([]Address, 0, n)
	for i := 0; i < n; i++ {
		s, err := NewMnemonicSigner(words[i%len(words)], "passphrase-"+string(rune('a'+i)))
		if err != nil {
			t.Fatalf("NewMnemonicSigner: %v", err)
		}
		addrs = append(addrs, s.Address())
	}
	return addrs
}

func TestNewWitnessListRejectsWrongCount(t *testing.T) {
	addrs := makeWitnessAddresses(t, WitnessCount-1)
	if _, err := NewWitnessList(addrs); err == nil {
		t.Fatalf("expected error for a committee smaller than WitnessCount")
	}
}

func TestNewWitnessListAcceptsTwelveUniqueAddresses(t *testing.T) {
	addrs := makeWitnessAddresses(t, WitnessCount)
	wl, err := NewWitnessList(addrs)
	if err != nil {
		t.Fatalf("NewWitnessList failed: %v", err)
	}
	for _, a := range addrs {
		if !wl.Contains(a) {
			t.Fatalf("committee does not contain its own address %s", a)
		}
	}
	if len(wl.Addresses()) != WitnessCount {
		t.Fatalf("Addresses() returned %d entries, want %d", len(wl.Addresses()), WitnessCount)
	}
}

func TestNewWitnessListRejectsDuplicates(t *testing.T) {
	addrs := makeWitnessAddresses(t, WitnessCount-1)
	addrs = append(addrs, addrs[0])
	if _, err := NewWitnessList(addrs); err == nil {
		t.Fatalf("expected error for a committee containing a duplicate address")
	}
}

func TestWitnessListAddressesIsACopy(t *testing.T) {
	addrs := makeWitnessAddresses(t, WitnessCount)
	wl, err := NewWitnessList(addrs)
	if err != nil {
		t.Fatalf("NewWitnessList failed: %v", err)
	}
	got := wl.Addresses()
	got[0] = "TAMPERED"
	if wl.Addresses()[0] == "TAMPERED" {
		t.Fatalf("Addresses() leaked internal slice to caller mutation")
	}
}
