package wallet

import (
	"strings"
	"testing"
)

// Hardhat's well-known first dev account.
const (
	testKey      = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr     = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testMnemonic = "test test test test test test test test test test test junk"
)

func TestResolveFromEnvKey(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("MNEMONIC", "")
	t.Setenv("CLOB_API_KEY", "")
	t.Setenv("CLOB_SECRET", "")
	t.Setenv("CLOB_PASSPHRASE", "")

	w, err := Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.Address != testAddr {
		t.Fatalf("address = %q, want %q", w.Address, testAddr)
	}
	if w.Creds != nil {
		t.Fatal("no creds in the environment, want nil")
	}
}

func TestResolveDerivesFromMnemonic(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("MNEMONIC", testMnemonic)

	w, err := Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.Address != testAddr {
		t.Fatalf("address = %q, want %q", w.Address, testAddr)
	}
}

func TestResolveNoKeyMaterial(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("MNEMONIC", "")

	_, err := Resolve(nil)
	if err == nil || !strings.Contains(err.Error(), "no key material") {
		t.Fatalf("err = %v, want no key material error", err)
	}
}
