package crypto

import "testing"

func TestGeneratedKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.Prefix() != AccountPrefix {
		t.Fatalf("expected account prefix, got %s", addr.Prefix())
	}
	if len(addr.Bytes()) != 20 {
		t.Fatalf("expected 20-byte address, got %d", len(addr.Bytes()))
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.PubKey().Address().Equal(addr) {
		t.Fatalf("restored key derives %s, want %s", restored.PubKey().Address(), addr)
	}

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("decoded address %s, want %s", decoded, addr)
	}
}

func TestPrivateKeyFromBytesRejectsGarbage(t *testing.T) {
	if _, err := PrivateKeyFromBytes([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error for truncated key material")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("lending/main")
	b := ModuleAddress("lending/main")
	if !a.Equal(b) {
		t.Fatalf("module address must be deterministic")
	}
	if a.Prefix() != ModulePrefix {
		t.Fatalf("expected module prefix, got %s", a.Prefix())
	}
	if a.Equal(ModuleAddress("collateral/main")) {
		t.Fatalf("distinct module names must derive distinct addresses")
	}
}
