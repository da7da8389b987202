package issuer

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oniproject/tto/controlplane/token"
)

func testParams() MintParams {
	return MintParams{
		ClientID:    666,
		Protocol:    0x1122334455667788,
		Expire:      30 * time.Second,
		TimeoutSecs: 15,
		Addrs:       []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:40000")},
	}
}

func TestMint(t *testing.T) {
	ks, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	tok, err := ks.Mint(testParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	key := ks.Key()
	private, err := token.OpenPrivate(tok.Sealed[:], tok.Protocol, tok.Expire, tok.Nonce[:], &key)
	if err != nil {
		t.Fatalf("server cannot open minted token: %v", err)
	}
	if private.ClientID != 666 {
		t.Fatalf("client id %d", private.ClientID)
	}
}

func TestMintValidation(t *testing.T) {
	ks, _ := Generate()

	p := testParams()
	p.Expire = 0
	if _, err := ks.Mint(p); !errors.Is(err, ErrInvalidExpire) {
		t.Fatalf("expected ErrInvalidExpire, got %v", err)
	}

	p = testParams()
	p.Addrs = nil
	if _, err := ks.Mint(p); !errors.Is(err, ErrMissingAddrs) {
		t.Fatalf("expected ErrMissingAddrs, got %v", err)
	}
}

func TestRotateInvalidatesOldTokens(t *testing.T) {
	ks, _ := Generate()
	tok, err := ks.Mint(testParams())
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	other, _ := Generate()
	ks.Rotate(other.Key())
	key := ks.Key()
	if _, err := token.OpenPrivate(tok.Sealed[:], tok.Protocol, tok.Expire, tok.Nonce[:], &key); err == nil {
		t.Fatalf("token minted before rotation must not verify")
	}
}

func TestPrivateKeyFileRoundtrip(t *testing.T) {
	ks, _ := Generate()
	path := filepath.Join(t.TempDir(), "issuer_key.json")
	if err := ks.WritePrivateKeyFile(path); err != nil {
		t.Fatalf("WritePrivateKeyFile failed: %v", err)
	}
	loaded, err := LoadPrivateKeyFile(path)
	if err != nil {
		t.Fatalf("LoadPrivateKeyFile failed: %v", err)
	}
	if loaded.Key() != ks.Key() {
		t.Fatalf("key mismatch after reload")
	}
}

func TestLoadPrivateKeyFileRejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"key_b64u":"c2hvcnQ"}`), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadPrivateKeyFile(path); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
