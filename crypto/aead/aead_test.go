package aead

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := Keygen()
	if err != nil {
		t.Fatalf("Keygen failed: %v", err)
	}
	nonce := make([]byte, NonceSize)
	nonce[0] = 7
	ad := []byte("additional")
	plain := []byte("the quick brown fox")

	sealed, err := Seal(&key, nonce, nil, plain, ad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) != len(plain)+TagSize {
		t.Fatalf("sealed length %d, want %d", len(sealed), len(plain)+TagSize)
	}
	got, err := Open(&key, nonce, nil, sealed, ad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, _ := Keygen()
	wrong, _ := Keygen()
	nonce := make([]byte, NonceSize)
	sealed, err := Seal(&key, nonce, nil, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := Open(&wrong, nonce, nil, sealed, nil); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestOpenRejectsTamperedAD(t *testing.T) {
	key, _ := Keygen()
	nonce := make([]byte, NonceSize)
	sealed, err := Seal(&key, nonce, nil, []byte("payload"), []byte("ad-1"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := Open(&key, nonce, nil, sealed, []byte("ad-2")); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestSealOpenX(t *testing.T) {
	key, _ := Keygen()
	nonce := make([]byte, XNonceSize)
	if err := RandomBytes(nonce); err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	sealed, err := SealX(&key, nonce, nil, []byte("xchacha"), []byte("ad"))
	if err != nil {
		t.Fatalf("SealX failed: %v", err)
	}
	got, err := OpenX(&key, nonce, nil, sealed, []byte("ad"))
	if err != nil {
		t.Fatalf("OpenX failed: %v", err)
	}
	if !bytes.Equal(got, []byte("xchacha")) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestEqual(t *testing.T) {
	if !Equal([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Fatalf("expected equal")
	}
	if Equal([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Fatalf("expected not equal")
	}
	if Equal([]byte{1}, []byte{1, 2}) {
		t.Fatalf("length mismatch must not compare equal")
	}
}
