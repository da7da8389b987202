package issuer

import (
	"encoding/json"
	"os"

	"github.com/oniproject/tto/internal/base64url"
	"github.com/oniproject/tto/internal/securefile"
	"github.com/oniproject/tto/netcode"
)

// PrivateKeyFile matches the JSON layout consumed by the helper tools that
// mint connect tokens.
//
// This format is intended for local development and demos. Keep it secret.
type PrivateKeyFile struct {
	KeyB64 string `json:"key_b64u"` // Base64url-encoded 32-byte private key.
}

// ExportPrivateKeyFile serializes the current key as JSON.
func (k *Keyset) ExportPrivateKeyFile() ([]byte, error) {
	key := k.Key()
	return json.MarshalIndent(PrivateKeyFile{KeyB64: base64url.Encode(key[:])}, "", "  ")
}

// WritePrivateKeyFile writes the key file with owner-only permissions.
func (k *Keyset) WritePrivateKeyFile(path string) error {
	b, err := k.ExportPrivateKeyFile()
	if err != nil {
		return err
	}
	return securefile.WriteFileAtomic(path, append(b, '\n'), 0o600)
}

// LoadPrivateKeyFile reads a keyset back from a key file.
func LoadPrivateKeyFile(path string) (*Keyset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f PrivateKeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	raw, err := base64url.Decode(f.KeyB64)
	if err != nil {
		return nil, err
	}
	if len(raw) != netcode.KeySize {
		return nil, ErrInvalidKey
	}
	var key [netcode.KeySize]byte
	copy(key[:], raw)
	return New(key), nil
}
