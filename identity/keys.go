package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const (
	// SizePublicKey is the size in bytes of a nodes/peers public key.
	SizePublicKey = ed25519.PublicKeySize

	// SizePrivateKey is the size in bytes of a nodes/peers private key.
	SizePrivateKey = ed25519.PrivateKeySize

	// SizeSignature is the size in bytes of a cryptographic signature.
	SizeSignature = ed25519.SignatureSize

	keyPrefix = "@"
	keySuffix = ".ed25519"
)

// PublicKey is the ed25519 public half of a node identity.
type PublicKey [SizePublicKey]byte

// ZeroPublicKey is the zero-value for a node/peer public key.
var ZeroPublicKey PublicKey

// ParsePublicKey decodes a public key from either its canonical form
// `@<base64>.ed25519` or bare standard base64.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, keyPrefix)
	s = strings.TrimSuffix(s, keySuffix)

	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, errors.Wrap(err, "public key is not valid base64")
	}

	if len(buf) != SizePublicKey {
		return key, errors.Errorf("got public key of %d byte(s), but expected %d byte(s)", len(buf), SizePublicKey)
	}

	copy(key[:], buf)
	return key, nil
}

// Verify returns true if signature over data was produced by the bearer of this public key.
func (k PublicKey) Verify(data, signature []byte) bool {
	if len(signature) != SizeSignature {
		return false
	}
	return ed25519.Verify(k[:], data, signature)
}

// Base64 returns the standard base64 encoding of the public key.
func (k PublicKey) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// String returns the canonical `@<base64>.ed25519` form of the public key. The same string is used as an
// identity class in permission rules.
func (k PublicKey) String() string {
	return keyPrefix + k.Base64() + keySuffix
}

// IsZero reports whether k is unset.
func (k PublicKey) IsZero() bool {
	return k == ZeroPublicKey
}

// MarshalJSON returns the canonical string form of this public key in JSON.
func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses a public key from its JSON string form.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	key, err := ParsePublicKey(s)
	if err != nil {
		return err
	}

	*k = key
	return nil
}
