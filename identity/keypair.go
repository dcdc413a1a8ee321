// Package identity provides the ed25519 identities nodes authenticate with, either derived deterministically from
// a seed or supplied as explicit key material.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"

	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
)

// ErrNoKeys is returned when neither a seed nor a keypair is available to build an identity from.
var ErrNoKeys = errors.New("config object should contain shs keys: a seed or keys are required")

// Keypair is a node's identity. The private half never leaves the process.
type Keypair struct {
	Public  PublicKey
	Private ed25519.PrivateKey
}

// Generate randomly generates a new identity. Nil may be passed to rand in order to use crypto/rand by default.
func Generate(r io.Reader) (Keypair, error) {
	if r == nil {
		r = rand.Reader
	}

	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return Keypair{}, errors.Wrap(err, "failed to generate ed25519 keypair")
	}

	var kp Keypair
	copy(kp.Public[:], pub)
	kp.Private = priv

	return kp, nil
}

// FromSeed deterministically derives an identity from seed. A seed of exactly ed25519.SeedSize bytes is used as the
// ed25519 seed as-is; seeds of any other length are first hashed with BLAKE2b-256.
func FromSeed(seed []byte) (Keypair, error) {
	if len(seed) == 0 {
		return Keypair{}, errors.New("seed must not be empty")
	}

	if len(seed) != ed25519.SeedSize {
		sum := blake2b.Sum256(seed)
		seed = sum[:]
	}

	priv := ed25519.NewKeyFromSeed(seed)

	var kp Keypair
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	kp.Private = priv

	return kp, nil
}

// FromKeys validates an explicitly supplied keypair and returns it verbatim.
func FromKeys(keys Keypair) (Keypair, error) {
	if len(keys.Private) != SizePrivateKey {
		return Keypair{}, errors.Errorf("got private key of %d byte(s), but expected %d byte(s)", len(keys.Private), SizePrivateKey)
	}

	derived := keys.Private.Public().(ed25519.PublicKey)

	if keys.Public.IsZero() {
		copy(keys.Public[:], derived)
	}

	if !bytes.Equal(derived, keys.Public[:]) {
		return Keypair{}, errors.New("public key does not match private key")
	}

	return keys, nil
}

// Resolve builds an identity out of whichever key material is available. Should both be present, the seed takes
// precedence so that identities stay reproducible. Should neither be present, ErrNoKeys is returned.
func Resolve(seed []byte, keys *Keypair) (Keypair, error) {
	switch {
	case len(seed) > 0:
		return FromSeed(seed)
	case keys != nil:
		return FromKeys(*keys)
	default:
		return Keypair{}, ErrNoKeys
	}
}

// Sign signs data with the identity's private key.
func (k Keypair) Sign(data []byte) []byte {
	return ed25519.Sign(k.Private, data)
}

// String returns the public key of this identity. The private key is never printed.
func (k Keypair) String() string {
	return k.Public.String()
}
