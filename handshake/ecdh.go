package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"math/big"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

var curve25519P, _ = new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819949", 10)

// ed25519PublicKeyToCurve25519 maps an Ed25519 point to its Montgomery u-coordinate.
func ed25519PublicKeyToCurve25519(pk identity.PublicKey) []byte {
	// ed25519.PublicKey is a little endian representation of the y-coordinate,
	// with the most significant bit set based on the sign of the x-coordinate.
	bigEndianY := make([]byte, ed25519.PublicKeySize)
	for i, b := range pk {
		bigEndianY[ed25519.PublicKeySize-i-1] = b
	}
	bigEndianY[0] &= 0b0111_1111

	// The Montgomery u-coordinate is derived through the bilinear map
	//
	//     u = (1 + y) / (1 - y)
	//
	// See https://blog.filippo.io/using-ed25519-keys-for-encryption.
	y := new(big.Int).SetBytes(bigEndianY)
	denom := big.NewInt(1)
	denom.ModInverse(denom.Sub(denom, y), curve25519P) // 1 / (1 - y)
	u := y.Mul(y.Add(y, big.NewInt(1)), denom)
	u.Mod(u, curve25519P)

	out := make([]byte, curve25519.PointSize)
	uBytes := u.Bytes()
	for i, b := range uBytes {
		out[len(uBytes)-i-1] = b
	}

	return out
}

// ed25519PrivateKeyToCurve25519 returns the X25519 scalar matching an Ed25519 private key. Clamping is left to
// curve25519.X25519.
func ed25519PrivateKeyToCurve25519(pk ed25519.PrivateKey) []byte {
	h := sha512.New()
	h.Write(pk.Seed())
	out := h.Sum(nil)
	return out[:curve25519.ScalarSize]
}

// ephemeral is a single-use X25519 keypair.
type ephemeral struct {
	public  [curve25519.PointSize]byte
	private [curve25519.ScalarSize]byte
}

func generateEphemeral() (*ephemeral, error) {
	var e ephemeral

	if _, err := rand.Read(e.private[:]); err != nil {
		return nil, errors.Wrap(err, "failed to generate ephemeral secret")
	}

	pub, err := curve25519.X25519(e.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive ephemeral public key")
	}

	copy(e.public[:], pub)
	return &e, nil
}

// x25519 performs a Diffie-Hellman exchange. It throws an error should the peer's point be of low order.
func x25519(scalar, point []byte) ([]byte, error) {
	shared, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive a shared key")
	}

	return shared, nil
}
