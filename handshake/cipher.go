package handshake

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sessionInfo = "secretstack/boxstream/v1"

// mac returns the app-key scoped authenticator for an ephemeral public key.
func mac(appKey AppKey, msg []byte) []byte {
	h := blake2b.NewMAC(32, appKey[:])
	h.Write(msg)
	return h.Sum(nil)
}

func digest(parts ...[]byte) []byte {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	return h.Sum(nil)
}

// seal encrypts msg under a key that is only ever used once, hence the zero nonce.
func seal(key, msg []byte) ([]byte, error) {
	suite, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, suite.NonceSize())
	return suite.Seal(nil, nonce, msg, nil), nil
}

func open(key, box []byte) ([]byte, error) {
	suite, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, suite.NonceSize())
	return suite.Open(nil, nonce, box, nil)
}

// sessionKeys derives one AEAD per direction from the handshake's shared secrets. Each direction is bound to the
// ephemeral public key of the side that sends on it, so peers sharing an identity still never share a key.
func sessionKeys(secret []byte, sender []byte) (cipher.AEAD, error) {
	reader := hkdf.New(sha256.New, secret, nil, append([]byte(sessionInfo), sender[:]...))

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to derive session key")
	}

	return chacha20poly1305.New(key)
}

func counterNonce(suite cipher.AEAD, counter uint64) []byte {
	nonce := make([]byte, suite.NonceSize())
	binary.LittleEndian.PutUint64(nonce, counter)
	return nonce
}
