package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func TestFromSeedIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, s := range [][]byte{seed("alice"), seed("bob"), []byte("short seed"), bytes.Repeat([]byte{7}, 100)} {
		a, err := FromSeed(s)
		require.NoError(t, err)

		b, err := FromSeed(s)
		require.NoError(t, err)

		assert.Equal(t, a.Public, b.Public)
		assert.Equal(t, a.Private, b.Private)
	}

	alice, err := FromSeed(seed("alice"))
	require.NoError(t, err)

	bob, err := FromSeed(seed("bob"))
	require.NoError(t, err)

	assert.NotEqual(t, alice.Public, bob.Public)
}

func TestFromSeedEmpty(t *testing.T) {
	t.Parallel()

	_, err := FromSeed(nil)
	assert.Error(t, err)
}

func TestFromKeys(t *testing.T) {
	t.Parallel()

	kp, err := Generate(nil)
	require.NoError(t, err)

	got, err := FromKeys(kp)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got.Public)

	// The public half may be omitted and is derived from the private half.
	got, err = FromKeys(Keypair{Private: kp.Private})
	require.NoError(t, err)
	assert.Equal(t, kp.Public, got.Public)

	other, err := Generate(nil)
	require.NoError(t, err)

	_, err = FromKeys(Keypair{Public: other.Public, Private: kp.Private})
	assert.Error(t, err)

	_, err = FromKeys(Keypair{Private: kp.Private[:10]})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	_, err := Resolve(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoKeys))
	assert.Contains(t, err.Error(), "should contain shs keys")

	fromSeed, err := FromSeed(seed("carol"))
	require.NoError(t, err)

	explicit, err := Generate(nil)
	require.NoError(t, err)

	got, err := Resolve(nil, &explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit.Public, got.Public)

	// Seed takes precedence over explicit keys.
	got, err = Resolve(seed("carol"), &explicit)
	require.NoError(t, err)
	assert.Equal(t, fromSeed.Public, got.Public)
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	kp, err := FromSeed(seed("dave"))
	require.NoError(t, err)

	msg := []byte("secret stack")
	sig := kp.Sign(msg)

	assert.True(t, kp.Public.Verify(msg, sig))
	assert.False(t, kp.Public.Verify([]byte("tampered"), sig))
	assert.False(t, kp.Public.Verify(msg, sig[:10]))
}

func TestPublicKeyString(t *testing.T) {
	t.Parallel()

	kp, err := FromSeed(seed("erin"))
	require.NoError(t, err)

	s := kp.Public.String()
	assert.Len(t, s, 53)
	assert.Equal(t, "@", s[:1])
	assert.Equal(t, ".ed25519", s[len(s)-8:])
	assert.Equal(t, s, kp.String())

	parsed, err := ParsePublicKey(s)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	parsed, err = ParsePublicKey(kp.Public.Base64())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	_, err = ParsePublicKey("@not-base64!.ed25519")
	assert.Error(t, err)

	_, err = ParsePublicKey("@AAAA.ed25519")
	assert.Error(t, err)

	buf, err := json.Marshal(kp.Public)
	require.NoError(t, err)

	var decoded PublicKey
	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Equal(t, kp.Public, decoded)
}
