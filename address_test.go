package secretstack

import (
	"net"
	"testing"

	"github.com/perlin-network/secretstack/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	key, err := identity.FromSeed([]byte("alice"))
	require.NoError(t, err)

	tcp := Address{Transport: "net", Host: "127.0.0.1", Port: 8008, Key: key.Public}
	v6 := Address{Transport: "quic", Host: "::1", Port: 9009, Key: key.Public}

	assert.Equal(t, "net:127.0.0.1:8008~shs:"+key.Public.Base64(), tcp.String())
	assert.Equal(t, "quic:[::1]:9009~shs:"+key.Public.Base64(), v6.String())
	assert.Greater(t, len(tcp.String()), 40)

	addrs, err := ParseAddress(tcp.String())
	require.NoError(t, err)
	assert.Equal(t, []Address{tcp}, addrs)

	addrs, err = ParseAddress(formatAddresses([]Address{tcp, v6}))
	require.NoError(t, err)
	assert.Equal(t, []Address{tcp, v6}, addrs)

	addrs, err = ParseAddress(" " + tcp.String() + " ; " + v6.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, []Address{tcp, v6}, addrs)
}

func TestParseAddressErrors(t *testing.T) {
	key, err := identity.FromSeed([]byte("alice"))
	require.NoError(t, err)

	b64 := key.Public.Base64()

	for _, bad := range []string{
		"",
		"net:127.0.0.1:8008",
		"net:127.0.0.1:8008~shs:notbase64",
		"127.0.0.1:8008~shs:" + b64,
		":127.0.0.1:8008~shs:" + b64,
		"net:127.0.0.1~shs:" + b64,
		"net:127.0.0.1:99999~shs:" + b64,
		"net:127.0.0.1:8008~shs:" + b64 + ";",
	} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestRemoteAddress(t *testing.T) {
	key, err := identity.FromSeed([]byte("alice"))
	require.NoError(t, err)

	addr := remoteAddress("net", &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51234}, key.Public)
	assert.Equal(t, Address{Transport: "net", Host: "10.0.0.2", Port: 51234, Key: key.Public}, addr)

	addr = remoteAddress("mem", pipeAddr{}, key.Public)
	assert.Equal(t, "pipe", addr.Host)
	assert.Zero(t, addr.Port)
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
