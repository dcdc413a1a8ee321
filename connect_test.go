package secretstack

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	gonat "github.com/fd/go-nat"
	"github.com/golang/mock/gomock"
	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/internal/iotest"
	"github.com/perlin-network/secretstack/internal/mocks"
	"github.com/perlin-network/secretstack/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDialFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mem := transport.NewMemory()
	refused := errors.New("connection refused")

	layer := mocks.NewMockLayer(ctrl)
	layer.EXPECT().Name().Return("net").AnyTimes()
	layer.EXPECT().Listen("127.0.0.1", uint16(0)).DoAndReturn(func(host string, port uint16) (net.Listener, error) {
		return mem.Listen(host, port)
	})
	layer.EXPECT().Dial(gomock.Any(), "10.0.0.1", uint16(8008)).Return(nil, refused)

	node := spawn(t, testFactory(t, testAppKey(1)), layer, "alice")

	var events int32
	node.OnConnect(func(*RPC, bool) { atomic.AddInt32(&events, 1) })
	node.OnDisconnect(func(*RPC, error) { atomic.AddInt32(&events, 1) })

	bob, err := identity.FromSeed([]byte("bob"))
	require.NoError(t, err)

	address := Address{Transport: "net", Host: "10.0.0.1", Port: 8008, Key: bob.Public}.String()

	_, err = node.Connect(testContext(t), address)
	require.Error(t, err)
	assert.Equal(t, refused, errors.Cause(err))

	assert.EqualValues(t, 0, atomic.LoadInt32(&events))
	assert.Empty(t, node.Peers())

	assert.NoError(t, node.Close(true))
}

func TestSilentPeer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mem := transport.NewMemory()
	silent := iotest.NewSilent()

	layer := mocks.NewMockLayer(ctrl)
	layer.EXPECT().Name().Return("net").AnyTimes()
	layer.EXPECT().Listen(gomock.Any(), gomock.Any()).DoAndReturn(func(host string, port uint16) (net.Listener, error) {
		return mem.Listen(host, port)
	})
	layer.EXPECT().Dial(gomock.Any(), gomock.Any(), gomock.Any()).Return(silent, nil)

	node := spawn(t, testFactory(t, testAppKey(1)), layer, "alice", WithHandshakeTimeout(100*time.Millisecond))

	bob, err := identity.FromSeed([]byte("bob"))
	require.NoError(t, err)

	address := Address{Transport: "net", Host: "10.0.0.1", Port: 8008, Key: bob.Public}.String()

	_, err = node.Connect(testContext(t), address)
	assert.True(t, errors.Is(err, handshake.ErrHandshakeFailed))

	// The connection was given up on.
	_, err = silent.Write([]byte("hello"))
	assert.Error(t, err)

	assert.NoError(t, node.Close(true))
}

func TestListenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	layer := mocks.NewMockLayer(ctrl)
	layer.EXPECT().Name().Return("net").AnyTimes()
	layer.EXPECT().Listen(gomock.Any(), gomock.Any()).Return(nil, errors.New("address in use"))

	_, err := testFactory(t, testAppKey(1))(WithSeed([]byte("alice")), WithTransports(layer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address in use")
}

func TestDuplicateTransport(t *testing.T) {
	mem := transport.NewMemory()

	_, err := testFactory(t, testAppKey(1))(WithSeed([]byte("alice")), WithTransports(mem, mem))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")
}

func TestMultipleTransports(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	factory := testFactory(t, testAppKey(1))
	mem := transport.NewMemory()

	alice := spawn(t, factory, mem, "alice")

	bob, err := factory(WithSeed([]byte("bob")), WithTransports(transport.NewTCP(nil), mem))
	require.NoError(t, err)

	addrs, err := ParseAddress(bob.Address())
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, "net", addrs[0].Transport)
	assert.Equal(t, "mem", addrs[1].Transport)

	// Alice only speaks mem, so she skips over the net address.
	rpc, err := alice.Connect(testContext(t), bob.Address())
	require.NoError(t, err)
	assert.Equal(t, "mem", rpc.address.Transport)

	var res string
	require.NoError(t, rpc.Call(testContext(t), "hello", &res, "Alice"))
	assert.Equal(t, "Hello, Alice.", res)

	assert.NoError(t, alice.Close(true))
	assert.NoError(t, bob.Close(true))
}

type gateway struct {
	deleted []int
}

var _ gonat.NAT = (*gateway)(nil)

func (g *gateway) Type() string {
	return "fake"
}

func (g *gateway) GetDeviceAddress() (net.IP, error) {
	return net.IPv4(192, 168, 0, 1), nil
}

func (g *gateway) GetExternalAddress() (net.IP, error) {
	return net.IPv4(203, 0, 113, 7), nil
}

func (g *gateway) GetInternalAddress() (net.IP, error) {
	return net.IPv4(192, 168, 0, 42), nil
}

func (g *gateway) AddPortMapping(protocol string, internalPort int, description string, timeout time.Duration) (int, error) {
	return 40000, nil
}

func (g *gateway) DeletePortMapping(protocol string, internalPort int) error {
	g.deleted = append(g.deleted, internalPort)
	return nil
}

func TestNATRewritesAddress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gw := &gateway{}
	discover := func() (gonat.NAT, error) { return gw, nil }

	node, err := testFactory(t, testAppKey(1))(WithSeed([]byte("alice")), WithNAT(discover))
	require.NoError(t, err)

	addrs, err := ParseAddress(node.Address())
	require.NoError(t, err)
	require.Len(t, addrs, 1)

	assert.Equal(t, "203.0.113.7", addrs[0].Host)
	assert.EqualValues(t, 40000, addrs[0].Port)

	require.NoError(t, node.Close(true))
	assert.Len(t, gw.deleted, 1)
}

func TestNATFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	discover := func() (gonat.NAT, error) { return nil, errors.New("no gateway") }

	_, err := testFactory(t, testAppKey(1))(WithSeed([]byte("alice")), WithNAT(discover))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway")
}
