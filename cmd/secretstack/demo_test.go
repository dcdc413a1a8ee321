package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/perlin-network/secretstack"
	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/log"
	"github.com/perlin-network/secretstack/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDemo(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	log.Disable()

	opts := &options{AppKey: "1KHLiKZvAvjbY1ziZEHMXawbCEIM6qwjCDm3VYRan/s=", Seed: "server", Host: "127.0.0.1", Transports: []string{"net"}, LogLevel: "error"}

	factory, nodeOpts, err := opts.factory()
	require.NoError(t, err)

	server, err := factory(nodeOpts...)
	require.NoError(t, err)
	defer server.Close(true)

	appKey, err := handshake.ParseAppKey(opts.AppKey)
	require.NoError(t, err)

	builder := secretstack.NewBuilder(appKey)
	client, err := builder.Build()
	require.NoError(t, err)

	alice, err := client(secretstack.WithSeed([]byte("alice")), secretstack.WithTransports(transport.NewTCP(nil)))
	require.NoError(t, err)
	defer alice.Close(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rpc, err := alice.Connect(ctx, server.Address())
	require.NoError(t, err)

	var greeting string
	require.NoError(t, rpc.Call(ctx, "hello", &greeting))
	assert.Equal(t, "Hello, stranger.", greeting)

	var me map[string]string
	require.NoError(t, rpc.Call(ctx, "whoami", &me))
	assert.Equal(t, alice.PublicKey().String(), me["id"])

	src, err := rpc.Source(ctx, "count", 3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		var v int
		require.NoError(t, src.Next(&v))
		assert.Equal(t, i, v)
	}
	assert.Equal(t, io.EOF, src.Next(nil))
	require.NoError(t, src.Close())

	d, err := rpc.Duplex(ctx, "echo")
	require.NoError(t, err)
	require.NoError(t, d.Send("ping"))
	require.NoError(t, d.CloseSend())

	var pong string
	require.NoError(t, d.Recv(&pong))
	assert.Equal(t, "ping", pong)
	assert.Equal(t, io.EOF, d.Recv(nil))
	require.NoError(t, d.Close())

	require.NoError(t, alice.Close(true))
	require.NoError(t, server.Close(true))
}

func TestUnknownTransport(t *testing.T) {
	opts := &options{AppKey: "1KHLiKZvAvjbY1ziZEHMXawbCEIM6qwjCDm3VYRan/s=", Seed: "server", Transports: []string{"carrier-pigeon"}, LogLevel: "info"}

	_, _, err := opts.factory()
	assert.Error(t, err)
}
