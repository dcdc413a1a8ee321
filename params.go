package secretstack

import (
	"time"

	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/nat"
	"github.com/perlin-network/secretstack/transport"
	"github.com/perlin-network/secretstack/wire"
)

type parameters struct {
	Seed []byte
	Keys *identity.Keypair

	Host string
	Port uint16

	Transports []transport.Layer

	NAT         bool
	NATDiscover nat.Discover

	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	DrainTimeout     time.Duration

	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	MaxFrameSize uint32
}

func DefaultParams() parameters {
	return parameters{
		Host: "127.0.0.1",

		HandshakeTimeout: handshake.DefaultTimeout,
		DialTimeout:      3 * time.Second,
		DrainTimeout:     5 * time.Second,

		KeepAliveInterval: 10 * time.Second,
		KeepAliveTimeout:  30 * time.Second,

		MaxFrameSize: wire.DefaultMaxFrameSize,
	}
}
