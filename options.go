package secretstack

import (
	"time"

	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/nat"
	"github.com/perlin-network/secretstack/transport"
)

// Option represents a functional option that may be passed to a Factory for instantiating a new node with
// configured values.
type Option func(p *parameters)

// WithSeed derives the identity of the node deterministically from seed. It takes precedence over WithKeys.
func WithSeed(seed []byte) Option {
	return func(p *parameters) {
		p.Seed = append([]byte(nil), seed...)
	}
}

// WithKeys sets the identity of the node verbatim.
func WithKeys(keys identity.Keypair) Option {
	return func(p *parameters) {
		p.Keys = &keys
	}
}

// WithHost sets the host the node listens on and advertises. By default, it is 127.0.0.1.
func WithHost(host string) Option {
	return func(p *parameters) {
		p.Host = host
	}
}

// WithPort sets the port the node listens on for every transport. By default, it is 0, letting the operating system
// pick a free port for each transport.
func WithPort(port uint16) Option {
	return func(p *parameters) {
		p.Port = port
	}
}

// WithTransports sets the transports the node listens and dials over, in order of preference when dialing. By
// default, only TCP is used.
func WithTransports(layers ...transport.Layer) Option {
	return func(p *parameters) {
		p.Transports = layers
	}
}

// WithNAT forwards the listening ports of the node through the local gateway and advertises the external address.
// A nil discover probes for a UPnP or NAT-PMP gateway.
func WithNAT(discover nat.Discover) Option {
	return func(p *parameters) {
		p.NAT = true
		p.NATDiscover = discover
	}
}

// WithHandshakeTimeout bounds how long a peer has to complete the secret handshake. By default, it is 10 seconds.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(p *parameters) {
		p.HandshakeTimeout = timeout
	}
}

// WithDialTimeout bounds how long dialing a peer may take. By default, it is 3 seconds.
func WithDialTimeout(timeout time.Duration) Option {
	return func(p *parameters) {
		p.DialTimeout = timeout
	}
}

// WithDrainTimeout bounds how long a graceful close waits for calls in flight to finish before closing connections
// regardless. By default, it is 5 seconds.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(p *parameters) {
		p.DrainTimeout = timeout
	}
}

// WithKeepAlive sets how often idle connections are pinged, and how long a connection may go without hearing from
// its peer before it is closed.
func WithKeepAlive(interval, timeout time.Duration) Option {
	return func(p *parameters) {
		p.KeepAliveInterval = interval
		p.KeepAliveTimeout = timeout
	}
}

// WithMaxFrameSize sets the largest RPC frame the node sends or accepts. By default, it is 16MB.
func WithMaxFrameSize(size uint32) Option {
	return func(p *parameters) {
		p.MaxFrameSize = size
	}
}
