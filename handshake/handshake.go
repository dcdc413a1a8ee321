// Package handshake implements a secret handshake: a mutually authenticating key exchange scoped by a shared
// application key. Peers presenting a different application key never complete a handshake, and on success both
// sides hold an encrypted box stream plus the authenticated public key of the other side.
package handshake

import (
	"context"
	"encoding/base64"
	"net"
	"time"

	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/log"
	"github.com/pkg/errors"
)

// SizeAppKey is the size in bytes of an application key.
const SizeAppKey = 32

// DefaultTimeout bounds how long a peer has to complete a handshake.
const DefaultTimeout = 10 * time.Second

var (
	// ErrHandshakeFailed is the single error surfaced for every handshake failure. It deliberately carries no detail
	// on whether the app key, identity or transport was at fault.
	ErrHandshakeFailed = errors.New("secret handshake failed")

	// ErrNoAppKey is returned when a handshake is configured without an application key.
	ErrNoAppKey = errors.New("config object should contain caps.shs: an app key is required")
)

// AppKey is the capability shared out-of-band by all cooperating nodes.
type AppKey [SizeAppKey]byte

// NewAppKey copies buf into an AppKey. It returns an error if buf is not exactly SizeAppKey bytes.
func NewAppKey(buf []byte) (AppKey, error) {
	var key AppKey

	if len(buf) != SizeAppKey {
		return key, errors.Errorf("got app key of %d byte(s), but expected %d byte(s)", len(buf), SizeAppKey)
	}

	copy(key[:], buf)
	return key, nil
}

// ParseAppKey decodes a base64-encoded app key.
func ParseAppKey(s string) (AppKey, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return AppKey{}, errors.Wrap(err, "app key is not valid base64")
	}

	return NewAppKey(buf)
}

func (k AppKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Config mirrors the handshake plugin configuration: an app key, and exactly one resolvable source of identity.
type Config struct {
	AppKey AppKey

	Seed []byte
	Keys *identity.Keypair

	Timeout time.Duration
}

// Handshake authenticates raw connections on behalf of one local identity.
type Handshake struct {
	appKey  AppKey
	keys    identity.Keypair
	timeout time.Duration
}

// Local describes the local side of the handshake, available before any connection exists.
type Local struct {
	PublicKey identity.PublicKey
}

// New resolves the local identity out of cfg. It returns an error stating that seed or keys are required should
// neither be present.
func New(cfg Config) (*Handshake, error) {
	if cfg.AppKey == (AppKey{}) {
		return nil, ErrNoAppKey
	}

	keys, err := identity.Resolve(cfg.Seed, cfg.Keys)
	if err != nil {
		if errors.Is(err, identity.ErrNoKeys) {
			return nil, err
		}
		return nil, errors.Wrap(err, "invalid shs keys")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Handshake{appKey: cfg.AppKey, keys: keys, timeout: timeout}, nil
}

// Create exposes the local public key so that it may be published, e.g. as part of an address.
func (h *Handshake) Create() Local {
	return Local{PublicKey: h.keys.Public}
}

// PublicKey returns the local public key.
func (h *Handshake) PublicKey() identity.PublicKey {
	return h.keys.Public
}

// Client runs the initiator side of the handshake over conn, expecting the responder to prove ownership of remote.
func (h *Handshake) Client(ctx context.Context, conn net.Conn, remote identity.PublicKey) (*Conn, error) {
	defer h.guard(ctx, conn)()

	state, err := newState(h.appKey, h.keys)
	if err != nil {
		return nil, h.fail(err, conn)
	}
	state.remote = remote

	if err := state.runClient(conn); err != nil {
		return nil, h.fail(err, conn)
	}

	return state.conn(conn)
}

// Server runs the responder side of the handshake over conn, accepting any client that holds the app key and
// proves ownership of its identity.
func (h *Handshake) Server(ctx context.Context, conn net.Conn) (*Conn, error) {
	defer h.guard(ctx, conn)()

	state, err := newState(h.appKey, h.keys)
	if err != nil {
		return nil, h.fail(err, conn)
	}

	if err := state.runServer(conn); err != nil {
		return nil, h.fail(err, conn)
	}

	return state.conn(conn)
}

// guard bounds the handshake by the configured timeout and ctx, and returns a function that lifts the deadline
// once the handshake is over.
func (h *Handshake) guard(ctx context.Context, conn net.Conn) func() {
	deadline := time.Now().Add(h.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetDeadline(deadline)

	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)

		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		_ = conn.SetDeadline(time.Time{})
	}
}

func (h *Handshake) fail(err error, conn net.Conn) error {
	log.Debug().
		Err(err).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("Secret handshake failed.")

	return ErrHandshakeFailed
}
