package handshake

import (
	"crypto/hmac"
	"io"
	"net"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

const (
	sizeHello  = 32 + 32
	sizeAuth   = identity.SizeSignature + identity.SizePublicKey + 16
	sizeAccept = identity.SizeSignature + 16
)

// state holds everything one side accumulates over the four handshake messages.
type state struct {
	appKey AppKey
	local  identity.Keypair
	remote identity.PublicKey

	ephemeral       *ephemeral
	remoteEphemeral []byte

	ab, aB, Ab []byte

	// clientAuth is the client's signature followed by its public key, as sent in the third message.
	clientAuth []byte
}

func newState(appKey AppKey, local identity.Keypair) (*state, error) {
	e, err := generateEphemeral()
	if err != nil {
		return nil, err
	}

	return &state{appKey: appKey, local: local, ephemeral: e}, nil
}

// hello is MAC_K(eph) || eph.
func (s *state) hello() []byte {
	return append(mac(s.appKey, s.ephemeral.public[:]), s.ephemeral.public[:]...)
}

func (s *state) verifyHello(msg []byte) error {
	tag, eph := msg[:32], msg[32:]

	if !hmac.Equal(tag, mac(s.appKey, eph)) {
		return errors.New("hello was not authenticated with our app key")
	}

	s.remoteEphemeral = append([]byte(nil), eph...)
	return nil
}

func (s *state) runClient(conn net.Conn) error {
	var err error

	// 1. Client hello.
	if err = writeFull(conn, s.hello()); err != nil {
		return errors.Wrap(err, "failed to send client hello")
	}

	// 2. Server hello.
	msg := make([]byte, sizeHello)
	if _, err = io.ReadFull(conn, msg); err != nil {
		return errors.Wrap(err, "failed to read server hello")
	}

	if err = s.verifyHello(msg); err != nil {
		return err
	}

	if s.ab, err = x25519(s.ephemeral.private[:], s.remoteEphemeral); err != nil {
		return err
	}

	if s.aB, err = x25519(s.ephemeral.private[:], ed25519PublicKeyToCurve25519(s.remote)); err != nil {
		return err
	}

	// 3. Client authenticate: prove we hold our identity, and that we intended to reach the server's identity.
	signature := s.local.Sign(concat(s.appKey[:], s.remote[:], digest(s.ab)))
	s.clientAuth = concat(signature, s.local.Public[:])

	box, err := seal(digest(s.appKey[:], s.ab, s.aB), s.clientAuth)
	if err != nil {
		return err
	}

	if err = writeFull(conn, box); err != nil {
		return errors.Wrap(err, "failed to send client authentication")
	}

	if s.Ab, err = x25519(ed25519PrivateKeyToCurve25519(s.local.Private), s.remoteEphemeral); err != nil {
		return err
	}

	// 4. Server accept.
	msg = make([]byte, sizeAccept)
	if _, err = io.ReadFull(conn, msg); err != nil {
		return errors.Wrap(err, "failed to read server acceptance")
	}

	accept, err := open(digest(s.appKey[:], s.ab, s.aB, s.Ab), msg)
	if err != nil {
		return errors.Wrap(err, "failed to open server acceptance")
	}

	if !s.remote.Verify(concat(s.appKey[:], s.clientAuth, digest(s.ab)), accept) {
		return errors.New("server failed to prove ownership of its identity")
	}

	return nil
}

func (s *state) runServer(conn net.Conn) error {
	var err error

	// 1. Client hello. Any failure from here on closes the connection without a reply.
	msg := make([]byte, sizeHello)
	if _, err = io.ReadFull(conn, msg); err != nil {
		return errors.Wrap(err, "failed to read client hello")
	}

	if err = s.verifyHello(msg); err != nil {
		return err
	}

	// 2. Server hello.
	if err = writeFull(conn, s.hello()); err != nil {
		return errors.Wrap(err, "failed to send server hello")
	}

	if s.ab, err = x25519(s.ephemeral.private[:], s.remoteEphemeral); err != nil {
		return err
	}

	if s.aB, err = x25519(ed25519PrivateKeyToCurve25519(s.local.Private), s.remoteEphemeral); err != nil {
		return err
	}

	// 3. Client authenticate.
	msg = make([]byte, sizeAuth)
	if _, err = io.ReadFull(conn, msg); err != nil {
		return errors.Wrap(err, "failed to read client authentication")
	}

	auth, err := open(digest(s.appKey[:], s.ab, s.aB), msg)
	if err != nil {
		return errors.Wrap(err, "failed to open client authentication")
	}

	signature, client := auth[:identity.SizeSignature], auth[identity.SizeSignature:]
	copy(s.remote[:], client)

	if !s.remote.Verify(concat(s.appKey[:], s.local.Public[:], digest(s.ab)), signature) {
		return errors.New("client failed to prove ownership of its identity")
	}

	s.clientAuth = auth

	if s.Ab, err = x25519(s.ephemeral.private[:], ed25519PublicKeyToCurve25519(s.remote)); err != nil {
		return err
	}

	// 4. Server accept.
	box, err := seal(digest(s.appKey[:], s.ab, s.aB, s.Ab), s.local.Sign(concat(s.appKey[:], s.clientAuth, digest(s.ab))))
	if err != nil {
		return err
	}

	if err = writeFull(conn, box); err != nil {
		return errors.Wrap(err, "failed to send server acceptance")
	}

	return nil
}

// conn wraps the raw connection into a box stream keyed off of every shared secret of the handshake.
func (s *state) conn(raw net.Conn) (*Conn, error) {
	secret := digest(s.appKey[:], s.ab, s.aB, s.Ab)

	send, err := sessionKeys(secret, s.ephemeral.public[:])
	if err != nil {
		return nil, err
	}

	recv, err := sessionKeys(secret, s.remoteEphemeral)
	if err != nil {
		return nil, err
	}

	return newConn(raw, s.local.Public, s.remote, send, recv), nil
}

func writeFull(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}

	if n != len(buf) {
		return io.ErrShortWrite
	}

	return nil
}

func concat(parts ...[]byte) []byte {
	var size int
	for _, part := range parts {
		size += len(part)
	}

	out := make([]byte, 0, size)
	for _, part := range parts {
		out = append(out, part...)
	}

	return out
}
