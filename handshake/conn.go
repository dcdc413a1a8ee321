package handshake

import (
	"crypto/cipher"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

const (
	// maxRecordSize is the largest body sealed into a single box stream record.
	maxRecordSize = 4096

	headerSize = 4
)

var _ net.Conn = (*Conn)(nil)

// Conn is an authenticated, encrypted duplex stream produced by a successful handshake. Every record is a sealed
// 4-byte length header followed by a sealed body, each under its own counter nonce.
type Conn struct {
	net.Conn

	local  identity.PublicKey
	remote identity.PublicKey

	send, recv           cipher.AEAD
	sendNonce, recvNonce uint64

	rlock, wlock sync.Mutex

	pending []byte
}

func newConn(conn net.Conn, local, remote identity.PublicKey, send, recv cipher.AEAD) *Conn {
	return &Conn{
		Conn:   conn,
		local:  local,
		remote: remote,
		send:   send,
		recv:   recv,
	}
}

// RemoteKey returns the authenticated public key of our peer.
func (c *Conn) RemoteKey() identity.PublicKey {
	return c.remote
}

// LocalKey returns our own public key.
func (c *Conn) LocalKey() identity.PublicKey {
	return c.local
}

func (c *Conn) Write(b []byte) (int, error) {
	c.wlock.Lock()
	defer c.wlock.Unlock()

	written := 0

	for len(b) > 0 {
		chunk := b
		if len(chunk) > maxRecordSize {
			chunk = chunk[:maxRecordSize]
		}

		var header [headerSize]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(chunk)))

		record := c.send.Seal(nil, counterNonce(c.send, c.sendNonce), header[:], nil)
		record = c.send.Seal(record, counterNonce(c.send, c.sendNonce+1), chunk, nil)
		c.sendNonce += 2

		if _, err := c.Conn.Write(record); err != nil {
			return written, err
		}

		written += len(chunk)
		b = b[len(chunk):]
	}

	return written, nil
}

func (c *Conn) Read(b []byte) (int, error) {
	c.rlock.Lock()
	defer c.rlock.Unlock()

	if len(c.pending) == 0 {
		body, err := c.readRecord()
		if err != nil {
			return 0, err
		}
		c.pending = body
	}

	n := copy(b, c.pending)
	c.pending = c.pending[n:]

	return n, nil
}

func (c *Conn) readRecord() ([]byte, error) {
	overhead := c.recv.Overhead()

	sealedHeader := make([]byte, headerSize+overhead)
	if _, err := io.ReadFull(c.Conn, sealedHeader); err != nil {
		return nil, err
	}

	header, err := c.recv.Open(nil, counterNonce(c.recv, c.recvNonce), sealedHeader, nil)
	if err != nil {
		return nil, errors.Wrap(err, "box stream: failed to open record header")
	}

	size := binary.BigEndian.Uint32(header)

	if size == 0 {
		return nil, io.EOF
	}

	if size > maxRecordSize {
		return nil, errors.Errorf("box stream: record of %d bytes exceeds limit of %d bytes", size, maxRecordSize)
	}

	sealedBody := make([]byte, int(size)+overhead)
	if _, err := io.ReadFull(c.Conn, sealedBody); err != nil {
		return nil, err
	}

	body, err := c.recv.Open(nil, counterNonce(c.recv, c.recvNonce+1), sealedBody, nil)
	if err != nil {
		return nil, errors.Wrap(err, "box stream: failed to open record body")
	}

	c.recvNonce += 2

	return body, nil
}
