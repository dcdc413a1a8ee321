package secretstack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// RPC is one authenticated connection to a peer. Either end may call the methods of the other over it, and any
// number of calls may be in flight at once; each call travels over its own multiplexed stream.
type RPC struct {
	node    *Node
	session *smux.Session
	conn    *handshake.Conn

	remote  identity.PublicKey
	address Address
	client  bool

	lastActivity int64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
	closed   bool
	inflight sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
	local     int32
}

func newRPC(node *Node, conn *handshake.Conn, address Address, client bool) (*RPC, error) {
	var (
		session *smux.Session
		err     error
	)

	if client {
		session, err = smux.Client(conn, node.muxConfig())
	} else {
		session, err = smux.Server(conn, node.muxConfig())
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to start session")
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &RPC{
		node:    node,
		session: session,
		conn:    conn,

		remote:  conn.RemoteKey(),
		address: address,
		client:  client,

		ctx:    ctx,
		cancel: cancel,

		done: make(chan struct{}),
	}

	r.touch()

	return r, nil
}

// Address is the address of the peer. For connections the peer initiated, it is the address the peer connected
// from rather than one it listens on.
func (r *RPC) Address() string {
	return r.address.String()
}

// RemoteKey is the authenticated public key of the peer.
func (r *RPC) RemoteKey() identity.PublicKey {
	return r.remote
}

// IsClient reports whether we initiated the connection.
func (r *RPC) IsClient() bool {
	return r.client
}

// LastActivity is the last time a frame was sent or received over the connection.
func (r *RPC) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&r.lastActivity))
}

// Done is closed once the connection has closed.
func (r *RPC) Done() <-chan struct{} {
	return r.done
}

func (r *RPC) touch() {
	atomic.StoreInt64(&r.lastActivity, time.Now().UnixNano())
}

// begin registers a call in flight, inbound or outbound. It fails once the connection drains or closes.
func (r *RPC) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining || r.closed {
		return false
	}

	r.inflight.Add(1)
	return true
}

func (r *RPC) end() {
	r.inflight.Done()
}

// serve accepts the calls the peer makes until the connection closes.
func (r *RPC) serve() {
	var err error

	for {
		var stream *smux.Stream

		stream, err = r.session.AcceptStream()
		if err != nil {
			break
		}

		r.touch()

		if !r.begin() {
			go r.reject(stream)
			continue
		}

		go r.handle(stream)
	}

	if atomic.LoadInt32(&r.local) == 1 {
		err = nil
	}

	r.shutdown()
	r.node.disconnected(r, err)
}

func (r *RPC) shutdown() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		r.cancel()
		_ = r.session.Close()

		close(r.done)
	})
}

// Close closes the connection immediately. Calls in flight over it fail with ErrClosed, and calls the peer is
// serving have their context cancelled.
func (r *RPC) Close() error {
	atomic.StoreInt32(&r.local, 1)
	r.shutdown()

	return nil
}

// drain stops the connection from taking on new calls, waits up to timeout for those in flight, then closes it.
func (r *RPC) drain(timeout time.Duration) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		r.inflight.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-finished:
	case <-timer.C:
		r.node.logger.Warn().
			Str("peer", r.remote.String()).
			Dur("timeout", timeout).
			Msg("Calls still in flight after drain timeout; closing connection regardless.")
	case <-r.done:
	}

	return r.Close()
}
