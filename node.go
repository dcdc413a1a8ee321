package secretstack

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/perlin-network/secretstack/callbacks"
	"github.com/perlin-network/secretstack/handshake"
	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/log"
	"github.com/perlin-network/secretstack/nat"
	"github.com/perlin-network/secretstack/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xtaci/smux"
	"golang.org/x/sync/errgroup"
)

// Node listens for, and dials, authenticated connections to peers sharing its app key, and serves the methods of
// its plugins over them.
type Node struct {
	composed *composed
	params   parameters

	api *API
	hs  *handshake.Handshake

	hmu      sync.RWMutex
	handlers map[string]handler

	layers    []transport.Layer
	listeners []listener
	mappings  []*nat.Mapping
	addrs     []Address

	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	peers  map[*RPC]struct{}

	listening  sync.WaitGroup
	handshakes sync.WaitGroup

	onConnectCallbacks    *callbacks.SequentialCallbackManager
	onDisconnectCallbacks *callbacks.SequentialCallbackManager
}

type listener struct {
	net.Listener
	layer transport.Layer
}

func (c *composed) newNode(opts ...Option) (*Node, error) {
	params := DefaultParams()

	for _, opt := range opts {
		opt(&params)
	}

	if len(params.Transports) == 0 {
		params.Transports = []transport.Layer{transport.NewTCP(nil)}
	}

	if params.DrainTimeout <= 0 {
		return nil, errors.Errorf("drain timeout must be positive; got %s", params.DrainTimeout)
	}

	if params.MaxFrameSize == 0 {
		return nil, errors.New("max frame size must be positive")
	}

	hs, err := handshake.New(handshake.Config{
		AppKey:  c.appKey,
		Seed:    params.Seed,
		Keys:    params.Keys,
		Timeout: params.HandshakeTimeout,
	})

	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		composed: c,
		params:   params,

		hs:       hs,
		handlers: make(map[string]handler, len(c.manifest)),

		logger: log.With().Str("node", hs.PublicKey().String()).Logger(),

		ctx:    ctx,
		cancel: cancel,

		peers: make(map[*RPC]struct{}),

		onConnectCallbacks:    callbacks.NewSequentialCallbackManager(),
		onDisconnectCallbacks: callbacks.NewSequentialCallbackManager(),
	}

	n.api = &API{node: n}

	if err := smux.VerifyConfig(n.muxConfig()); err != nil {
		cancel()
		return nil, errors.Wrap(err, "invalid keep-alive settings")
	}

	if err := n.listen(); err != nil {
		n.release()
		return nil, err
	}

	if err := n.init(); err != nil {
		n.release()
		return nil, err
	}

	for _, l := range n.listeners {
		n.listening.Add(1)
		go n.acceptLoop(l)
	}

	n.logger.Info().Str("address", n.Address()).Msg("Listening for peers.")

	return n, nil
}

// listen binds a listener for every transport, and works out the addresses the node advertises.
func (n *Node) listen() error {
	seen := make(map[string]struct{}, len(n.params.Transports))

	for _, layer := range n.params.Transports {
		if _, dup := seen[layer.Name()]; dup {
			return errors.Errorf("transport %s registered more than once", layer.Name())
		}
		seen[layer.Name()] = struct{}{}

		l, err := layer.Listen(n.params.Host, n.params.Port)
		if err != nil {
			return errors.Wrapf(err, "failed to start listening for peers over %s on port %d", layer.Name(), n.params.Port)
		}

		n.layers = append(n.layers, layer)
		n.listeners = append(n.listeners, listener{Listener: l, layer: layer})

		port, err := transport.Port(l.Addr())
		if err != nil {
			return err
		}

		addr := Address{Transport: layer.Name(), Host: n.params.Host, Port: port, Key: n.hs.PublicKey()}

		if n.params.NAT && layer.Name() != "mem" {
			protocol := "udp"
			if layer.Name() == "net" {
				protocol = "tcp"
			}

			mapping, err := nat.Map(n.params.NATDiscover, protocol, port)
			if err != nil {
				return errors.Wrapf(err, "failed to map %s port %d", layer.Name(), port)
			}

			n.mappings = append(n.mappings, mapping)

			addr.Host = mapping.Host()
			addr.Port = mapping.Port()
		}

		n.addrs = append(n.addrs, addr)
	}

	return nil
}

// init runs the initializer of every plugin in registration order, and checks that the implementations it returns
// match the manifest of the plugin exactly.
func (n *Node) init() error {
	for _, p := range n.composed.plugins {
		if p.Init == nil {
			continue
		}

		methods, err := p.Init(n.api)
		if err != nil {
			return errors.Wrapf(err, "plugin %s failed to initialize", p.Name)
		}

		for method := range methods {
			if _, declared := p.Manifest[method]; !declared {
				return errors.Errorf("plugin %s implements method %s, which is missing from its manifest", p.Name, method)
			}
		}

		handlers := make(map[string]handler, len(p.Manifest))

		for method, kind := range p.Manifest {
			impl, ok := methods[method]
			if !ok {
				return errors.Errorf("plugin %s declares method %s but does not implement it", p.Name, method)
			}

			h, err := newHandler(kind, impl)
			if err != nil {
				return errors.Wrapf(err, "plugin %s has a malformed implementation of %s", p.Name, method)
			}

			handlers[method] = h
		}

		n.hmu.Lock()
		for method, h := range handlers {
			n.handlers[method] = h
		}
		n.hmu.Unlock()
	}

	return nil
}

// release undoes a partially started node.
func (n *Node) release() {
	n.cancel()

	for _, l := range n.listeners {
		_ = l.Close()
	}

	for _, m := range n.mappings {
		_ = m.Close()
	}
}

func (n *Node) handler(method string) (handler, bool) {
	n.hmu.RLock()
	defer n.hmu.RUnlock()

	h, ok := n.handlers[method]
	return h, ok
}

func (n *Node) muxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.KeepAliveInterval = n.params.KeepAliveInterval
	cfg.KeepAliveTimeout = n.params.KeepAliveTimeout

	return cfg
}

func (n *Node) acceptLoop(l listener) {
	defer n.listening.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if n.ctx.Err() == nil {
				n.logger.Warn().Err(err).Str("transport", l.layer.Name()).Msg("Stopped accepting peers.")
			}
			return
		}

		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			_ = conn.Close()
			return
		}
		n.handshakes.Add(1)
		n.mu.Unlock()

		go n.accept(l.layer, conn)
	}
}

// accept authenticates an inbound connection and starts serving it.
func (n *Node) accept(layer transport.Layer, conn net.Conn) {
	r, err := n.upgrade(n.ctx, conn, func(sconn *handshake.Conn) (*RPC, error) {
		return newRPC(n, sconn, remoteAddress(layer.Name(), conn.RemoteAddr(), sconn.RemoteKey()), false)
	}, func() (*handshake.Conn, error) {
		return n.hs.Server(n.ctx, conn)
	})

	n.handshakes.Done()

	if err != nil {
		n.logger.Debug().
			Err(err).
			Str("transport", layer.Name()).
			Str("remote_addr", conn.RemoteAddr().String()).
			Msg("Dropped inbound peer.")
		return
	}

	n.announce(r)
}

// upgrade turns a raw connection into a registered RPC connection through the handshake run by shake. The connection
// is not served until announced. Should any step fail, conn is closed.
func (n *Node) upgrade(
	ctx context.Context,
	conn net.Conn,
	build func(*handshake.Conn) (*RPC, error),
	shake func() (*handshake.Conn, error),
) (*RPC, error) {
	sconn, err := shake()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		_ = sconn.Close()
		return nil, err
	}

	r, err := build(sconn)
	if err != nil {
		_ = sconn.Close()
		return nil, err
	}

	if !n.register(r) {
		_ = r.Close()
		<-r.Done()
		return nil, ErrNodeClosed
	}

	return r, nil
}

// Connect dials one of the addresses in address over the first transport the node has enabled for it, and
// authenticates the peer against the public key embedded in the address.
func (n *Node) Connect(ctx context.Context, address string) (*RPC, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()

	if closed {
		return nil, ErrNodeClosed
	}

	addrs, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	addr, layer, ok := n.pick(addrs)
	if !ok {
		return nil, errors.Wrap(ErrNoTransport, address)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(n.ctx, cancel)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, n.params.DialTimeout)
	conn, err := layer.Dial(dialCtx, addr.Host, addr.Port)
	cancelDial()

	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial peer %s", addr)
	}

	r, err := n.upgrade(ctx, conn, func(sconn *handshake.Conn) (*RPC, error) {
		return newRPC(n, sconn, addr, true)
	}, func() (*handshake.Conn, error) {
		return n.hs.Client(ctx, conn, addr.Key)
	})

	if err != nil {
		if n.ctx.Err() != nil {
			return nil, ErrNodeClosed
		}
		return nil, errors.Wrapf(err, "failed to connect to peer %s", addr)
	}

	n.announce(r)

	return r, nil
}

func (n *Node) pick(addrs []Address) (Address, transport.Layer, bool) {
	for _, addr := range addrs {
		for _, layer := range n.layers {
			if layer.Name() == addr.Transport {
				return addr, layer, true
			}
		}
	}

	return Address{}, nil, false
}

func (n *Node) register(r *RPC) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}

	n.peers[r] = struct{}{}
	return true
}

// announce runs the OnConnect callbacks, and only then starts serving the peer's calls. Disconnection is only ever
// noticed by serve, so it is always reported after the connection was.
func (n *Node) announce(r *RPC) {
	n.logger.Info().
		Str("peer", r.remote.String()).
		Str("address", r.Address()).
		Bool("client", r.client).
		Msg("Peer connected.")

	if errs := n.onConnectCallbacks.RunCallbacks(r, r.client); len(errs) > 0 {
		n.logger.Warn().Errs("errors", errs).Msg("Got errors running OnConnect callbacks.")
	}

	go r.serve()
}

func (n *Node) disconnected(r *RPC, err error) {
	n.mu.Lock()
	delete(n.peers, r)
	n.mu.Unlock()

	event := n.logger.Info()
	if err != nil {
		event = event.Err(err)
	}
	event.Str("peer", r.remote.String()).Msg("Peer disconnected.")

	if errs := n.onDisconnectCallbacks.RunCallbacks(r, err); len(errs) > 0 {
		n.logger.Warn().Errs("errors", errs).Msg("Got errors running OnDisconnect callbacks.")
	}
}

// Address returns every address the node is reachable at, joined by ";".
func (n *Node) Address() string {
	return formatAddresses(n.addrs)
}

// PublicKey returns the public key the node authenticates with.
func (n *Node) PublicKey() identity.PublicKey {
	return n.hs.PublicKey()
}

// API returns the composed API of the node.
func (n *Node) API() *API {
	return n.api
}

// Peers returns every connection currently open, ordered by public key.
func (n *Node) Peers() []*RPC {
	n.mu.Lock()
	peers := make([]*RPC, 0, len(n.peers))
	for r := range n.peers {
		peers = append(peers, r)
	}
	n.mu.Unlock()

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].remote.String() < peers[j].remote.String()
	})

	return peers
}

// OnConnect registers a callback for whenever a connection to a peer is established, in either direction. client
// reports whether we initiated it. Callbacks run in registration order, on the goroutine that established the
// connection. Calls from the peer are only served once every callback has returned.
func (n *Node) OnConnect(fn func(rpc *RPC, client bool)) {
	n.onConnectCallbacks.RegisterCallback(func(params ...interface{}) error {
		if len(params) != 2 {
			panic(errors.Errorf("secretstack: OnConnect received unexpected args %v", params))
		}

		fn(params[0].(*RPC), params[1].(bool))
		return nil
	})
}

// OnDisconnect registers a callback for whenever a connection closes. err is nil should we have closed it.
func (n *Node) OnDisconnect(fn func(rpc *RPC, err error)) {
	n.onDisconnectCallbacks.RegisterCallback(func(params ...interface{}) error {
		if len(params) != 2 {
			panic(errors.Errorf("secretstack: OnDisconnect received unexpected args %v", params))
		}

		err, _ := params[1].(error)
		fn(params[0].(*RPC), err)
		return nil
	})
}

// Close stops listening and closes every connection. Should force be false, connections first stop taking on new
// calls and wait up to the drain timeout for calls in flight to finish. Close may be called any number of times
// from any goroutine; only the first call has any effect.
func (n *Node) Close(force bool) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true

	peers := make([]*RPC, 0, len(n.peers))
	for r := range n.peers {
		peers = append(peers, r)
	}
	n.mu.Unlock()

	n.cancel()

	for _, l := range n.listeners {
		_ = l.Close()
	}

	n.listening.Wait()
	n.handshakes.Wait()

	for _, m := range n.mappings {
		if err := m.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Failed to remove port mapping.")
		}
	}

	var g errgroup.Group

	for _, r := range peers {
		r := r

		g.Go(func() error {
			if force {
				return r.Close()
			}
			return r.drain(n.params.DrainTimeout)
		})
	}

	err := g.Wait()

	for _, r := range peers {
		<-r.Done()
	}

	n.logger.Info().Bool("force", force).Int("peers", len(peers)).Msg("Node closed.")

	return err
}
