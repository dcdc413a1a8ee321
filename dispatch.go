package secretstack

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/perlin-network/secretstack/identity"
	"github.com/perlin-network/secretstack/wire"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// serverCall is the server end of one call. All frames it writes go through its lock, so that values sent from
// several goroutines never interleave.
type serverCall struct {
	rpc    *RPC
	stream *smux.Stream
	method string
	ctx    context.Context

	mu    sync.Mutex
	ended bool
}

func (c *serverCall) write(f *wire.Frame) error {
	f.ID = c.stream.ID()

	if err := wire.Write(c.stream, f, c.rpc.node.params.MaxFrameSize); err != nil {
		return err
	}

	c.rpc.touch()
	return nil
}

func (c *serverCall) send(v interface{}) error {
	if c.ctx.Err() != nil {
		return ErrCancelled
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode value")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return errors.Wrap(ErrClosed, "stream already ended")
	}

	if err := c.write(&wire.Frame{Type: wire.TypeData, Payload: payload}); err != nil {
		if c.ctx.Err() != nil {
			return ErrCancelled
		}
		return errors.Wrap(ErrClosed, err.Error())
	}

	return nil
}

func (c *serverCall) end() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return nil
	}
	c.ended = true

	return c.write(&wire.Frame{Type: wire.TypeEnd})
}

func (c *serverCall) fail(code wire.Code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return
	}
	c.ended = true

	_ = c.write(&wire.Frame{Type: wire.TypeError, Code: code, Message: message})
}

// reply completes a sync or async call.
func (c *serverCall) reply(value interface{}, err error) {
	if err != nil {
		c.fail(wire.CodeApplication, err.Error())
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.rpc.node.logger.Warn().Err(err).Str("method", c.method).Msg("Failed to encode method result.")
		c.fail(wire.CodeInternal, "failed to encode result")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return
	}
	c.ended = true

	_ = c.write(&wire.Frame{Type: wire.TypeData, Payload: payload})
}

// finish completes a source or duplex call. Nothing is written once the caller has cancelled.
func (c *serverCall) finish(err error) {
	if c.ctx.Err() != nil {
		return
	}

	if err == nil || errors.Is(err, ErrCancelled) {
		_ = c.end()
		return
	}

	c.fail(wire.CodeApplication, err.Error())
}

// readLoop consumes every frame the caller sends after its request. Values of a duplex call are handed to in, and
// the call is cancelled as soon as the caller closes its stream.
func (c *serverCall) readLoop(cancel context.CancelFunc, in chan []byte, done chan struct{}) {
	defer close(done)
	defer cancel()

	for {
		f, err := wire.Read(c.stream, c.rpc.node.params.MaxFrameSize)
		if err != nil {
			return
		}

		c.rpc.touch()

		switch f.Type {
		case wire.TypeData:
			if in == nil {
				return
			}

			select {
			case in <- f.Payload:
			case <-c.ctx.Done():
				return
			}
		case wire.TypeEnd:
			if in != nil {
				close(in)
				in = nil
			}
		default:
			return
		}
	}
}

func (c *serverCall) run(h handler, call *Call, in chan []byte) {
	defer func() {
		if p := recover(); p != nil {
			c.rpc.node.logger.Error().
				Str("method", c.method).
				Interface("panic", p).
				Msg("Method implementation panicked.")

			c.fail(wire.CodeInternal, "internal error")
		}
	}()

	switch h.kind {
	case KindSync:
		c.reply(h.sync(call))
	case KindAsync:
		reply := newReply()
		h.async(call, reply)

		select {
		case <-reply.done:
			c.reply(reply.value, reply.err)
		case <-call.ctx.Done():
		}
	case KindSource:
		c.finish(h.source(call, &Sink{c: c}))
	case KindDuplex:
		c.finish(h.duplex(call, &DuplexStream{c: c, in: in}))
	}
}

// handle serves one inbound call, from its request to its final frame.
func (r *RPC) handle(stream *smux.Stream) {
	defer r.end()

	c := &serverCall{rpc: r, stream: stream}

	req, err := wire.Read(stream, r.node.params.MaxFrameSize)
	if err != nil || req.Type != wire.TypeRequest {
		r.node.logger.Debug().Err(err).Str("peer", r.remote.String()).Msg("Dropped malformed call.")
		_ = stream.Close()
		return
	}

	r.touch()
	c.method = req.Method

	h, kind, code := r.node.resolve(r.remote, req)
	if code != wire.CodeOK {
		message := code.String()
		if code == wire.CodeKindMismatch {
			message = "declared as " + string(r.node.composed.manifest[req.Method])
		}

		c.fail(code, message)
		_ = stream.Close()
		return
	}

	args, err := decodeArgs(req.Payload)
	if err != nil {
		c.fail(wire.CodeInternal, "malformed arguments")
		_ = stream.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	c.ctx = ctx

	var in chan []byte
	if h.kind == KindDuplex {
		in = make(chan []byte)
	}

	readerDone := make(chan struct{})
	go c.readLoop(cancel, in, readerDone)

	defer func() {
		cancel()
		_ = stream.Close()
		<-readerDone
	}()

	call := &Call{
		ctx:    ctx,
		method: req.Method,
		kind:   kind,
		args:   args,
		remote: r.remote,
		rpc:    r,
	}

	c.run(h, call, in)
}

// reject turns away a call arriving while the connection drains.
func (r *RPC) reject(stream *smux.Stream) {
	c := &serverCall{rpc: r, stream: stream}
	c.fail(wire.CodeUnavailable, "node is closing")
	_ = stream.Close()
}

// resolve finds the implementation of the method a request names, on behalf of remote. The gate is consulted
// before anything about the implementation is looked at.
func (n *Node) resolve(remote identity.PublicKey, req *wire.Frame) (handler, Kind, wire.Code) {
	declared, ok := n.composed.manifest[req.Method]
	if !ok {
		if n.composed.conceal {
			return handler{}, "", wire.CodePermissionDenied
		}
		return handler{}, "", wire.CodeNotFound
	}

	if !n.composed.gate.authorize(remote, req.Method) {
		return handler{}, "", wire.CodePermissionDenied
	}

	requested, ok := kindFromWire(req.Kind)
	if !ok || !declared.compatible(requested) {
		return handler{}, "", wire.CodeKindMismatch
	}

	h, ok := n.handler(req.Method)
	if !ok {
		return handler{}, "", wire.CodeNotFound
	}

	return h, requested, wire.CodeOK
}

func encodeArgs(args []interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode arguments")
	}

	return payload, nil
}

func decodeArgs(payload []byte) ([]json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var args []json.RawMessage
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}

	return args, nil
}
