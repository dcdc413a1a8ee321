package secretstack

import (
	"context"
	"encoding/json"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

// API is the composed view of a node handed to plugin initializers. It is safe for concurrent use.
type API struct {
	node *Node
}

// Manifest returns every method the node exposes, regardless of who may call them.
func (a *API) Manifest() Manifest {
	return a.node.composed.manifest.clone()
}

// Kind returns the kind method was declared as, and false should no plugin declare it.
func (a *API) Kind(method string) (Kind, bool) {
	kind, ok := a.node.composed.manifest[method]
	return kind, ok
}

func (a *API) PublicKey() identity.PublicKey {
	return a.node.PublicKey()
}

func (a *API) Address() string {
	return a.node.Address()
}

// OnConnect registers a callback for whenever a connection to a peer is established.
func (a *API) OnConnect(fn func(rpc *RPC, client bool)) {
	a.node.OnConnect(fn)
}

// OnDisconnect registers a callback for whenever a connection closes.
func (a *API) OnDisconnect(fn func(rpc *RPC, err error)) {
	a.node.OnDisconnect(fn)
}

// Invoke calls a sync or async method of this node directly, without going through the permission gate. The
// implementation is looked up at call time, so plugins may invoke methods of plugins initialized after them once
// initialization is over. The result is decoded into result should result be non-nil.
func (a *API) Invoke(ctx context.Context, method string, result interface{}, args ...interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	kind, ok := a.Kind(method)
	if !ok {
		return errors.Wrap(ErrMethodNotFound, method)
	}

	if kind != KindSync && kind != KindAsync {
		return errors.Wrapf(ErrKindMismatch, "%s: declared as %s", method, kind)
	}

	h, ok := a.node.handler(method)
	if !ok {
		return errors.Errorf("%s: method is not initialized yet", method)
	}

	payload, err := encodeArgs(args)
	if err != nil {
		return err
	}

	decoded, err := decodeArgs(payload)
	if err != nil {
		return errors.Wrap(err, "failed to decode arguments")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	call := &Call{
		ctx:    ctx,
		method: method,
		kind:   kind,
		args:   decoded,
		remote: a.node.PublicKey(),
	}

	value, err := invoke(h, call)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	buf, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to encode result")
	}

	return decodeValue(buf, result)
}

func invoke(h handler, call *Call) (value interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RemoteError{Method: call.method, Message: "internal error"}
		}
	}()

	if h.sync != nil {
		return h.sync(call)
	}

	reply := newReply()
	h.async(call, reply)

	select {
	case <-reply.done:
		return reply.value, reply.err
	case <-call.ctx.Done():
		return nil, call.ctx.Err()
	}
}
