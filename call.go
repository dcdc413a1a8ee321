package secretstack

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

// Call is one invocation of a method, as seen by its implementation.
type Call struct {
	ctx    context.Context
	method string
	kind   Kind
	args   []json.RawMessage
	remote identity.PublicKey
	rpc    *RPC
}

// Context is cancelled once the caller cancels the call, or once the connection the call arrived over closes.
func (c *Call) Context() context.Context {
	return c.ctx
}

func (c *Call) Method() string {
	return c.method
}

// Kind is the kind the caller invoked the method as.
func (c *Call) Kind() Kind {
	return c.kind
}

// Remote is the authenticated public key of the caller. Calls made locally through (*API).Invoke carry the public
// key of the node itself.
func (c *Call) Remote() identity.PublicKey {
	return c.remote
}

// RPC is the connection the call arrived over, or nil for local calls.
func (c *Call) RPC() *RPC {
	return c.rpc
}

// NumArgs returns the number of arguments the caller passed.
func (c *Call) NumArgs() int {
	return len(c.args)
}

// Arg decodes the i'th argument into dst.
func (c *Call) Arg(i int, dst interface{}) error {
	if i < 0 || i >= len(c.args) {
		return errors.Errorf("%s: missing argument %d", c.method, i)
	}

	if err := json.Unmarshal(c.args[i], dst); err != nil {
		return errors.Wrapf(err, "%s: malformed argument %d", c.method, i)
	}

	return nil
}

// Args decodes the leading arguments of the call into dst, in order.
func (c *Call) Args(dst ...interface{}) error {
	for i, d := range dst {
		if err := c.Arg(i, d); err != nil {
			return err
		}
	}

	return nil
}

// Reply is the single-assignment result of an async call. Only the first of Resolve or Reject takes effect.
type Reply struct {
	once sync.Once
	done chan struct{}

	value interface{}
	err   error
}

func newReply() *Reply {
	return &Reply{done: make(chan struct{})}
}

// Resolve completes the call with value. It returns false should the reply already have been completed.
func (r *Reply) Resolve(value interface{}) bool {
	return r.complete(value, nil)
}

// Reject completes the call with err. It returns false should the reply already have been completed.
func (r *Reply) Reject(err error) bool {
	if err == nil {
		err = errors.New("rejected")
	}
	return r.complete(nil, err)
}

func (r *Reply) complete(value interface{}, err error) bool {
	completed := false

	r.once.Do(func() {
		r.value, r.err = value, err
		close(r.done)
		completed = true
	})

	return completed
}

// Sink delivers the values of a source call to its caller.
type Sink struct {
	c *serverCall
}

// Send delivers v to the caller. It returns ErrCancelled once the caller has cancelled the call, after which the
// implementation should stop producing values.
func (s *Sink) Send(v interface{}) error {
	return s.c.send(v)
}

// DuplexStream is the server end of a duplex call.
type DuplexStream struct {
	c  *serverCall
	in <-chan []byte
}

// Recv decodes the next value the caller sent into v. It returns io.EOF once the caller has closed its direction
// of the stream, and ErrCancelled once the call is cancelled.
func (d *DuplexStream) Recv(v interface{}) error {
	select {
	case payload, ok := <-d.in:
		if !ok {
			return io.EOF
		}

		if v == nil {
			return nil
		}

		if err := json.Unmarshal(payload, v); err != nil {
			return errors.Wrap(err, "malformed duplex value")
		}

		return nil
	case <-d.c.ctx.Done():
		return ErrCancelled
	}
}

// Send delivers v to the caller.
func (d *DuplexStream) Send(v interface{}) error {
	return d.c.send(v)
}

// CloseSend closes our direction of the stream. The caller may keep sending until it closes its own.
func (d *DuplexStream) CloseSend() error {
	return d.c.end()
}
