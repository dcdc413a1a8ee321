package secretstack

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/perlin-network/secretstack/wire"
	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// clientStream is the caller end of one call. The stream is closed as soon as ctx is done.
type clientStream struct {
	rpc    *RPC
	stream *smux.Stream
	method string
	ctx    context.Context

	wmu sync.Mutex

	stop      chan struct{}
	watched   chan struct{}
	closeOnce sync.Once
	closed    int32
}

func (r *RPC) open(ctx context.Context, kind Kind, method string, args []interface{}) (*clientStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	if !r.begin() {
		return nil, ErrClosed
	}

	stream, err := r.session.OpenStream()
	if err != nil {
		r.end()
		return nil, errors.Wrap(ErrClosed, err.Error())
	}

	s := &clientStream{
		rpc:     r,
		stream:  stream,
		method:  method,
		ctx:     ctx,
		stop:    make(chan struct{}),
		watched: make(chan struct{}),
	}

	go s.watch()

	if err := s.write(&wire.Frame{Type: wire.TypeRequest, Kind: kind.wire(), Method: method, Payload: payload}); err != nil {
		s.close()
		return nil, err
	}

	return s, nil
}

func (s *clientStream) watch() {
	defer close(s.watched)

	select {
	case <-s.ctx.Done():
		_ = s.stream.Close()
	case <-s.rpc.done:
	case <-s.stop:
	}
}

func (s *clientStream) close() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)

		close(s.stop)
		<-s.watched

		_ = s.stream.Close()
		s.rpc.end()
	})
}

// failure explains why reading or writing the stream failed.
func (s *clientStream) failure(err error) error {
	switch {
	case atomic.LoadInt32(&s.closed) == 1:
		return ErrCancelled
	case s.ctx.Err() != nil:
		return s.ctx.Err()
	}

	return errors.Wrap(ErrClosed, err.Error())
}

func (s *clientStream) write(f *wire.Frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	f.ID = s.stream.ID()

	if err := wire.Write(s.stream, f, s.rpc.node.params.MaxFrameSize); err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return err
		}
		return s.failure(err)
	}

	s.rpc.touch()
	return nil
}

func (s *clientStream) read() (*wire.Frame, error) {
	f, err := wire.Read(s.stream, s.rpc.node.params.MaxFrameSize)
	if err != nil {
		return nil, s.failure(err)
	}

	s.rpc.touch()
	return f, nil
}

func decodeValue(payload []byte, v interface{}) error {
	if v == nil {
		return nil
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "failed to decode value")
	}

	return nil
}

// Call invokes a sync or async method of the peer, and decodes its result into result should result be non-nil.
func (r *RPC) Call(ctx context.Context, method string, result interface{}, args ...interface{}) error {
	return r.call(ctx, KindSync, method, result, args)
}

func (r *RPC) call(ctx context.Context, kind Kind, method string, result interface{}, args []interface{}) error {
	s, err := r.open(ctx, kind, method, args)
	if err != nil {
		return err
	}
	defer s.close()

	f, err := s.read()
	if err != nil {
		return err
	}

	switch f.Type {
	case wire.TypeData:
		return decodeValue(f.Payload, result)
	case wire.TypeError:
		return frameError(method, f)
	}

	return errors.Errorf("rpc: %s: unexpected %s frame", method, f.Type)
}

// Pending is the eventual result of an async call.
type Pending struct {
	done chan struct{}

	payload json.RawMessage
	err     error
}

// Async invokes a sync or async method of the peer without waiting for its result.
func (r *RPC) Async(ctx context.Context, method string, args ...interface{}) *Pending {
	p := &Pending{done: make(chan struct{})}

	go func() {
		defer close(p.done)
		p.err = r.call(ctx, KindAsync, method, &p.payload, args)
	}()

	return p
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the call completes, and decodes its result into result should result be non-nil.
func (p *Pending) Wait(result interface{}) error {
	<-p.done

	if p.err != nil {
		return p.err
	}

	return decodeValue(p.payload, result)
}

// Source is the caller end of a source call.
type Source struct {
	s   *clientStream
	err error
}

// Source invokes a source method of the peer. Values are read with Next.
func (r *RPC) Source(ctx context.Context, method string, args ...interface{}) (*Source, error) {
	s, err := r.open(ctx, KindSource, method, args)
	if err != nil {
		return nil, err
	}

	return &Source{s: s}, nil
}

// Next decodes the next value of the stream into v. It returns io.EOF once the stream ends, and the error the
// stream failed with otherwise. Next must not be called concurrently.
func (src *Source) Next(v interface{}) error {
	if src.err != nil {
		return src.err
	}

	f, err := src.s.read()
	if err != nil {
		return src.fail(err)
	}

	switch f.Type {
	case wire.TypeData:
		return decodeValue(f.Payload, v)
	case wire.TypeEnd:
		return src.fail(io.EOF)
	case wire.TypeError:
		return src.fail(frameError(src.s.method, f))
	}

	return src.fail(errors.Errorf("rpc: %s: unexpected %s frame", src.s.method, f.Type))
}

func (src *Source) fail(err error) error {
	src.err = err
	src.s.close()
	return err
}

// Close cancels the stream. The peer stops being able to send further values.
func (src *Source) Close() error {
	if src.err == nil {
		src.err = ErrCancelled
	}

	src.s.close()
	return nil
}

// Duplex is the caller end of a duplex call.
type Duplex struct {
	s *clientStream

	rmu sync.Mutex
	err error

	sendOnce sync.Once
	sendDone int32

	// sent and received record that each direction has ended. The call is released once both have.
	sent, received int32
}

// Duplex invokes a duplex method of the peer.
func (r *RPC) Duplex(ctx context.Context, method string, args ...interface{}) (*Duplex, error) {
	s, err := r.open(ctx, KindDuplex, method, args)
	if err != nil {
		return nil, err
	}

	return &Duplex{s: s}, nil
}

// Send delivers v to the peer.
func (d *Duplex) Send(v interface{}) error {
	if atomic.LoadInt32(&d.sendDone) == 1 {
		return errors.Wrap(ErrClosed, "send direction already closed")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode value")
	}

	return d.s.write(&wire.Frame{Type: wire.TypeData, Payload: payload})
}

// CloseSend closes our direction of the stream, while still letting the peer send values back.
func (d *Duplex) CloseSend() error {
	var err error

	d.sendOnce.Do(func() {
		atomic.StoreInt32(&d.sendDone, 1)

		if err = d.s.write(&wire.Frame{Type: wire.TypeEnd}); err == nil {
			atomic.StoreInt32(&d.sent, 1)
			d.settle()
		}
	})

	return err
}

// settle releases the call once both directions have ended.
func (d *Duplex) settle() {
	if atomic.LoadInt32(&d.sent) == 1 && atomic.LoadInt32(&d.received) == 1 {
		d.s.close()
	}
}

// Recv decodes the next value the peer sent into v. It returns io.EOF once the peer has closed its direction.
func (d *Duplex) Recv(v interface{}) error {
	d.rmu.Lock()
	defer d.rmu.Unlock()

	if d.err != nil {
		return d.err
	}

	f, err := d.s.read()
	if err != nil {
		d.err = err
		d.s.close()
		return err
	}

	switch f.Type {
	case wire.TypeData:
		return decodeValue(f.Payload, v)
	case wire.TypeEnd:
		d.err = io.EOF
		atomic.StoreInt32(&d.received, 1)
		d.settle()
	case wire.TypeError:
		d.err = frameError(d.s.method, f)
		d.s.close()
	default:
		d.err = errors.Errorf("rpc: %s: unexpected %s frame", d.s.method, f.Type)
		d.s.close()
	}

	return d.err
}

// Close cancels the call in both directions.
func (d *Duplex) Close() error {
	d.s.close()
	return nil
}

// Manifest asks the peer for the methods we are allowed to call.
func (r *RPC) Manifest(ctx context.Context) (Manifest, error) {
	var manifest Manifest

	if err := r.Call(ctx, manifestMethod, &manifest); err != nil {
		return nil, err
	}

	return manifest, nil
}
