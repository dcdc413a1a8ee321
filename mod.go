// Package secretstack builds peer-to-peer nodes out of plugins. Each plugin contributes RPC methods together with
// the rules deciding which remote identities may call them; the node composes every plugin into one API, reachable
// by peers over connections authenticated with a secret handshake scoped to a shared app key.
//
// A node is built in three steps:
//
//	builder := secretstack.NewBuilder(appKey)
//	_ = builder.Use(plugin)
//	factory, _ := builder.Build()
//	node, _ := factory(secretstack.WithSeed([]byte("alice")))
//
// Remote peers then reach it through (*Node).Connect, which returns an *RPC to call methods over.
package secretstack

import (
	"github.com/perlin-network/secretstack/wire"
	"github.com/pkg/errors"
)

// Kind describes how the result of a method is delivered.
type Kind string

const (
	// KindSync methods return exactly one value or error.
	KindSync Kind = "sync"
	// KindAsync methods resolve exactly one value or error at some later point.
	KindAsync Kind = "async"
	// KindSource methods produce zero or more values, followed by an end or an error.
	KindSource Kind = "source"
	// KindDuplex methods exchange values in both directions until both directions close.
	KindDuplex Kind = "duplex"
)

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSync, KindAsync, KindSource, KindDuplex:
		return true
	}

	return false
}

// compatible reports whether a method declared as k may be called as other. Sync and async only differ in how the
// implementation produces its value, so callers may use either.
func (k Kind) compatible(other Kind) bool {
	if k == other {
		return true
	}

	return (k == KindSync || k == KindAsync) && (other == KindSync || other == KindAsync)
}

func (k Kind) wire() wire.Kind {
	switch k {
	case KindSync:
		return wire.KindSync
	case KindAsync:
		return wire.KindAsync
	case KindSource:
		return wire.KindSource
	case KindDuplex:
		return wire.KindDuplex
	}

	return 0
}

func kindFromWire(k wire.Kind) (Kind, bool) {
	switch k {
	case wire.KindSync:
		return KindSync, true
	case wire.KindAsync:
		return KindAsync, true
	case wire.KindSource:
		return KindSource, true
	case wire.KindDuplex:
		return KindDuplex, true
	}

	return "", false
}

// Manifest maps method names onto their kind.
type Manifest map[string]Kind

func (m Manifest) clone() Manifest {
	out := make(Manifest, len(m))
	for method, kind := range m {
		out[method] = kind
	}
	return out
}

// Methods maps method names onto their implementation. Every implementation must be one of SyncFunc, AsyncFunc,
// SourceFunc or DuplexFunc (or an unnamed func of the same signature), matching the kind declared in the manifest.
type Methods map[string]interface{}

// SyncFunc implements a sync method.
type SyncFunc func(call *Call) (interface{}, error)

// AsyncFunc implements an async method. It must eventually resolve reply, from any goroutine.
type AsyncFunc func(call *Call, reply *Reply)

// SourceFunc implements a source method. Values sent to sink are delivered in order; returning ends the stream,
// with an error should err be non-nil.
type SourceFunc func(call *Call, sink *Sink) error

// DuplexFunc implements a duplex method. Returning closes the outbound direction of the stream should the
// implementation not have already done so.
type DuplexFunc func(call *Call, stream *DuplexStream) error

type handler struct {
	kind Kind

	sync   SyncFunc
	async  AsyncFunc
	source SourceFunc
	duplex DuplexFunc
}

func newHandler(kind Kind, impl interface{}) (handler, error) {
	h := handler{kind: kind}

	switch fn := impl.(type) {
	case SyncFunc:
		h.sync = fn
	case func(*Call) (interface{}, error):
		h.sync = fn
	case AsyncFunc:
		h.async = fn
	case func(*Call, *Reply):
		h.async = fn
	case SourceFunc:
		h.source = fn
	case func(*Call, *Sink) error:
		h.source = fn
	case DuplexFunc:
		h.duplex = fn
	case func(*Call, *DuplexStream) error:
		h.duplex = fn
	default:
		return h, errors.Errorf("implementation of type %T is not a method implementation", impl)
	}

	var got Kind

	switch {
	case h.sync != nil:
		got = KindSync
	case h.async != nil:
		got = KindAsync
	case h.source != nil:
		got = KindSource
	case h.duplex != nil:
		got = KindDuplex
	default:
		return h, errors.New("implementation is nil")
	}

	if got != kind {
		return h, errors.Errorf("declared as %s but implemented as %s", kind, got)
	}

	return h, nil
}
