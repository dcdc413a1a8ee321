package secretstack

import (
	"fmt"

	"github.com/perlin-network/secretstack/wire"
	"github.com/pkg/errors"
)

var (
	// ErrNodeClosed is returned by operations on a node that has been closed.
	ErrNodeClosed = errors.New("node is closed")

	// ErrNoTransport is returned when none of the addresses of a peer use a transport the node has enabled.
	ErrNoTransport = errors.New("no enabled transport for address")

	// ErrClosed is returned by calls on a connection that closed, or closed while the call was in flight.
	ErrClosed = errors.New("rpc: connection closed")

	// ErrMethodNotFound is returned by calls to a method the remote node does not expose.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrPermissionDenied is returned by calls to a method the remote node does not let us call.
	ErrPermissionDenied = errors.New("rpc: permission denied")

	// ErrKindMismatch is returned by calls made as a kind other than the one the method was declared as.
	ErrKindMismatch = errors.New("rpc: method called as the wrong kind")

	// ErrCancelled is returned by stream operations once the stream has been cancelled by either side.
	ErrCancelled = errors.New("rpc: call cancelled")
)

// RemoteError is an error an implementation returned while serving a call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s failed: %s", e.Method, e.Message)
}

func frameError(method string, f *wire.Frame) error {
	switch f.Code {
	case wire.CodeNotFound:
		return errors.Wrap(ErrMethodNotFound, method)
	case wire.CodePermissionDenied:
		return errors.Wrap(ErrPermissionDenied, method)
	case wire.CodeKindMismatch:
		return errors.Wrapf(ErrKindMismatch, "%s: %s", method, f.Message)
	case wire.CodeUnavailable:
		return errors.Wrap(ErrClosed, f.Message)
	}

	return &RemoteError{Method: method, Message: f.Message}
}
