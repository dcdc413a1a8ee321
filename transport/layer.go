//go:generate mockgen -destination=../internal/mocks/layer.go -package=mocks github.com/perlin-network/secretstack/transport Layer

// Package transport provides the raw byte streams nodes are reachable over. Every layer is named after the tag it
// is advertised under in a node address.
package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Layer listens for and dials raw byte-stream connections.
type Layer interface {
	// Name is the address tag of the layer, e.g. "net".
	Name() string

	Listen(host string, port uint16) (net.Listener, error)
	Dial(ctx context.Context, host string, port uint16) (net.Conn, error)
}

// Port extracts the port out of a listener or connection address.
func Port(addr net.Addr) (uint16, error) {
	_, raw, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, errors.Wrapf(err, "address %q carries no port", addr)
	}

	port, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "address %q has an invalid port", addr)
	}

	return uint16(port), nil
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
