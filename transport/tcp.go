package transport

import (
	"context"
	"net"
	"time"
)

var _ Layer = (*TCP)(nil)

// TCP is the "net" transport.
type TCP struct {
	KeepAlive time.Duration

	resolver *Resolver
}

// NewTCP returns a new TCP transport sharing resolver, or a fresh resolver should resolver be nil.
func NewTCP(resolver *Resolver) *TCP {
	if resolver == nil {
		resolver = NewResolver()
	}

	return &TCP{KeepAlive: 30 * time.Second, resolver: resolver}
}

func (t *TCP) Name() string {
	return "net"
}

func (t *TCP) Listen(host string, port uint16) (net.Listener, error) {
	return net.Listen("tcp", hostPort(host, port))
}

func (t *TCP) Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	ip, err := t.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{KeepAlive: t.KeepAlive}
	return dialer.DialContext(ctx, "tcp", hostPort(ip, port))
}
