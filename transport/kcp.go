package transport

import (
	"context"
	"net"

	"github.com/xtaci/kcp-go"
)

var _ Layer = (*KCP)(nil)

// KCP is the "kcp" transport: reliable, ordered streams over UDP with optional Reed-Solomon forward error
// correction.
type KCP struct {
	DataShards     int
	ParityShards   int
	SendWindowSize int
	RecvWindowSize int

	resolver *Resolver
}

// NewKCP instantiates a new instance of the KCP protocol.
func NewKCP(resolver *Resolver) *KCP {
	if resolver == nil {
		resolver = NewResolver()
	}

	return &KCP{
		SendWindowSize: 1024,
		RecvWindowSize: 1024,
		resolver:       resolver,
	}
}

func (t *KCP) Name() string {
	return "kcp"
}

func (t *KCP) Listen(host string, port uint16) (net.Listener, error) {
	listener, err := kcp.ListenWithOptions(hostPort(host, port), nil, t.DataShards, t.ParityShards)
	if err != nil {
		return nil, err
	}

	return &kcpListener{Listener: listener, t: t}, nil
}

// Dial dials an address via the KCP protocol. KCP has no connection setup, so this returns as soon as the UDP socket
// is open.
func (t *KCP) Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ip, err := t.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	conn, err := kcp.DialWithOptions(hostPort(ip, port), nil, t.DataShards, t.ParityShards)
	if err != nil {
		return nil, err
	}

	t.configure(conn)
	return conn, nil
}

func (t *KCP) configure(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(t.SendWindowSize, t.RecvWindowSize)
}

type kcpListener struct {
	*kcp.Listener
	t *KCP
}

func (l *kcpListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}

	l.t.configure(conn)
	return conn, nil
}
