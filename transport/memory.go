package transport

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
)

var _ Layer = (*Memory)(nil)

// Memory is the in-process "mem" transport. Listeners are registered by host and port within one Memory value, and
// dialing hands one end of a synchronous in-memory pipe to the listener.
type Memory struct {
	sync.Mutex

	listeners map[string]*memListener
	nextPort  uint16
}

func NewMemory() *Memory {
	return &Memory{
		listeners: make(map[string]*memListener),
		nextPort:  1024,
	}
}

func (t *Memory) Name() string {
	return "mem"
}

func (t *Memory) Listen(host string, port uint16) (net.Listener, error) {
	t.Lock()
	defer t.Unlock()

	if port == 0 {
		for {
			t.nextPort++
			if _, taken := t.listeners[hostPort(host, t.nextPort)]; !taken {
				port = t.nextPort
				break
			}
		}
	}

	addr := memAddr(hostPort(host, port))

	if _, taken := t.listeners[string(addr)]; taken {
		return nil, errors.Errorf("mem: address %s already in use", addr)
	}

	l := &memListener{
		t:      t,
		addr:   addr,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}

	t.listeners[string(addr)] = l
	return l, nil
}

func (t *Memory) Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	t.Lock()
	l, ok := t.listeners[hostPort(host, port)]
	t.Unlock()

	if !ok {
		return nil, errors.Errorf("mem: connection refused by %s", hostPort(host, port))
	}

	local, remote := net.Pipe()

	dialer := memAddr("mem-dialer")

	select {
	case l.conns <- &memConn{Conn: remote, local: l.addr, remote: dialer}:
		return &memConn{Conn: local, local: dialer, remote: l.addr}, nil
	case <-l.closed:
		return nil, errors.Errorf("mem: connection refused by %s", l.addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memAddr string

func (a memAddr) Network() string {
	return "mem"
}

func (a memAddr) String() string {
	return string(a)
}

type memListener struct {
	t    *Memory
	addr memAddr

	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() {
		l.t.Lock()
		delete(l.t.listeners, string(l.addr))
		l.t.Unlock()

		close(l.closed)
	})

	return nil
}

func (l *memListener) Addr() net.Addr {
	return l.addr
}

type memConn struct {
	net.Conn
	local, remote net.Addr
}

func (c *memConn) LocalAddr() net.Addr {
	return c.local
}

func (c *memConn) RemoteAddr() net.Addr {
	return c.remote
}
