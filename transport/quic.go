package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

const quicProtocol = "secretstack"

var _ Layer = (*QUIC)(nil)

// QUIC is the "quic" transport. Each connection carries exactly one bidirectional stream.
//
// TLS certificates are throwaway and never verified: peers authenticate each other with the secret handshake that
// runs on top of the stream.
type QUIC struct {
	Config *quic.Config

	resolver *Resolver
}

func NewQUIC(resolver *Resolver) *QUIC {
	if resolver == nil {
		resolver = NewResolver()
	}

	return &QUIC{
		Config: &quic.Config{
			KeepAlivePeriod: 15 * time.Second,
			MaxIdleTimeout:  60 * time.Second,
		},
		resolver: resolver,
	}
}

func (t *QUIC) Name() string {
	return "quic"
}

func (t *QUIC) Listen(host string, port uint16) (net.Listener, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicProtocol},
	}

	listener, err := quic.ListenAddr(hostPort(host, port), tlsConf, t.Config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &quicListener{
		listener: listener,
		conns:    make(chan net.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return l, nil
}

func (t *QUIC) Dial(ctx context.Context, host string, port uint16) (net.Conn, error) {
	ip, err := t.resolver.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProtocol},
	}

	conn, err := quic.DialAddr(ctx, hostPort(ip, port), tlsConf, t.Config)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, errors.Wrap(err, "failed to open quic stream")
	}

	return &quicConn{Stream: stream, conn: conn}, nil
}

type quicListener struct {
	listener *quic.Listener
	conns    chan net.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func (l *quicListener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			return
		}

		l.wg.Add(1)
		go l.acceptStream(conn)
	}
}

// acceptStream waits for the dialer to open its stream. Connections that never do are dropped by the idle timeout.
func (l *quicListener) acceptStream(conn *quic.Conn) {
	defer l.wg.Done()

	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}

	select {
	case l.conns <- &quicConn{Stream: stream, conn: conn}:
	case <-l.ctx.Done():
		_ = conn.CloseWithError(0, "listener closed")
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error

	l.closeOnce.Do(func() {
		l.cancel()
		err = l.listener.Close()
		l.wg.Wait()
	})

	return err
}

func (l *quicListener) Addr() net.Addr {
	return l.listener.Addr()
}

// quicConn adapts a QUIC connection and its single stream into a net.Conn.
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) Close() error {
	_ = c.Stream.Close()
	return c.conn.CloseWithError(0, "")
}

func selfSignedCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to generate tls key")
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to generate certificate serial")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to create tls certificate")
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
