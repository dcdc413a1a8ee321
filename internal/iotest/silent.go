// Package iotest provides connections that misbehave in controlled ways.
package iotest

import (
	"net"
	"os"
	"sync"
	"time"
)

var _ net.Conn = (*Silent)(nil)

// Silent is a connection to a peer that swallows everything written to it and never writes anything back. Reads
// block until the read deadline passes or the connection is closed.
type Silent struct {
	mu       sync.Mutex
	deadline time.Time
	changed  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSilent() *Silent {
	return &Silent{
		changed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *Silent) Read([]byte) (int, error) {
	for {
		s.mu.Lock()
		deadline, changed := s.deadline, s.changed
		s.mu.Unlock()

		if err := s.wait(deadline, changed); err != nil {
			return 0, err
		}
	}
}

// wait blocks until deadline passes, the connection closes, or the deadline changes.
func (s *Silent) wait(deadline time.Time, changed <-chan struct{}) error {
	var expired <-chan time.Time

	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return os.ErrDeadlineExceeded
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case <-expired:
		return os.ErrDeadlineExceeded
	case <-s.closed:
		return net.ErrClosed
	case <-changed:
		return nil
	}
}

func (s *Silent) Write(buf []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, net.ErrClosed
	default:
		return len(buf), nil
	}
}

func (s *Silent) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *Silent) LocalAddr() net.Addr {
	return silentAddr{}
}

func (s *Silent) RemoteAddr() net.Addr {
	return silentAddr{}
}

func (s *Silent) SetDeadline(t time.Time) error {
	return s.SetReadDeadline(t)
}

// SetReadDeadline wakes up blocked reads so that they observe t.
func (s *Silent) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	return nil
}

func (s *Silent) SetWriteDeadline(time.Time) error {
	return nil
}

type silentAddr struct{}

func (silentAddr) Network() string {
	return "silent"
}

func (silentAddr) String() string {
	return "silent"
}
