package broker

import (
	"errors"
	"sync"
)

// ErrClosed is returned by in-memory endpoints after Close.
var ErrClosed = errors.New("broker: endpoint closed")

// memConn is one side of an in-memory frame pipe. The done channel and
// its close guard are shared between the two halves; closing either
// side tears down the pipe.
type memConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}

	closeOnce *sync.Once
}

// memPipe builds a connected pair of in-memory frame connections.
func memPipe() (*memConn, *memConn) {
	a2b := make(chan []byte, 16)
	b2a := make(chan []byte, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &memConn{in: b2a, out: a2b, done: done, closeOnce: once}
	b := &memConn{in: a2b, out: b2a, done: done, closeOnce: once}
	return a, b
}

func (c *memConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.done:
		// Drain anything delivered before the close.
		select {
		case frame := <-c.in:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (c *memConn) WriteFrame(frame []byte) error {
	// Copy so the sender may reuse its buffer.
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case c.out <- buf:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// MemEndpoint is an in-process broker endpoint: a Listener on one side
// and a Dialer on the other, connected by channel-backed pipes. It
// backs the embedded single-process deployment and the test suite.
type MemEndpoint struct {
	mu      sync.Mutex
	pending chan FrameConn
	closed  bool
}

// NewMemEndpoint creates an in-memory endpoint.
func NewMemEndpoint() *MemEndpoint {
	return &MemEndpoint{pending: make(chan FrameConn, 64)}
}

// Accept implements Listener.
func (e *MemEndpoint) Accept() (FrameConn, error) {
	conn, ok := <-e.pending
	if !ok {
		return nil, ErrClosed
	}
	return conn, nil
}

// Dial implements Dialer.
func (e *MemEndpoint) Dial() (FrameConn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	local, remote := memPipe()
	e.pending <- remote
	return local, nil
}

// Close implements Listener.
func (e *MemEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.pending)
	}
	return nil
}

// Addr implements Listener.
func (e *MemEndpoint) Addr() string { return "mem" }
