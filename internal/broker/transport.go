// Package broker implements the best-effort message-routing proxy that
// pairs caller connections with idle worker connections. The broker
// forwards frames verbatim in both directions and keeps no state beyond
// the in-flight pairings; a restart loses them all.
package broker

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single frame on the wire.
const MaxFrameSize = 64 << 20

// FrameConn is a connection that exchanges opaque, length-delimited
// frames. An empty frame is valid and is used by workers to announce
// readiness.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Listener accepts frame connections.
type Listener interface {
	Accept() (FrameConn, error)
	Close() error
	Addr() string
}

// Dialer opens a new caller or worker connection to a broker endpoint.
type Dialer interface {
	Dial() (FrameConn, error)
}

// tcpConn frames a net.Conn with a 4-byte big-endian length prefix.
type tcpConn struct {
	conn net.Conn
}

// NewFrameConn wraps a net.Conn in the length-prefixed framing.
func NewFrameConn(conn net.Conn) FrameConn {
	return &tcpConn{conn: conn}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	if size == 0 {
		return nil, nil
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(c.conn, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return err
	}
	if len(frame) == 0 {
		return nil
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP opens a framed TCP listener on addr.
func ListenTCP(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (FrameConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewFrameConn(conn), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

// TCPDialer dials framed TCP connections to a fixed address.
type TCPDialer struct {
	Addr string
}

// Dial implements Dialer.
func (d TCPDialer) Dial() (FrameConn, error) {
	conn, err := net.Dial("tcp", d.Addr)
	if err != nil {
		return nil, err
	}
	return NewFrameConn(conn), nil
}

// Bridge relays frames between two connections in both directions until
// either side closes, then closes both. It lets workers on one
// transport serve a broker listening on another.
func Bridge(a, b FrameConn) {
	done := make(chan struct{}, 2)
	pump := func(src, dst FrameConn) {
		for {
			frame, err := src.ReadFrame()
			if err != nil {
				break
			}
			if err := dst.WriteFrame(frame); err != nil {
				break
			}
		}
		done <- struct{}{}
	}
	go pump(a, b)
	go pump(b, a)
	<-done
	_ = a.Close()
	_ = b.Close()
}
