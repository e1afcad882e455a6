package broker

import (
	"context"

	"github.com/haveloc/servehub/internal/core"
)

// Client performs caller round trips through a broker frontend. Each
// round trip uses its own connection, so concurrent requests pair
// independently inside the broker.
type Client struct {
	dialer Dialer
}

// NewClient creates a caller client for a frontend endpoint.
func NewClient(dialer Dialer) *Client {
	return &Client{dialer: dialer}
}

var _ core.FrameCaller = (*Client)(nil)

// RoundTrip sends one frame and waits for the paired reply, bounded by
// ctx. Cancellation or expiry closes the connection and surfaces as a
// no-reply error.
func (c *Client) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	conn, err := c.dialer.Dial()
	if err != nil {
		return nil, core.ErrBrokerNoReply().WithCause(err)
	}
	defer func() { _ = conn.Close() }()

	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if err := conn.WriteFrame(frame); err != nil {
			done <- result{err: err}
			return
		}
		reply, err := conn.ReadFrame()
		done <- result{frame: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, core.ErrBrokerNoReply().WithCause(res.err)
		}
		return res.frame, nil
	case <-ctx.Done():
		_ = conn.Close()
		return nil, core.ErrBrokerNoReply().WithCause(ctx.Err())
	}
}
