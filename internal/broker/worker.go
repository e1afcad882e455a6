package broker

import (
	"context"
)

// Handler processes one request frame into a reply frame. The broker
// never looks inside either.
type Handler func(ctx context.Context, frame []byte) []byte

// Worker is a backend participant: it connects to the broker's backend
// endpoint, announces readiness with an empty frame, then serves
// request frames one at a time. Execution sites run this loop; the test
// suite uses it to stand in for them.
type Worker struct {
	dialer  Dialer
	handler Handler
}

// NewWorker creates a worker for a backend endpoint.
func NewWorker(dialer Dialer, handler Handler) *Worker {
	return &Worker{dialer: dialer, handler: handler}
}

// Run connects and serves until ctx is canceled or the connection
// drops.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := w.dialer.Dial()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// Readiness announcement.
	if err := conn.WriteFrame(nil); err != nil {
		return err
	}

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		reply := w.handler(ctx, frame)
		if err := conn.WriteFrame(reply); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
