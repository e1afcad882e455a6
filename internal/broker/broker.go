package broker

import (
	"context"

	"github.com/haveloc/servehub/internal/logging"
)

// inbound is one frame read from a connection, or that connection's
// terminal error.
type inbound struct {
	conn  FrameConn
	frame []byte
	err   error
}

// Broker pairs caller frames with idle workers. One switching goroutine
// serializes all routing decisions; per-connection reader goroutines
// only feed it. Frames are forwarded verbatim, never inspected, never
// retried.
type Broker struct {
	frontend Listener
	backend  Listener
	logger   *logging.Logger

	fromCallers chan inbound
	fromWorkers chan inbound
}

// Option configures the broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New creates a broker over the given endpoints. Callers connect to the
// frontend, workers to the backend.
func New(frontend, backend Listener, opts ...Option) *Broker {
	b := &Broker{
		frontend:    frontend,
		backend:     backend,
		logger:      logging.NewNop(),
		fromCallers: make(chan inbound, 64),
		fromWorkers: make(chan inbound, 64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run accepts connections and switches frames until ctx is canceled.
func (b *Broker) Run(ctx context.Context) error {
	go b.acceptLoop(ctx, b.frontend, b.fromCallers)
	go b.acceptLoop(ctx, b.backend, b.fromWorkers)

	go func() {
		<-ctx.Done()
		_ = b.frontend.Close()
		_ = b.backend.Close()
	}()

	b.logger.Info("broker running",
		"frontend", b.frontend.Addr(),
		"backend", b.backend.Addr(),
	)
	b.switchLoop(ctx)
	return ctx.Err()
}

// acceptLoop accepts connections on one endpoint and spawns a reader
// per connection feeding the sink channel.
func (b *Broker) acceptLoop(ctx context.Context, ln Listener, sink chan<- inbound) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(conn FrameConn) {
			for {
				frame, err := conn.ReadFrame()
				select {
				case sink <- inbound{conn: conn, frame: frame, err: err}:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
				if err != nil {
					return
				}
			}
		}(conn)
	}
}

// switchLoop is the single routing goroutine. Caller frames go to the
// first idle worker (FIFO); worker replies go back to the caller that
// originated the paired request. Frames arriving while no worker is
// idle wait in an unbounded queue; they are lost if the broker stops.
func (b *Broker) switchLoop(ctx context.Context) {
	// idle holds workers ready for a request, in FIFO order. inflight
	// maps a busy worker to the caller that originated its request.
	// pending holds caller frames waiting for a worker.
	var (
		idle     []FrameConn
		inflight = map[FrameConn]FrameConn{}
		pending  []inbound
	)

	dispatch := func(msg inbound) {
		worker := idle[0]
		idle = idle[1:]
		if err := worker.WriteFrame(msg.frame); err != nil {
			b.logger.Warn("worker write failed, dropping frame", "error", err)
			_ = worker.Close()
			return
		}
		inflight[worker] = msg.conn
	}

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-b.fromCallers:
			if msg.err != nil {
				_ = msg.conn.Close()
				continue
			}
			if len(idle) == 0 {
				pending = append(pending, msg)
				continue
			}
			dispatch(msg)

		case msg := <-b.fromWorkers:
			if msg.err != nil {
				// Any in-flight frame on this worker is lost; the
				// caller times out on its own.
				delete(inflight, msg.conn)
				for i, w := range idle {
					if w == msg.conn {
						idle = append(idle[:i], idle[i+1:]...)
						break
					}
				}
				_ = msg.conn.Close()
				continue
			}

			caller, busy := inflight[msg.conn]
			if !busy {
				// Empty frame from a fresh worker announces readiness.
				idle = append(idle, msg.conn)
			} else {
				delete(inflight, msg.conn)
				if err := caller.WriteFrame(msg.frame); err != nil {
					b.logger.Warn("caller write failed, dropping reply", "error", err)
					_ = caller.Close()
				}
				idle = append(idle, msg.conn)
			}

			for len(pending) > 0 && len(idle) > 0 {
				next := pending[0]
				pending = pending[1:]
				dispatch(next)
			}
		}
	}
}
