// Package dispatch implements the invocation supervisor: the component
// that takes an authenticated caller's request through the access gate,
// onto the broker, and back, in either a blocking or a detached
// task-tracked form. It also hosts the status reconciler for tasks
// delegated to the external workflow engine.
package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/events"
	"github.com/haveloc/servehub/internal/gate"
	"github.com/haveloc/servehub/internal/logging"
	"github.com/haveloc/servehub/internal/protocol"
)

const (
	defaultSyncTimeout  = 5 * time.Minute
	defaultAsyncTimeout = 30 * time.Minute
	defaultMaxInFlight  = 64
)

// Request describes one invocation before gating. Refs carries the
// servable references in caller order; Pipeline selects fan-out
// semantics. Input is the caller's raw input document, persisted
// verbatim on async tasks for auditing.
type Request struct {
	Refs     []core.ServableRef
	Pipeline bool
	Mode     protocol.Mode
	Payload  interface{}
	Input    json.RawMessage
}

// Supervisor routes invocations through the gate and the broker.
//
// Async invocations run on a bounded pool: admission is a non-blocking
// semaphore acquire, and a refused acquire surfaces as a saturation
// error rather than queueing unbounded goroutines.
type Supervisor struct {
	gate   *gate.Gate
	caller core.FrameCaller
	tasks  core.TaskStore
	bus    *events.EventBus
	logger *logging.Logger

	syncTimeout  time.Duration
	asyncTimeout time.Duration
	sem          *semaphore.Weighted
	inFlight     atomic.Int64
}

// Option configures the supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithEvents attaches the lifecycle event bus.
func WithEvents(bus *events.EventBus) Option {
	return func(s *Supervisor) {
		s.bus = bus
	}
}

// WithSyncTimeout bounds blocking round trips.
func WithSyncTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// WithAsyncTimeout bounds detached round trips.
func WithAsyncTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.asyncTimeout = d
		}
	}
}

// WithMaxInFlight caps concurrently running async invocations.
func WithMaxInFlight(n int64) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// New creates a supervisor over the gate, broker caller and task store.
func New(g *gate.Gate, caller core.FrameCaller, tasks core.TaskStore, opts ...Option) *Supervisor {
	s := &Supervisor{
		gate:         g,
		caller:       caller,
		tasks:        tasks,
		logger:       logging.NewNop(),
		syncTimeout:  defaultSyncTimeout,
		asyncTimeout: defaultAsyncTimeout,
		sem:          semaphore.NewWeighted(defaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InFlight returns the number of detached invocations currently running.
func (s *Supervisor) InFlight() int64 {
	return s.inFlight.Load()
}

// InvokeSync performs one blocking invocation and returns the decoded
// result. No task row is created; the caller holds the connection for
// the duration of the round trip.
func (s *Supervisor) InvokeSync(ctx context.Context, id core.Identity, req Request) (*protocol.Result, error) {
	target, err := s.resolve(ctx, id, req)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.EncodeRequest(req.Mode, target, req.Payload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rtCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	reply, err := s.caller.RoundTrip(rtCtx, frame)
	if err != nil {
		return nil, err
	}
	result, err := protocol.DecodeReply(reply)
	if err != nil {
		return nil, err
	}

	s.logInvocations(ctx, id, target, req, len(frame), result.ComputeTimeMS, time.Since(start))
	return result, nil
}

// InvokeAsync performs one detached invocation. The task row is
// committed in the RUNNING state before the execution goroutine is
// spawned, so the returned id is always queryable. A full pool refuses
// admission instead of queueing.
func (s *Supervisor) InvokeAsync(ctx context.Context, id core.Identity, req Request) (core.TaskID, error) {
	target, err := s.resolve(ctx, id, req)
	if err != nil {
		return "", err
	}
	frame, err := protocol.EncodeRequest(req.Mode, target, req.Payload)
	if err != nil {
		return "", err
	}

	if !s.sem.TryAcquire(1) {
		return "", core.ErrPoolSaturated(s.inFlight.Load())
	}

	task := core.NewTask(core.TaskKindInvocation, req.Input)
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		s.sem.Release(1)
		return "", err
	}
	s.inFlight.Add(1)
	s.publish(events.NewTaskCreatedEvent(string(task.ID), string(task.Kind), target.Primary().Shorthand()))

	go s.execute(task, id, target, req, frame)
	return task.ID, nil
}

func (s *Supervisor) resolve(ctx context.Context, id core.Identity, req Request) (core.Target, error) {
	if req.Pipeline {
		return s.gate.CheckPipeline(ctx, id, req.Refs)
	}
	if len(req.Refs) != 1 {
		return core.Target{}, core.ErrMalformedInput("single invocation requires exactly one servable")
	}
	return s.gate.Check(ctx, id, req.Refs[0])
}

// execute runs one detached invocation to its terminal task status. It
// deliberately detaches from the submitting request's lifetime; only
// the async timeout bounds it.
func (s *Supervisor) execute(task *core.Task, id core.Identity, target core.Target, req Request, frame []byte) {
	defer s.inFlight.Add(-1)
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), s.asyncTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.caller.RoundTrip(ctx, frame)
	var result *protocol.Result
	if err == nil {
		result, err = protocol.DecodeReply(reply)
	}
	if err != nil {
		s.fail(task.ID, err)
		return
	}

	payload, err := json.Marshal(map[string]interface{}{"result": result.Value})
	if err != nil {
		s.fail(task.ID, core.ErrWorkerError("result is not serializable").WithCause(err))
		return
	}

	writeCtx, writeCancel := terminalWriteContext()
	defer writeCancel()
	if err := s.tasks.CompleteTask(writeCtx, task.ID, core.TaskStatusCompleted, payload); err != nil {
		s.logger.Error("completing task", "task", task.ID, "error", err)
		return
	}

	s.logInvocations(writeCtx, id, target, req, len(frame), result.ComputeTimeMS, time.Since(start))
	s.publish(events.NewTaskCompletedEvent(string(task.ID), time.Since(start).Milliseconds()))
}

// terminalWriteContext bounds a terminal status write independently of
// the round-trip deadline, which may already have expired. A task must
// still reach FAILED after its round trip timed out.
func terminalWriteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *Supervisor) fail(id core.TaskID, cause error) {
	s.logger.Warn("async invocation failed", "task", id, "error", cause)
	ctx, cancel := terminalWriteContext()
	defer cancel()
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := s.tasks.CompleteTask(ctx, id, core.TaskStatusFailed, payload); err != nil {
		s.logger.Error("recording task failure", "task", id, "error", err)
	}
	s.publish(events.NewTaskFailedEvent(string(id), cause.Error()))
}

// logInvocations appends one audit record per dispatched servable.
// Best effort: a failed append is logged and never surfaced.
func (s *Supervisor) logInvocations(ctx context.Context, id core.Identity, target core.Target, req Request, inputSize int, computeMS int64, elapsed time.Duration) {
	for _, servable := range target.Servables() {
		entry := &core.InvocationLog{
			ServableUUID:  servable.UUID,
			UserID:        id.UserID,
			InputSize:     inputSize,
			ComputeTimeMS: computeMS,
			RequestTimeMS: elapsed.Milliseconds(),
			Mode:          string(req.Mode),
			Fanout:        target.Fanout(),
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.tasks.LogInvocation(ctx, entry); err != nil {
			s.logger.Warn("appending invocation log", "servable", servable.Shorthand(), "error", err)
		}
	}
}

func (s *Supervisor) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}
