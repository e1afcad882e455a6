package core

import (
	"context"
	"encoding/json"
)

// TaskStore persists task records and their status transitions.
type TaskStore interface {
	// CreateTask inserts a task in the RUNNING state. The insert must
	// commit before any worker dispatch for that task starts.
	CreateTask(ctx context.Context, task *Task) error

	// GetTask returns the task for id, or a not-found error.
	GetTask(ctx context.Context, id TaskID) (*Task, error)

	// CompleteTask writes the terminal status and result for a task
	// with no external ref. It is the single terminal writer for such
	// tasks.
	CompleteTask(ctx context.Context, id TaskID, status TaskStatus, result json.RawMessage) error

	// ReconcileTask copies an engine-reported status and output into
	// the task row. The write is monotonic: a task already in a
	// terminal local status is never moved back to RUNNING.
	ReconcileTask(ctx context.Context, id TaskID, status TaskStatus, output json.RawMessage) error

	// LogInvocation appends an audit record. Best effort; callers log
	// failures and move on.
	LogInvocation(ctx context.Context, log *InvocationLog) error
}

// ServableStore reads and mutates the servable registry and its access
// grants.
type ServableStore interface {
	// ResolveServable returns the newest servable for namespace/name,
	// regardless of status, or a not-found error.
	ResolveServable(ctx context.Context, ref ServableRef) (*Servable, error)

	// GetServable returns the servable with the given uuid.
	GetServable(ctx context.Context, uuid string) (*Servable, error)

	// ListServables returns the newest READY servable per
	// namespace/name that the identity may see (protected ones only
	// with a grant).
	ListServables(ctx context.Context, id Identity) ([]*Servable, error)

	// CreateServable registers a new servable row.
	CreateServable(ctx context.Context, s *Servable) error

	// MarkServableDeleted flips the status to DELETED. Logical delete
	// only.
	MarkServableDeleted(ctx context.Context, uuid string) error

	// HasGrant reports whether the user holds a whitelist row for the
	// servable.
	HasGrant(ctx context.Context, userID int64, servableUUID string) (bool, error)

	// AddGrant inserts a whitelist row.
	AddGrant(ctx context.Context, userID int64, servableUUID string) error
}

// UserStore maps authenticated usernames onto user rows, creating them
// on first sight.
type UserStore interface {
	UpsertUser(ctx context.Context, username string) (*User, error)
}

// ExecutionStatus is the externally-owned workflow engine's view of one
// execution.
type ExecutionStatus struct {
	Status TaskStatus
	Output json.RawMessage
}

// EngineClient talks to the external workflow engine. The core only
// starts executions and reads their status; the engine itself is out of
// scope.
type EngineClient interface {
	// StartExecution launches a workflow and returns its opaque
	// reference handle.
	StartExecution(ctx context.Context, input json.RawMessage) (string, error)

	// DescribeExecution returns the engine's current view of the
	// execution behind ref.
	DescribeExecution(ctx context.Context, ref string) (*ExecutionStatus, error)
}

// TokenIntrospector turns a bearer token into a username, or fails.
// The authentication protocol behind it is out of scope.
type TokenIntrospector interface {
	Introspect(ctx context.Context, token string) (username string, err error)
}

// FrameCaller performs one broker round trip with an opaque frame. The
// transport never inspects frame contents.
type FrameCaller interface {
	RoundTrip(ctx context.Context, frame []byte) ([]byte, error)
}
