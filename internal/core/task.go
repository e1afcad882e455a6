package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskID uniquely identifies a tracked unit of work.
type TaskID string

// NewTaskID allocates a fresh task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// TaskKind distinguishes why a task exists.
type TaskKind string

const (
	TaskKindInvocation  TaskKind = "invocation"
	TaskKindPublication TaskKind = "publication"
)

// TaskStatus represents the current state of a task.
//
// RUNNING is the only non-terminal local state. Tasks delegated to the
// external workflow engine may carry engine-reported statuses verbatim
// (e.g. "SUCCEEDED", "ABORTED"); anything other than RUNNING is treated
// as terminal for monotonicity purposes.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the status may no longer change locally.
func (s TaskStatus) Terminal() bool {
	return s != "" && s != TaskStatusRunning
}

// Task is the durable record of one invocation or publication.
type Task struct {
	ID          TaskID
	Kind        TaskKind
	Input       json.RawMessage
	ExternalRef string // opaque handle into the external workflow engine, empty for local tasks
	Status      TaskStatus
	Result      json.RawMessage
	CreatedAt   time.Time
}

// NewTask creates a task in the RUNNING state. The id is assigned here,
// before any dispatch happens, so a status query for a freshly returned
// id can never race its own creation.
func NewTask(kind TaskKind, input json.RawMessage) *Task {
	return &Task{
		ID:        NewTaskID(),
		Kind:      kind,
		Input:     input,
		Status:    TaskStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
}

// WithExternalRef attaches the workflow-engine execution handle.
func (t *Task) WithExternalRef(ref string) *Task {
	t.ExternalRef = ref
	return t
}

// InvocationLog is an immutable audit record written once per completed
// dispatch. It is never consulted for control flow.
type InvocationLog struct {
	ServableUUID  string
	UserID        int64
	InputSize     int
	ComputeTimeMS int64
	RequestTimeMS int64
	Mode          string
	Fanout        bool
	CreatedAt     time.Time
}
