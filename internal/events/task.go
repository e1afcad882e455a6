package events

// Event type constants for task and servable lifecycle.
const (
	TypeTaskCreated     = "task_created"
	TypeTaskCompleted   = "task_completed"
	TypeTaskFailed      = "task_failed"
	TypeServableDeleted = "servable_deleted"
)

// TaskCreatedEvent is emitted when an async invocation task is persisted.
type TaskCreatedEvent struct {
	BaseEvent
	Kind     string `json:"kind"`
	Servable string `json:"servable,omitempty"`
}

// NewTaskCreatedEvent creates a task creation event.
func NewTaskCreatedEvent(taskID, kind, servable string) TaskCreatedEvent {
	return TaskCreatedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCreated, taskID),
		Kind:      kind,
		Servable:  servable,
	}
}

// TaskCompletedEvent is emitted when a task reaches the COMPLETED state.
type TaskCompletedEvent struct {
	BaseEvent
	ElapsedMS int64 `json:"elapsed_ms"`
}

// NewTaskCompletedEvent creates a task completion event.
func NewTaskCompletedEvent(taskID string, elapsedMS int64) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent: NewBaseEvent(TypeTaskCompleted, taskID),
		ElapsedMS: elapsedMS,
	}
}

// TaskFailedEvent is emitted when a task reaches the FAILED state.
type TaskFailedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewTaskFailedEvent creates a task failure event.
func NewTaskFailedEvent(taskID, reason string) TaskFailedEvent {
	return TaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeTaskFailed, taskID),
		Reason:    reason,
	}
}

// ServableDeletedEvent is emitted when a servable is logically deleted.
type ServableDeletedEvent struct {
	BaseEvent
	Servable string `json:"servable"`
}

// NewServableDeletedEvent creates a servable deletion event.
func NewServableDeletedEvent(servable string) ServableDeletedEvent {
	return ServableDeletedEvent{
		BaseEvent: NewBaseEvent(TypeServableDeleted, ""),
		Servable:  servable,
	}
}
