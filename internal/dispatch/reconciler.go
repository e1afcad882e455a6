package dispatch

import (
	"context"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/logging"
)

// Reconciler answers task status queries. For tasks whose execution is
// owned by the external workflow engine it refreshes the local row from
// the engine's view on every query; local tasks are served straight
// from the store.
type Reconciler struct {
	tasks  core.TaskStore
	engine core.EngineClient
	logger *logging.Logger
}

// NewReconciler creates a reconciler. engine may be nil when no
// workflow engine is configured; engine-backed tasks then report their
// last persisted status.
func NewReconciler(tasks core.TaskStore, engine core.EngineClient, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{tasks: tasks, engine: engine, logger: logger}
}

// Status returns the current view of a task. Engine-reported statuses
// are persisted through the monotonic reconcile write before being
// returned; a task already terminal locally keeps its terminal status.
func (r *Reconciler) Status(ctx context.Context, id core.TaskID) (*core.Task, error) {
	task, err := r.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.ExternalRef == "" || r.engine == nil {
		return task, nil
	}

	exec, err := r.engine.DescribeExecution(ctx, task.ExternalRef)
	if err != nil {
		// Serve the stored view when the engine is unreachable.
		r.logger.Warn("describing execution", "task", id, "ref", task.ExternalRef, "error", err)
		return task, nil
	}

	if err := r.tasks.ReconcileTask(ctx, id, exec.Status, exec.Output); err != nil {
		r.logger.Warn("reconciling task status", "task", id, "error", err)
	}

	// Re-read so the monotonic guard's outcome, not the raw engine
	// view, is what the caller sees.
	return r.tasks.GetTask(ctx, id)
}
