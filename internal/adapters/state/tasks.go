package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/haveloc/servehub/internal/core"
)

var _ core.TaskStore = (*SQLiteStore)(nil)

// CreateTask inserts a task row in a single commit. Callers must not
// start any dispatch for the task before this returns.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (uuid, kind, input, external_ref, status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(task.ID), string(task.Kind), nullableJSON(task.Input),
		task.ExternalRef, string(task.Status), nullableJSON(task.Result),
		task.CreatedAt,
	)
	if err != nil {
		return core.ErrPersistence("inserting task", err)
	}
	return nil
}

// GetTask returns the task for id.
func (s *SQLiteStore) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, kind, input, external_ref, status, result, created_at
		FROM tasks WHERE uuid = ?
	`, string(id))
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, core.ErrPersistence("loading task", err)
	}
	return task, nil
}

// CompleteTask writes the terminal status and result for a task. The
// dispatch supervisor (or its detached execution) is the only caller
// for tasks without an external ref.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id core.TaskID, status core.TaskStatus, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ? WHERE uuid = ?
	`, string(status), nullableJSON(result), string(id))
	if err != nil {
		return core.ErrPersistence("finalizing task", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrTaskNotFound(id)
	}
	return nil
}

// ReconcileTask copies an engine-reported status and output into the
// task row. The copy is forward-only: a task already terminal locally
// is never reverted to RUNNING, so a stale engine answer cannot undo a
// completed dispatch.
func (s *SQLiteStore) ReconcileTask(ctx context.Context, id core.TaskID, status core.TaskStatus, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrPersistence("beginning reconcile transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE uuid = ?`, string(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrTaskNotFound(id)
	}
	if err != nil {
		return core.ErrPersistence("loading task status", err)
	}

	if core.TaskStatus(current).Terminal() && !status.Terminal() {
		// Monotonicity guard: drop the backward copy.
		return nil
	}

	if output != nil {
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, result = ? WHERE uuid = ?`,
			string(status), nullableJSON(output), string(id))
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE uuid = ?`,
			string(status), string(id))
	}
	if err != nil {
		return core.ErrPersistence("reconciling task", err)
	}

	if err := tx.Commit(); err != nil {
		return core.ErrPersistence("committing reconcile", err)
	}
	return nil
}

// LogInvocation appends an audit record.
func (s *SQLiteStore) LogInvocation(ctx context.Context, log *core.InvocationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocation_logs
			(servable_uuid, user_id, input_size, compute_time_ms, request_time_ms, mode, fanout, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		log.ServableUUID, log.UserID, log.InputSize,
		log.ComputeTimeMS, log.RequestTimeMS, log.Mode, log.Fanout, createdAt,
	)
	if err != nil {
		return core.ErrPersistence("inserting invocation log", err)
	}
	return nil
}

// InvocationCount reports the number of audit rows for a servable.
// Used by tests and operational tooling, never by control flow.
func (s *SQLiteStore) InvocationCount(ctx context.Context, servableUUID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invocation_logs WHERE servable_uuid = ?`, servableUUID).Scan(&n)
	if err != nil {
		return 0, core.ErrPersistence("counting invocation logs", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var (
		task        core.Task
		id, kind    string
		status      string
		input       sql.NullString
		result      sql.NullString
		externalRef string
		createdAt   time.Time
	)
	if err := row.Scan(&id, &kind, &input, &externalRef, &status, &result, &createdAt); err != nil {
		return nil, err
	}
	task.ID = core.TaskID(id)
	task.Kind = core.TaskKind(kind)
	task.Status = core.TaskStatus(status)
	task.ExternalRef = externalRef
	task.CreatedAt = createdAt
	if input.Valid {
		task.Input = json.RawMessage(input.String)
	}
	if result.Valid {
		task.Result = json.RawMessage(result.String)
	}
	return &task, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
