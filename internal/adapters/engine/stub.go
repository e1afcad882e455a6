package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haveloc/servehub/internal/core"
)

// Stub is an in-memory engine used by tests and by deployments that
// run without a workflow engine. Executions start RUNNING and stay
// there until SetStatus moves them.
type Stub struct {
	mu         sync.Mutex
	executions map[string]*core.ExecutionStatus
}

var _ core.EngineClient = (*Stub)(nil)

// NewStub creates an empty stub engine.
func NewStub() *Stub {
	return &Stub{executions: make(map[string]*core.ExecutionStatus)}
}

// StartExecution records a new execution in the RUNNING state.
func (s *Stub) StartExecution(_ context.Context, _ json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := "exec-" + uuid.NewString()
	s.executions[ref] = &core.ExecutionStatus{Status: core.TaskStatusRunning}
	return ref, nil
}

// DescribeExecution returns the recorded status for ref.
func (s *Stub) DescribeExecution(_ context.Context, ref string) (*core.ExecutionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.executions[ref]
	if !ok {
		return nil, fmt.Errorf("unknown execution %s", ref)
	}
	cp := *status
	return &cp, nil
}

// SetStatus moves an execution to a new status with optional output.
func (s *Stub) SetStatus(ref string, status core.TaskStatus, output json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[ref] = &core.ExecutionStatus{Status: status, Output: output}
}
