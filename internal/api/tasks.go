package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haveloc/servehub/internal/core"
)

type taskStatusResponse struct {
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// handleTaskStatus returns the reconciled status of one task.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		s.respondDomainError(w, core.ErrMalformedInput("task id is required"))
		return
	}

	task, err := s.reconciler.Status(r.Context(), core.TaskID(taskID))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, taskStatusResponse{
		TaskID:    string(task.ID),
		Status:    string(task.Status),
		Result:    task.Result,
		CreatedAt: task.CreatedAt,
	})
}
