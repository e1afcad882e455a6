package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/events"
)

type publishRequest struct {
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// handlePublish hands a servable description to the external workflow
// engine for ingestion and tracks the run as a publication task. The
// engine owns the build; status queries on the returned task id follow
// its progress through the reconciler.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.respondDomainError(w, core.ErrMalformedInput("no workflow engine is configured"))
		return
	}

	var body publishRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("request body is not valid JSON").WithCause(err))
		return
	}
	if body.Name == "" {
		s.respondDomainError(w, core.ErrMalformedInput("name is required"))
		return
	}

	id := identityFrom(r.Context())
	shorthand := id.Namespace + "/" + body.Name

	if body.Metadata == nil {
		body.Metadata = make(map[string]interface{})
	}
	body.Metadata["owner"] = id.Username
	body.Metadata["namespace"] = id.Namespace
	body.Metadata["shorthand"] = shorthand
	body.Metadata["publication_date"] = time.Now().UTC().Format(time.RFC3339)

	input, err := json.Marshal(body.Metadata)
	if err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("metadata is not serializable").WithCause(err))
		return
	}

	ref, err := s.engine.StartExecution(r.Context(), input)
	if err != nil {
		s.respondDomainError(w, core.ErrPersistence("starting publication execution", err))
		return
	}

	task := core.NewTask(core.TaskKindPublication, input).WithExternalRef(ref)
	if err := s.tasks.CreateTask(r.Context(), task); err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.eventBus != nil {
		s.eventBus.Publish(events.NewTaskCreatedEvent(string(task.ID), string(task.Kind), shorthand))
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":   string(core.TaskStatusRunning),
		"task_id":  string(task.ID),
		"servable": shorthand,
	})
}
