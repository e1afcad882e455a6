package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/dispatch"
	"github.com/haveloc/servehub/internal/protocol"
)

// inputData is the caller's payload document. Exactly one of the two
// keys must be present: data carries plain JSON values, encoded carries
// a base64 CBOR blob for values JSON cannot express.
type inputData struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Encoded string          `json:"encoded,omitempty"`
}

type runRequest struct {
	ServableNamespace string    `json:"servable_namespace"`
	ServableName      string    `json:"servable_name"`
	InputData         inputData `json:"input_data"`
	Mode              string    `json:"mode,omitempty"`
	Asynchronous      bool      `json:"asynchronous,omitempty"`
}

type pipelineRunRequest struct {
	Servables    []string  `json:"servables"`
	InputData    inputData `json:"input_data"`
	Mode         string    `json:"mode,omitempty"`
	Asynchronous bool      `json:"asynchronous,omitempty"`
}

// handleRun dispatches a single-servable invocation, blocking or
// detached.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("reading request body").WithCause(err))
		return
	}
	var body runRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("request body is not valid JSON").WithCause(err))
		return
	}
	if body.ServableNamespace == "" || body.ServableName == "" {
		s.respondDomainError(w, core.ErrMalformedInput("servable_namespace and servable_name are required"))
		return
	}

	req, err := s.buildRequest([]core.ServableRef{{
		Namespace: body.ServableNamespace,
		Name:      body.ServableName,
	}}, false, body.Mode, body.InputData, raw)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.dispatch(w, r, req, body.Asynchronous)
}

// handlePipelineRun dispatches a fan-out invocation across an ordered
// servable list.
func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("reading request body").WithCause(err))
		return
	}
	var body pipelineRunRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		s.respondDomainError(w, core.ErrMalformedInput("request body is not valid JSON").WithCause(err))
		return
	}

	refs := make([]core.ServableRef, 0, len(body.Servables))
	for _, shorthand := range body.Servables {
		ref, err := core.ParseServableRef(shorthand)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		refs = append(refs, ref)
	}

	req, err := s.buildRequest(refs, true, body.Mode, body.InputData, raw)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.dispatch(w, r, req, body.Asynchronous)
}

func (s *Server) buildRequest(refs []core.ServableRef, pipeline bool, mode string, input inputData, raw json.RawMessage) (dispatch.Request, error) {
	parsedMode, err := protocol.ParseMode(mode)
	if err != nil {
		return dispatch.Request{}, err
	}
	payload, err := protocol.PayloadFromInput(input.Data, input.Encoded)
	if err != nil {
		return dispatch.Request{}, err
	}
	return dispatch.Request{
		Refs:     refs,
		Pipeline: pipeline,
		Mode:     parsedMode,
		Payload:  payload,
		Input:    raw,
	}, nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req dispatch.Request, async bool) {
	id := identityFrom(r.Context())

	if async {
		taskID, err := s.supervisor.InvokeAsync(r.Context(), id, req)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"status":  string(core.TaskStatusRunning),
			"task_id": string(taskID),
		})
		return
	}

	result, err := s.supervisor.InvokeSync(r.Context(), id, req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"result":          result.Value,
		"compute_time_ms": result.ComputeTimeMS,
	})
}
