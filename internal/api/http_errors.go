package api

import (
	"errors"
	"net/http"

	"github.com/haveloc/servehub/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatDenied:
		return http.StatusForbidden, true
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatSaturated:
		return http.StatusTooManyRequests, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondDomainError maps a domain error onto its HTTP status and a
// structured error body. Unknown errors become opaque 500s.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("unclassified error", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	s.respondJSON(w, status, map[string]interface{}{
		"error":     domErr.Message,
		"code":      domErr.Code,
		"retryable": domErr.Retryable,
	})
}
