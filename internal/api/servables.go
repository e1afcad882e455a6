package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haveloc/servehub/internal/core"
	"github.com/haveloc/servehub/internal/events"
)

type servableResponse struct {
	UUID      string    `json:"uuid"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Shorthand string    `json:"shorthand"`
	Status    string    `json:"status"`
	Protected bool      `json:"protected"`
	Site      string    `json:"site,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toServableResponse(s *core.Servable) servableResponse {
	return servableResponse{
		UUID:      s.UUID,
		Namespace: s.Namespace,
		Name:      s.Name,
		Shorthand: s.Shorthand(),
		Status:    string(s.Status),
		Protected: s.Protected,
		Site:      s.Site,
		CreatedAt: s.CreatedAt,
	}
}

// handleListServables returns the servables visible to the caller.
// Protected servables appear only with a whitelist grant.
func (s *Server) handleListServables(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	servables, err := s.servables.ListServables(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	out := make([]servableResponse, 0, len(servables))
	for _, servable := range servables {
		out = append(out, toServableResponse(servable))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"servables": out})
}

// handleServableStatus returns the status of one servable by uuid.
func (s *Server) handleServableStatus(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	servable, err := s.servables.GetServable(r.Context(), uuid)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"uuid":   servable.UUID,
		"status": string(servable.Status),
	})
}

// handleDeleteServable logically deletes the caller's servable. Only
// the owner may delete; the row survives with a DELETED status so task
// history keeps resolving.
func (s *Server) handleDeleteServable(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	ref := core.ServableRef{
		Namespace: chi.URLParam(r, "namespace"),
		Name:      chi.URLParam(r, "name"),
	}

	servable, err := s.servables.ResolveServable(r.Context(), ref)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if servable.OwnerID != id.UserID {
		s.respondDomainError(w, core.ErrAccessDenied(ref.String()))
		return
	}

	if err := s.servables.MarkServableDeleted(r.Context(), servable.UUID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	if s.eventBus != nil {
		s.eventBus.Publish(events.NewServableDeletedEvent(servable.Shorthand()))
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"uuid":   servable.UUID,
		"status": string(core.ServableStatusDeleted),
	})
}

// handleNamespaces returns the caller's publishing namespace.
func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"namespace": id.Namespace})
}
