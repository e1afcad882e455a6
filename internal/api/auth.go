package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/haveloc/servehub/internal/core"
)

type contextKey string

const identityKey contextKey = "identity"

// authMiddleware introspects the bearer token, upserts the user row and
// injects the resulting identity into the request context. Every
// /api/v1 route runs behind it.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondDomainError(w, core.ErrAuthRequired())
			return
		}

		username, err := s.introspector.Introspect(r.Context(), token)
		if err != nil {
			s.logger.Info("token introspection failed", "error", err)
			s.respondDomainError(w, core.ErrAuthRequired().WithCause(err))
			return
		}

		user, err := s.users.UpsertUser(r.Context(), username)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}

		id := core.Identity{
			UserID:    user.ID,
			Username:  user.Username,
			Namespace: user.Namespace,
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func withIdentity(ctx context.Context, id core.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// identityFrom returns the authenticated identity stored by the auth
// middleware. The zero identity means the middleware never ran.
func identityFrom(ctx context.Context) core.Identity {
	id, _ := ctx.Value(identityKey).(core.Identity)
	return id
}
