package rbac

import (
	"net/http"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Guard *Guard
}

// Require rejects the request unless the session's user holds action on
// source.
func (m Middleware) Require(source Source, action Action) func(http.Handler) http.Handler {
	req := Requirement{Source: source, Action: action}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromSession(shared.SessionFromContext(r.Context()))
			if err := m.Guard.Authorize(r.Context(), id, req); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated admits any active signed-in user.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromSession(shared.SessionFromContext(r.Context()))
		if _, err := m.Guard.Authenticated(r.Context(), id); err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
