package handlers

import (
	"net/http"

	"github.com/kiprono234/chat-verse/internal/auth"
)

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's identity in the request context. A nil authenticator lets every
// request through.
func RequireAuth(a auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Context(), auth.BearerToken(r))
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
