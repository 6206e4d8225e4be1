package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"duetrack.org/internal/auth"
	"duetrack.org/internal/scope"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth authenticates the bearer token and resolves the caller's scope.
// The user record is re-read on every request: firm access can change
// between requests and a stale scope would leak or deny incorrectly.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.users == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := a.users.Find(r.Context(), claims.Subject)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "unknown user")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		if user.Status != auth.UserStatusActive {
			writeError(w, r, http.StatusUnauthorized, "user disabled")
			return
		}

		sc, err := scope.Resolve(user)
		if err != nil {
			writeError(w, r, http.StatusForbidden, "scope resolution failed")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), *user)
		ctx = scope.ContextWithScope(ctx, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope fetches the request scope or rejects with 401.
func requireScope(w http.ResponseWriter, r *http.Request) (scope.Scope, bool) {
	sc, ok := scope.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return scope.Scope{}, false
	}
	return sc, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
