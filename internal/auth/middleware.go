package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or shadow the
// values stored under it.
type contextKey string

const rollKey contextKey = "roll"

// CookieName is the HttpOnly cookie that carries the session token.
const CookieName = "token"

var errNoToken = errors.New("auth: no token")

// RequireAuth enforces authentication on protected routes.
//
// The token is read from the "token" HttpOnly cookie (browser clients) or
// from an "Authorization: Bearer <jwt>" header (the CLI and mobile clients).
// On success the roll number is stored in the request context; otherwise
// the chain stops with 401.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roll, err := extractRoll(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithRoll(r.Context(), roll)))
		})
	}
}

// OptionalAuth attaches the roll number when a valid token is present but
// never blocks the request. The navigation endpoint uses it so anonymous
// callers get the auth-screen decision instead of a 401.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if roll, err := extractRoll(r, tokens); err == nil {
				r = r.WithContext(WithRoll(r.Context(), roll))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRoll returns a copy of ctx carrying the authenticated roll number.
func WithRoll(ctx context.Context, roll string) context.Context {
	return context.WithValue(ctx, rollKey, roll)
}

// RollFromContext returns the authenticated roll number, or ("", false)
// for anonymous requests.
func RollFromContext(ctx context.Context) (string, bool) {
	roll, ok := ctx.Value(rollKey).(string)
	return roll, ok && roll != ""
}

func extractRoll(r *http.Request, tokens *TokenService) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && tok != "" {
			return tokens.Validate(tok)
		}
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", errNoToken
	}
	return tokens.Validate(cookie.Value)
}
