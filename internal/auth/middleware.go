// Package auth guards the admin endpoints with a bearer key.
package auth

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type contextKey string

// ContextKeyAdmin marks a request that passed admin authentication.
const ContextKeyAdmin contextKey = "admin"

// ErrorWriter renders an authentication failure. The api package supplies one that
// writes its structured error body.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, message string)

// Authenticator checks admin bearer keys against ADMIN_API_KEY (plain text, compared in
// constant time) or ADMIN_API_KEY_HASH (bcrypt). Either may be empty.
type Authenticator struct {
	plainKey string
	keyHash  string
	logger   zerolog.Logger
}

// NewAuthenticator creates an Authenticator. With both keys empty every admin request is
// refused.
func NewAuthenticator(plainKey, keyHash string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		plainKey: plainKey,
		keyHash:  keyHash,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// Result contains the result of an authentication attempt
type Result struct {
	Authenticated bool
	Status        int
	Error         string
}

// Authenticate checks the Authorization header value.
func (a *Authenticator) Authenticate(authHeader string) Result {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return Result{Status: http.StatusUnauthorized, Error: "missing bearer token"}
	}
	if a.plainKey != "" && VerifyAPIKeyConstantTime(token, a.plainKey) {
		return Result{Authenticated: true}
	}
	if a.keyHash != "" && VerifyAPIKey(token, a.keyHash) {
		return Result{Authenticated: true}
	}
	return Result{Status: http.StatusForbidden, Error: "invalid token"}
}

// RequireAdmin rejects requests without a valid admin key.
func (a *Authenticator) RequireAdmin(onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r.Header.Get("Authorization"))
			if !result.Authenticated {
				a.logger.Warn().
					Str("ip", GetIPAddress(r)).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", middleware.GetReqID(r.Context())).
					Int("status", result.Status).
					Msg("admin authentication failed")
				onError(w, r, result.Status, result.Error)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyAdmin, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsAdmin reports whether ctx belongs to an authenticated admin request.
func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(ContextKeyAdmin).(bool)
	return ok
}

// GetIPAddress extracts the IP address from the request
func GetIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
