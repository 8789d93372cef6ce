// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"finvault/internal/session"
	fverrors "finvault/pkg/errors"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxUserIDKey    contextKey = "user_id"
	ctxSessionIDKey contextKey = "session_id"
)

// AuthMiddleware validates bearer access tokens, including revocation
// state, and injects the caller's identity into the request context.
type AuthMiddleware struct {
	sessions *session.Manager
}

// NewAuthMiddleware constructs an AuthMiddleware over the session manager.
func NewAuthMiddleware(sessions *session.Manager) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// Authenticate enforces bearer auth. Expired, malformed, and revoked tokens
// are all 401s; an unreachable store is the one 503, because revocation
// state cannot be verified and the check fails closed.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.sessions.VerifyAccess(r.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, fverrors.ErrExpiredToken):
				jsonError(w, http.StatusUnauthorized, "Token expired")
			case errors.Is(err, fverrors.ErrRevokedToken):
				jsonError(w, http.StatusUnauthorized, "Token revoked")
			case errors.Is(err, fverrors.ErrStoreUnavailable):
				jsonError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			default:
				jsonError(w, http.StatusUnauthorized, "Invalid token")
			}
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}
		sessionID, err := uuid.Parse(claims.SessionID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserIDKey, userID)
		ctx = context.WithValue(ctx, ctxSessionIDKey, sessionID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user's UUID from context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ctxUserIDKey)
	id, ok := v.(uuid.UUID)
	return id, ok
}

// SessionIDFromContext returns the session UUID the access token is bound to.
func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(ctxSessionIDKey)
	id, ok := v.(uuid.UUID)
	return id, ok
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			// Restrict to configured origins
			origins := strings.Split(allowed, ",")
			ok := false
			for _, o := range origins {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					ok = true
					break
				}
			}
			if ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		} else {
			// Development default: reflect origin if present, fallback to *
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps request body size.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
