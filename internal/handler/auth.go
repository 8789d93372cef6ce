// Package handler provides the HTTP delivery layer for the finvault auth
// service.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"finvault/internal/auth"
	"finvault/internal/domain"
	"finvault/internal/middleware"
	"finvault/internal/session"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
	"finvault/pkg/validator"
)

// AuthHandler handles login, refresh, and session endpoints.
type AuthHandler struct {
	service   *auth.Service
	sessions  *session.Manager
	validator *validator.Validator
	logger    logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service *auth.Service, sessions *session.Manager, val *validator.Validator, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		sessions:  sessions,
		validator: val,
		logger:    log,
	}
}

// Login authenticates a user and returns tokens. Valid credentials with MFA
// enabled and no code return 403 mfa_required so clients can prompt.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.IPAddress = clientIP(r)
	if req.Device.UserAgent == "" {
		req.Device.UserAgent = r.UserAgent()
	}

	pair, err := h.service.Login(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, fverrors.ErrMFARequired):
			h.respondJSON(w, http.StatusForbidden, map[string]string{"error": "mfa_required"})
		case errors.Is(err, fverrors.ErrInvalidCredentials),
			errors.Is(err, fverrors.ErrInvalidMFAToken),
			errors.Is(err, fverrors.ErrMFANotConfigured):
			// Uniform failure: never reveal which factor failed.
			h.respondError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, fverrors.ErrStoreUnavailable):
			h.respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.Error("Login failed", map[string]interface{}{"error": err.Error()})
			h.respondError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, pair)
}

// RefreshRequest carries the opaque refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// Refresh mints a new access token for the session matching the refresh
// token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, fverrors.ErrRevokedToken):
			h.respondError(w, http.StatusUnauthorized, "Token revoked")
		case errors.Is(err, fverrors.ErrInvalidRefreshToken):
			h.respondError(w, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, fverrors.ErrStoreUnavailable):
			h.respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.Error("Refresh failed", map[string]interface{}{"error": err.Error()})
			h.respondError(w, http.StatusInternalServerError, "Refresh failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, pair)
}

// Logout revokes the session bound to the presented access token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	sessionID, ok2 := middleware.SessionIDFromContext(r.Context())
	if !ok || !ok2 {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), userID, sessionID, clientIP(r)); err != nil {
		if errors.Is(err, fverrors.ErrSessionNotFound) {
			h.respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("Logout failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// LogoutAll revokes every active session for the caller.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	count, err := h.service.LogoutAll(r.Context(), userID, domain.ReasonManualRevoke, clientIP(r))
	if err != nil {
		h.logger.Error("Logout all failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"revoked": count})
}

// ListSessions returns the caller's active sessions.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	sessions, err := h.sessions.ListActiveSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("Session listing failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *AuthHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *AuthHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
