package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"finvault/internal/auth"
	"finvault/internal/mfa"
	"finvault/internal/middleware"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
	"finvault/pkg/validator"
)

// MFAHandler handles TOTP enrollment endpoints.
type MFAHandler struct {
	service   *mfa.Service
	authSvc   *auth.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewMFAHandler creates a new MFAHandler.
func NewMFAHandler(service *mfa.Service, authSvc *auth.Service, val *validator.Validator, log logger.Logger) *MFAHandler {
	return &MFAHandler{
		service:   service,
		authSvc:   authSvc,
		validator: val,
		logger:    log,
	}
}

// EnrollRequest names the account the enrollment URI is labelled with.
type EnrollRequest struct {
	AccountName string `json:"account_name" validate:"required,email"`
}

// Enroll generates a fresh secret and recovery codes. This is the only
// time the plaintext recovery codes are ever returned.
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	enrollment, err := h.service.Enroll(r.Context(), userID, req.AccountName)
	if err != nil {
		if errors.Is(err, fverrors.ErrMFAAlreadyEnabled) {
			h.respondError(w, http.StatusConflict, "MFA already enabled")
			return
		}
		h.logger.Error("MFA enrollment failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Enrollment failed")
		return
	}

	h.respondJSON(w, http.StatusOK, enrollment)
}

// ConfirmRequest carries the TOTP code proving the secret was captured.
type ConfirmRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Confirm flips the enrollment to enabled.
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authSvc.ConfirmMFA(r.Context(), userID, req.Code, clientIP(r)); err != nil {
		switch {
		case errors.Is(err, fverrors.ErrInvalidMFACode):
			h.respondError(w, http.StatusUnauthorized, "Invalid code")
		case errors.Is(err, fverrors.ErrMFANotConfigured):
			h.respondError(w, http.StatusConflict, "No pending enrollment")
		default:
			h.logger.Error("MFA confirmation failed", map[string]interface{}{"error": err.Error()})
			h.respondError(w, http.StatusInternalServerError, "Confirmation failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// Disable clears the caller's MFA material.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.authSvc.DisableMFA(r.Context(), userID, clientIP(r)); err != nil {
		h.logger.Error("MFA disable failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Disable failed")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (h *MFAHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
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

func (h *MFAHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *MFAHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
