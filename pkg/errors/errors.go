// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Authentication and session errors. Handlers map these to HTTP statuses;
// services never wrap them in a way that breaks errors.Is.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrMFARequired         = errors.New("mfa required")
	ErrInvalidMFACode      = errors.New("invalid mfa code")
	ErrInvalidMFAToken     = errors.New("invalid mfa token")
	ErrMFANotConfigured    = errors.New("mfa not configured")
	ErrMFAAlreadyEnabled   = errors.New("mfa already enabled")
	ErrRecoveryCodeUsed    = errors.New("recovery code already used")
	ErrExpiredToken        = errors.New("token expired")
	ErrMalformedToken      = errors.New("malformed token")
	ErrRevokedToken        = errors.New("token revoked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionNotFound     = errors.New("session not found")
	ErrUserNotFound        = errors.New("user not found")
)

// ErrStoreUnavailable is the one condition callers should retry with
// backoff: the persistent store could not be reached, so revocation state
// is unverifiable and the request fails closed.
var ErrStoreUnavailable = errors.New("store unavailable")

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
