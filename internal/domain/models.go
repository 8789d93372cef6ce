// Package domain holds the entities shared across the session-security core.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeviceType classifies the client that opened a session.
type DeviceType string

const (
	DeviceTypeWeb    DeviceType = "web"
	DeviceTypeMobile DeviceType = "mobile"
	DeviceTypeTablet DeviceType = "tablet"
)

// DeviceSession binds a user, a device, and a refresh token together.
// Exactly one refresh token hash is valid per active session; rotation
// replaces it, never appends. Rows are kept after deactivation for audit
// until the expiry sweep prunes them.
type DeviceSession struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	UserID              uuid.UUID  `json:"user_id" db:"user_id"`
	DeviceID            string     `json:"device_id" db:"device_id"`
	DeviceName          string     `json:"device_name" db:"device_name"`
	DeviceType          DeviceType `json:"device_type" db:"device_type"`
	IPAddress           string     `json:"ip_address" db:"ip_address"`
	UserAgent           string     `json:"user_agent" db:"user_agent"`
	RefreshTokenHash    string     `json:"-" db:"refresh_token_hash"`
	AccessTokenHash     string     `json:"-" db:"access_token_hash"`
	IssuedAt            time.Time  `json:"issued_at" db:"issued_at"`
	LastActivityAt      time.Time  `json:"last_activity_at" db:"last_activity_at"`
	ExpiresAt           time.Time  `json:"expires_at" db:"expires_at"`
	IsActive            bool       `json:"is_active" db:"is_active"`
}

// SessionSummary is what listing endpoints return: device metadata only,
// never token material.
type SessionSummary struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DeviceID       string     `json:"device_id" db:"device_id"`
	DeviceName     string     `json:"device_name" db:"device_name"`
	DeviceType     DeviceType `json:"device_type" db:"device_type"`
	IPAddress      string     `json:"ip_address" db:"ip_address"`
	IssuedAt       time.Time  `json:"issued_at" db:"issued_at"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
}

// DeviceInfo carries the client metadata supplied at login.
type DeviceInfo struct {
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name"`
	DeviceType DeviceType `json:"device_type"`
	UserAgent  string     `json:"user_agent"`
}

// TokenType distinguishes blacklisted token kinds.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RevocationReason records why a token was blacklisted.
type RevocationReason string

const (
	ReasonLogout         RevocationReason = "logout"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonSecurity       RevocationReason = "security"
	ReasonManualRevoke   RevocationReason = "manual_revoke"
)

// BlacklistEntry marks a token as rejected even while cryptographically
// valid. ExpiresAt mirrors the token's own expiry so the row can be pruned
// once the token would have expired anyway.
type BlacklistEntry struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	TokenHash string           `json:"-" db:"token_hash"`
	TokenType TokenType        `json:"token_type" db:"token_type"`
	UserID    uuid.UUID        `json:"user_id" db:"user_id"`
	Reason    RevocationReason `json:"reason" db:"reason"`
	ExpiresAt time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// MFACredential is the single TOTP enrollment a user may hold. Secret must
// exist before Enabled can be true.
type MFACredential struct {
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	Secret      string     `json:"-" db:"secret"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// RecoveryCode is a hashed single-use MFA fallback. Used is a one-way flag.
type RecoveryCode struct {
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	CodeIndex int        `json:"code_index" db:"code_index"`
	CodeHash  string     `json:"-" db:"code_hash"`
	Used      bool       `json:"used" db:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// EventType enumerates authentication-relevant actions.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailed        EventType = "login_failed"
	EventLogout             EventType = "logout"
	EventMFAEnabled         EventType = "mfa_enabled"
	EventMFADisabled        EventType = "mfa_disabled"
	EventSessionRevoked     EventType = "session_revoked"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// EventStatus is the severity attached to a security event.
type EventStatus string

const (
	StatusInfo     EventStatus = "info"
	StatusWarning  EventStatus = "warning"
	StatusCritical EventStatus = "critical"
)

// SecurityEvent is an append-only audit record. Only Notified ever changes
// after insert.
type SecurityEvent struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	EventType  EventType   `json:"event_type" db:"event_type"`
	IPAddress  string      `json:"ip_address" db:"ip_address"`
	Country    string      `json:"country" db:"country"`
	City       string      `json:"city" db:"city"`
	DeviceInfo string      `json:"device_info" db:"device_info"`
	Detail     string      `json:"detail" db:"detail"`
	Status     EventStatus `json:"status" db:"status"`
	Notified   bool        `json:"notified" db:"notified"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// Location is the coarse geolocation a collaborator resolves from an IP.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// User is the slice of the user entity this core needs for credential
// verification. Profile and financial data live elsewhere.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
