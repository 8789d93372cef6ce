// Package session owns the device session state machine: Active, then
// Revoked (explicit) or Expired (passive). All session and blacklist
// mutation in the system goes through this package.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"finvault/internal/domain"
	"finvault/internal/token"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// Repository is the durable session store. Row-level operations are assumed
// atomic; there are no cross-row transactions here.
type Repository interface {
	Create(ctx context.Context, session *domain.DeviceSession) error
	FindByID(ctx context.Context, sessionID uuid.UUID) (*domain.DeviceSession, error)
	// FindActiveByRefreshHash matches only active sessions whose expiry is
	// still in the future.
	FindActiveByRefreshHash(ctx context.Context, refreshTokenHash string, now time.Time) (*domain.DeviceSession, error)
	UpdateActivity(ctx context.Context, sessionID uuid.UUID, accessTokenHash, ipAddress string, lastActivityAt time.Time) error
	Deactivate(ctx context.Context, sessionID uuid.UUID) error
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.DeviceSession, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Blacklister is the revocation check and write path, implemented by
// internal/blacklist.
type Blacklister interface {
	AddHashed(ctx context.Context, tokenHash string, tokenType domain.TokenType, userID uuid.UUID, reason domain.RevocationReason, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, tokenValue string) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	SessionID        uuid.UUID `json:"session_id"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresIn int64     `json:"refresh_expires_in,omitempty"`
}

// Config carries session lifetimes.
type Config struct {
	// RefreshTokenTTL is a rolling window measured from the last activity;
	// SessionTTL is the hard cap measured from issuance.
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	QueryTimeout    time.Duration
}

// Manager orchestrates session creation, refresh, and revocation.
type Manager struct {
	repo      Repository
	blacklist Blacklister
	codec     *token.Codec
	cfg       Config
	logger    logger.Logger
}

// NewManager constructs a Manager.
func NewManager(repo Repository, bl Blacklister, codec *token.Codec, cfg Config, log logger.Logger) *Manager {
	return &Manager{
		repo:      repo,
		blacklist: bl,
		codec:     codec,
		cfg:       cfg,
		logger:    log,
	}
}

// Create opens a brand-new session. Every login is a new session, even for
// a device fingerprint that already has one; that keeps "logout this
// device" semantics simple.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, device domain.DeviceInfo, ipAddress string) (*TokenPair, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	sessionID := uuid.New()

	accessToken, _, err := m.codec.SignAccessToken(userID, sessionID)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to sign access token")
	}

	refreshToken, err := token.GenerateRefreshToken()
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to generate refresh token")
	}

	now := time.Now()
	session := &domain.DeviceSession{
		ID:                  sessionID,
		UserID:              userID,
		DeviceID:            device.DeviceID,
		DeviceName:          device.DeviceName,
		DeviceType:          device.DeviceType,
		IPAddress:           ipAddress,
		UserAgent:           device.UserAgent,
		RefreshTokenHash:    token.HashToken(refreshToken),
		AccessTokenHash:     token.HashToken(accessToken),
		IssuedAt:            now,
		LastActivityAt:      now,
		ExpiresAt:           now.Add(m.cfg.SessionTTL),
		IsActive:            true,
	}

	if err := m.repo.Create(ctx, session); err != nil {
		return nil, fverrors.Wrap(err, "failed to create session")
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        sessionID,
		ExpiresIn:        int64(m.codec.AccessTokenTTL().Seconds()),
		RefreshExpiresIn: int64(m.cfg.RefreshTokenTTL.Seconds()),
	}, nil
}

// Refresh mints a new access token for the session matching the presented
// refresh token. The refresh token itself is not rotated; only the access
// token changes, and its 15-minute window bounds exposure.
func (m *Manager) Refresh(ctx context.Context, refreshToken, ipAddress string) (*TokenPair, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	now := time.Now()
	session, err := m.repo.FindActiveByRefreshHash(ctx, token.HashToken(refreshToken), now)
	if err != nil {
		// Session state is unverifiable: fail closed, and let the caller
		// retry with backoff.
		return nil, fverrors.Wrap(fverrors.ErrStoreUnavailable, err.Error())
	}
	if session == nil {
		// Distinguish a revoked token from one that was never issued or
		// has aged out.
		revoked, err := m.blacklist.IsBlacklisted(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fverrors.ErrRevokedToken
		}
		return nil, fverrors.ErrInvalidRefreshToken
	}

	// The refresh window rolls forward on each use, capped by the session's
	// own expiry.
	if now.Sub(session.LastActivityAt) > m.cfg.RefreshTokenTTL {
		return nil, fverrors.ErrInvalidRefreshToken
	}

	revoked, err := m.blacklist.IsBlacklisted(ctx, refreshToken)
	if err != nil {
		// Revocation state is unverifiable: fail closed.
		return nil, err
	}
	if revoked {
		return nil, fverrors.ErrRevokedToken
	}

	accessToken, _, err := m.codec.SignAccessToken(session.UserID, session.ID)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to sign access token")
	}

	if err := m.repo.UpdateActivity(ctx, session.ID, token.HashToken(accessToken), ipAddress, now); err != nil {
		return nil, fverrors.Wrap(err, "failed to update session activity")
	}

	return &TokenPair{
		AccessToken: accessToken,
		SessionID:   session.ID,
		ExpiresIn:   int64(m.codec.AccessTokenTTL().Seconds()),
	}, nil
}

// VerifyAccess checks an access token's signature, expiry, and revocation
// state, in that order.
func (m *Manager) VerifyAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := m.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	revoked, err := m.blacklist.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fverrors.ErrRevokedToken
	}

	return claims, nil
}

// Revoke deactivates one session and blacklists its last-issued access
// token and its refresh token, store first. A session owned by a different
// user reports not found, never existence.
func (m *Manager) Revoke(ctx context.Context, sessionID, userID uuid.UUID, reason domain.RevocationReason) error {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	session, err := m.repo.FindByID(ctx, sessionID)
	if err != nil {
		return fverrors.Wrap(err, "failed to look up session")
	}
	if session == nil || session.UserID != userID {
		return fverrors.ErrSessionNotFound
	}
	if !session.IsActive {
		return nil
	}

	return m.revokeSession(ctx, session, reason)
}

// RevokeAll revokes every active session for the user and returns the
// count. The set is not revoked atomically; a session created mid-sweep is
// not retroactively revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID uuid.UUID, reason domain.RevocationReason) (int, error) {
	listCtx, cancel := m.storeCtx(ctx)
	sessions, err := m.repo.ListActive(listCtx, userID, time.Now())
	cancel()
	if err != nil {
		return 0, fverrors.Wrap(err, "failed to list sessions")
	}

	revoked := 0
	for i := range sessions {
		sessCtx, cancel := m.storeCtx(ctx)
		err := m.revokeSession(sessCtx, &sessions[i], reason)
		cancel()
		if err != nil {
			m.logger.Error("failed to revoke session", map[string]interface{}{
				"session_id": sessions[i].ID.String(),
				"error":      err.Error(),
			})
			continue
		}
		revoked++
	}

	return revoked, nil
}

func (m *Manager) revokeSession(ctx context.Context, session *domain.DeviceSession, reason domain.RevocationReason) error {
	// Only token hashes are persisted, so both go on the blacklist in
	// hashed form. The access hash's remaining validity is at most one
	// access token TTL; the refresh hash stays blacklisted until the
	// session would have expired on its own.
	if session.AccessTokenHash != "" {
		if err := m.blacklist.AddHashed(ctx, session.AccessTokenHash, domain.TokenTypeAccess, session.UserID, reason, time.Now().Add(m.codec.AccessTokenTTL())); err != nil {
			return err
		}
	}

	if err := m.blacklist.AddHashed(ctx, session.RefreshTokenHash, domain.TokenTypeRefresh, session.UserID, reason, session.ExpiresAt); err != nil {
		return err
	}

	if err := m.repo.Deactivate(ctx, session.ID); err != nil {
		return fverrors.Wrap(err, "failed to deactivate session")
	}
	return nil
}

// ListActiveSessions returns device metadata for the user's live sessions.
// Token material never leaves this package.
func (m *Manager) ListActiveSessions(ctx context.Context, userID uuid.UUID) ([]domain.SessionSummary, error) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	sessions, err := m.repo.ListActive(ctx, userID, time.Now())
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to list sessions")
	}

	summaries := make([]domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, domain.SessionSummary{
			ID:             s.ID,
			DeviceID:       s.DeviceID,
			DeviceName:     s.DeviceName,
			DeviceType:     s.DeviceType,
			IPAddress:      s.IPAddress,
			IssuedAt:       s.IssuedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	return summaries, nil
}

// SweepExpired prunes spent blacklist rows and deactivates sessions past
// their expiry. Idempotent; safe to run concurrently with everything else.
func (m *Manager) SweepExpired(ctx context.Context) {
	ctx, cancel := m.storeCtx(ctx)
	defer cancel()

	pruned, err := m.blacklist.SweepExpired(ctx)
	if err != nil {
		m.logger.Error("blacklist sweep failed", map[string]interface{}{"error": err.Error()})
	}

	expired, err := m.repo.DeactivateExpired(ctx, time.Now())
	if err != nil {
		m.logger.Error("session sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}

	if pruned > 0 || expired > 0 {
		m.logger.Info("expiry sweep completed", map[string]interface{}{
			"blacklist_pruned": pruned,
			"sessions_expired": expired,
		})
	}
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.QueryTimeout)
}
