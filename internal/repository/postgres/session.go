package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"finvault/internal/domain"
	"finvault/pkg/errors"
)

type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.DeviceSession) error {
	query := `
		INSERT INTO device_sessions (
			id, user_id, device_id, device_name, device_type, ip_address, user_agent,
			refresh_token_hash, access_token_hash, issued_at, last_activity_at, expires_at, is_active
		) VALUES (
			:id, :user_id, :device_id, :device_name, :device_type, :ip_address, :user_agent,
			:refresh_token_hash, :access_token_hash, :issued_at, :last_activity_at, :expires_at, :is_active
		)`

	_, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, sessionID uuid.UUID) (*domain.DeviceSession, error) {
	var session domain.DeviceSession
	query := `
		SELECT id, user_id, device_id, device_name, device_type, ip_address, user_agent,
			refresh_token_hash, access_token_hash, issued_at, last_activity_at, expires_at, is_active
		FROM device_sessions
		WHERE id = $1`

	err := r.db.GetContext(ctx, &session, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session")
	}
	return &session, nil
}

func (r *SessionRepository) FindActiveByRefreshHash(ctx context.Context, refreshTokenHash string, now time.Time) (*domain.DeviceSession, error) {
	var session domain.DeviceSession
	query := `
		SELECT id, user_id, device_id, device_name, device_type, ip_address, user_agent,
			refresh_token_hash, access_token_hash, issued_at, last_activity_at, expires_at, is_active
		FROM device_sessions
		WHERE refresh_token_hash = $1 AND is_active = true AND expires_at > $2`

	err := r.db.GetContext(ctx, &session, query, refreshTokenHash, now)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find session by refresh token")
	}
	return &session, nil
}

func (r *SessionRepository) UpdateActivity(ctx context.Context, sessionID uuid.UUID, accessTokenHash, ipAddress string, lastActivityAt time.Time) error {
	query := `
		UPDATE device_sessions
		SET access_token_hash = $1, ip_address = $2, last_activity_at = $3
		WHERE id = $4 AND is_active = true`

	_, err := r.db.ExecContext(ctx, query, accessTokenHash, ipAddress, lastActivityAt, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to update session activity")
	}
	return nil
}

func (r *SessionRepository) Deactivate(ctx context.Context, sessionID uuid.UUID) error {
	query := `UPDATE device_sessions SET is_active = false WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to deactivate session")
	}
	return nil
}

func (r *SessionRepository) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.DeviceSession, error) {
	var sessions []domain.DeviceSession
	query := `
		SELECT id, user_id, device_id, device_name, device_type, ip_address, user_agent,
			refresh_token_hash, access_token_hash, issued_at, last_activity_at, expires_at, is_active
		FROM device_sessions
		WHERE user_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY last_activity_at DESC`

	err := r.db.SelectContext(ctx, &sessions, query, userID, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	return sessions, nil
}

// DeactivateExpired flips is_active on sessions past their expiry. Rows are
// kept for audit; a separate retention job may prune them later.
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE device_sessions SET is_active = false WHERE is_active = true AND expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to deactivate expired sessions")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
