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

type BlacklistRepository struct {
	db *sqlx.DB
}

func NewBlacklistRepository(db *sqlx.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Add inserts an entry. Re-blacklisting the same token is a no-op, which
// keeps revocation idempotent.
func (r *BlacklistRepository) Add(ctx context.Context, entry *domain.BlacklistEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO token_blacklist (id, token_hash, token_type, user_id, reason, expires_at, created_at)
		VALUES (:id, :token_hash, :token_type, :user_id, :reason, :expires_at, :created_at)
		ON CONFLICT (token_hash) DO NOTHING`

	_, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return errors.Wrap(err, "failed to add blacklist entry")
	}
	return nil
}

func (r *BlacklistRepository) Find(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error) {
	var entry domain.BlacklistEntry
	query := `
		SELECT id, token_hash, token_type, user_id, reason, expires_at, created_at
		FROM token_blacklist
		WHERE token_hash = $1`

	err := r.db.GetContext(ctx, &entry, query, tokenHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to check blacklist")
	}
	return &entry, nil
}

func (r *BlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM token_blacklist WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired blacklist entries")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
