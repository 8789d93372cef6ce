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

type MFARepository struct {
	db *sqlx.DB
}

func NewMFARepository(db *sqlx.DB) *MFARepository {
	return &MFARepository{db: db}
}

func (r *MFARepository) GetCredential(ctx context.Context, userID uuid.UUID) (*domain.MFACredential, error) {
	var cred domain.MFACredential
	query := `
		SELECT user_id, secret, enabled, confirmed_at, created_at
		FROM mfa_credentials
		WHERE user_id = $1`

	err := r.db.GetContext(ctx, &cred, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mfa credential")
	}
	return &cred, nil
}

// UpsertCredential replaces any pending enrollment for the user. Enabled is
// reset; a re-enrollment always requires a fresh confirmation.
func (r *MFARepository) UpsertCredential(ctx context.Context, cred *domain.MFACredential) error {
	query := `
		INSERT INTO mfa_credentials (user_id, secret, enabled, confirmed_at, created_at)
		VALUES (:user_id, :secret, :enabled, :confirmed_at, :created_at)
		ON CONFLICT (user_id) DO UPDATE SET
			secret = EXCLUDED.secret,
			enabled = EXCLUDED.enabled,
			confirmed_at = EXCLUDED.confirmed_at,
			created_at = EXCLUDED.created_at`

	_, err := r.db.NamedExecContext(ctx, query, cred)
	if err != nil {
		return errors.Wrap(err, "failed to upsert mfa credential")
	}
	return nil
}

func (r *MFARepository) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool, confirmedAt *time.Time) error {
	query := `UPDATE mfa_credentials SET enabled = $1, confirmed_at = $2 WHERE user_id = $3`
	_, err := r.db.ExecContext(ctx, query, enabled, confirmedAt, userID)
	if err != nil {
		return errors.Wrap(err, "failed to update mfa credential")
	}
	return nil
}

func (r *MFARepository) DeleteCredential(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "failed to delete recovery codes")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_credentials WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "failed to delete mfa credential")
	}
	return nil
}

func (r *MFARepository) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codes []domain.RecoveryCode) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "failed to clear recovery codes")
	}

	query := `
		INSERT INTO mfa_recovery_codes (user_id, code_index, code_hash, used)
		VALUES (:user_id, :code_index, :code_hash, false)`

	for i := range codes {
		if _, err := r.db.NamedExecContext(ctx, query, &codes[i]); err != nil {
			return errors.Wrap(err, "failed to store recovery code")
		}
	}
	return nil
}

func (r *MFARepository) ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]domain.RecoveryCode, error) {
	var codes []domain.RecoveryCode
	query := `
		SELECT user_id, code_index, code_hash, used, used_at
		FROM mfa_recovery_codes
		WHERE user_id = $1
		ORDER BY code_index`

	err := r.db.SelectContext(ctx, &codes, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recovery codes")
	}
	return codes, nil
}

// ConsumeRecoveryCode is a conditional update on the used flag: of two
// concurrent consumers, only one sees a row change.
func (r *MFARepository) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, index int) (bool, error) {
	query := `
		UPDATE mfa_recovery_codes
		SET used = true, used_at = NOW()
		WHERE user_id = $1 AND code_index = $2 AND used = false`

	result, err := r.db.ExecContext(ctx, query, userID, index)
	if err != nil {
		return false, errors.Wrap(err, "failed to consume recovery code")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return affected == 1, nil
}
