// Package mfa implements TOTP enrollment and verification plus single-use
// recovery codes.
package mfa

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"finvault/internal/domain"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// recoveryCodeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const recoveryCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// MatchMethod says which factor satisfied a login verification.
type MatchMethod string

const (
	MatchTOTP     MatchMethod = "totp"
	MatchRecovery MatchMethod = "recovery"
)

// MatchResult reports how a code was matched. RecoveryIndex is only
// meaningful for MatchRecovery and must be handed to ConsumeRecoveryCode
// exactly once.
type MatchResult struct {
	Method        MatchMethod
	RecoveryIndex int
}

// Enrollment is returned once, at enroll time. The plaintext recovery codes
// are never recoverable afterwards.
type Enrollment struct {
	Secret        string   `json:"secret"`
	EnrollmentURI string   `json:"enrollment_uri"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Repository persists MFA material. ConsumeRecoveryCode must be a
// conditional update on the used flag so concurrent consumers cannot both
// succeed.
type Repository interface {
	GetCredential(ctx context.Context, userID uuid.UUID) (*domain.MFACredential, error)
	UpsertCredential(ctx context.Context, cred *domain.MFACredential) error
	SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool, confirmedAt *time.Time) error
	DeleteCredential(ctx context.Context, userID uuid.UUID) error
	ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codes []domain.RecoveryCode) error
	ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]domain.RecoveryCode, error)
	ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, index int) (bool, error)
}

// Service validates time-based codes and recovery codes.
type Service struct {
	repo              Repository
	issuer            string
	recoveryCodeCount int
	logger            logger.Logger
}

// NewService constructs an MFA service.
func NewService(repo Repository, issuer string, recoveryCodeCount int, log logger.Logger) *Service {
	return &Service{
		repo:              repo,
		issuer:            issuer,
		recoveryCodeCount: recoveryCodeCount,
		logger:            log,
	}
}

// Enroll generates a fresh shared secret and recovery codes. The credential
// stays disabled until Confirm proves the user has captured the secret.
func (s *Service) Enroll(ctx context.Context, userID uuid.UUID, accountName string) (*Enrollment, error) {
	existing, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to load mfa credential")
	}
	if existing != nil && existing.Enabled {
		return nil, fverrors.ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to generate totp secret")
	}

	plaintext, hashed, err := s.generateRecoveryCodes(userID)
	if err != nil {
		return nil, err
	}

	cred := &domain.MFACredential{
		UserID:    userID,
		Secret:    key.Secret(),
		Enabled:   false,
		CreatedAt: time.Now(),
	}
	if err := s.repo.UpsertCredential(ctx, cred); err != nil {
		return nil, fverrors.Wrap(err, "failed to store mfa credential")
	}
	if err := s.repo.ReplaceRecoveryCodes(ctx, userID, hashed); err != nil {
		return nil, fverrors.Wrap(err, "failed to store recovery codes")
	}

	return &Enrollment{
		Secret:        key.Secret(),
		EnrollmentURI: key.URL(),
		RecoveryCodes: plaintext,
	}, nil
}

// Confirm verifies a code against the unconfirmed secret and enables MFA.
func (s *Service) Confirm(ctx context.Context, userID uuid.UUID, code string) error {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return fverrors.Wrap(err, "failed to load mfa credential")
	}
	if cred == nil || cred.Secret == "" {
		return fverrors.ErrMFANotConfigured
	}

	if !s.validateTOTP(code, cred.Secret) {
		return fverrors.ErrInvalidMFACode
	}

	now := time.Now()
	if err := s.repo.SetEnabled(ctx, userID, true, &now); err != nil {
		return fverrors.Wrap(err, "failed to enable mfa")
	}
	return nil
}

// Enabled reports whether the user has a confirmed credential.
func (s *Service) Enabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return false, fverrors.Wrap(err, "failed to load mfa credential")
	}
	return cred != nil && cred.Enabled, nil
}

// VerifyLogin tries the time-based code first, then each unused recovery
// code. Callers must consume a matched recovery code themselves so that the
// consumption is tied to the login actually succeeding.
func (s *Service) VerifyLogin(ctx context.Context, userID uuid.UUID, code string) (*MatchResult, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to load mfa credential")
	}
	if cred == nil || !cred.Enabled {
		return nil, fverrors.ErrMFANotConfigured
	}

	if s.validateTOTP(code, cred.Secret) {
		return &MatchResult{Method: MatchTOTP}, nil
	}

	codes, err := s.repo.ListRecoveryCodes(ctx, userID)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to load recovery codes")
	}

	normalized := normalizeRecoveryCode(code)
	for _, rc := range codes {
		if rc.Used {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rc.CodeHash), []byte(normalized)) == nil {
			return &MatchResult{Method: MatchRecovery, RecoveryIndex: rc.CodeIndex}, nil
		}
	}

	return nil, fverrors.ErrInvalidMFAToken
}

// ConsumeRecoveryCode flips the used flag. The repository update is
// conditional on used = false, so of two concurrent consumers only one
// sees a row change; the other gets ErrRecoveryCodeUsed.
func (s *Service) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, index int) error {
	consumed, err := s.repo.ConsumeRecoveryCode(ctx, userID, index)
	if err != nil {
		return fverrors.Wrap(err, "failed to consume recovery code")
	}
	if !consumed {
		return fverrors.ErrRecoveryCodeUsed
	}
	return nil
}

// Disable clears the secret, the enabled flag, and all recovery codes.
func (s *Service) Disable(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.DeleteCredential(ctx, userID); err != nil {
		return fverrors.Wrap(err, "failed to disable mfa")
	}
	return nil
}

// validateTOTP accepts one step of clock skew on either side of the
// current 30-second window.
func (s *Service) validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *Service) generateRecoveryCodes(userID uuid.UUID) ([]string, []domain.RecoveryCode, error) {
	plaintext := make([]string, 0, s.recoveryCodeCount)
	hashed := make([]domain.RecoveryCode, 0, s.recoveryCodeCount)

	for i := 0; i < s.recoveryCodeCount; i++ {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, nil, fverrors.Wrap(err, "failed to generate recovery code")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(normalizeRecoveryCode(code)), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, fverrors.Wrap(err, "failed to hash recovery code")
		}

		plaintext = append(plaintext, code)
		hashed = append(hashed, domain.RecoveryCode{
			UserID:    userID,
			CodeIndex: i,
			CodeHash:  string(hash),
		})
	}

	return plaintext, hashed, nil
}

// generateRecoveryCode returns a code like "7KQ4M-XW9RD".
func generateRecoveryCode() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	chars := make([]byte, 10)
	for i, v := range b {
		chars[i] = recoveryCodeAlphabet[int(v)%len(recoveryCodeAlphabet)]
	}

	return fmt.Sprintf("%s-%s", chars[:5], chars[5:]), nil
}

func normalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
