package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"finvault/internal/domain"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetCredential(ctx context.Context, userID uuid.UUID) (*domain.MFACredential, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MFACredential), args.Error(1)
}

func (m *MockRepository) UpsertCredential(ctx context.Context, cred *domain.MFACredential) error {
	args := m.Called(ctx, cred)
	return args.Error(0)
}

func (m *MockRepository) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool, confirmedAt *time.Time) error {
	args := m.Called(ctx, userID, enabled, confirmedAt)
	return args.Error(0)
}

func (m *MockRepository) DeleteCredential(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRepository) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codes []domain.RecoveryCode) error {
	args := m.Called(ctx, userID, codes)
	return args.Error(0)
}

func (m *MockRepository) ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]domain.RecoveryCode, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RecoveryCode), args.Error(1)
}

func (m *MockRepository) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, index int) (bool, error) {
	args := m.Called(ctx, userID, index)
	return args.Bool(0), args.Error(1)
}

// --- Tests ---

func TestEnrollGeneratesSecretAndCodes(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("GetCredential", ctx, userID).Return(nil, nil)
	repo.On("UpsertCredential", ctx, mock.MatchedBy(func(c *domain.MFACredential) bool {
		return c.UserID == userID && c.Secret != "" && !c.Enabled
	})).Return(nil)

	var stored []domain.RecoveryCode
	repo.On("ReplaceRecoveryCodes", ctx, userID, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(2).([]domain.RecoveryCode)
	}).Return(nil)

	enrollment, err := svc.Enroll(ctx, userID, "user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.EnrollmentURI, "otpauth://totp/")
	assert.Contains(t, enrollment.EnrollmentURI, "FinVault")
	require.Len(t, enrollment.RecoveryCodes, 10)
	require.Len(t, stored, 10)

	// Stored rows hold bcrypt hashes, never plaintext.
	for i, code := range enrollment.RecoveryCodes {
		assert.Regexp(t, `^[2-9A-HJ-KM-NP-Z]{5}-[2-9A-HJ-KM-NP-Z]{5}$`, code)
		assert.Equal(t, i, stored[i].CodeIndex)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored[i].CodeHash), []byte(normalizeRecoveryCode(code))))
	}
}

func TestEnrollRejectedWhenAlreadyEnabled(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Enabled: true}, nil)

	_, err := svc.Enroll(ctx, userID, "user@example.com")
	assert.ErrorIs(t, err, fverrors.ErrMFAAlreadyEnabled)
}

func TestConfirmEnablesCredential(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "FinVault", AccountName: "user@example.com"})
	require.NoError(t, err)

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: key.Secret()}, nil)
	repo.On("SetEnabled", ctx, userID, true, mock.Anything).Return(nil)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, userID, code))
	repo.AssertExpectations(t)
}

func TestConfirmRejectsBadCode(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "FinVault", AccountName: "user@example.com"})
	require.NoError(t, err)

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: key.Secret()}, nil)

	err = svc.Confirm(ctx, userID, "000000")
	assert.ErrorIs(t, err, fverrors.ErrInvalidMFACode)
	repo.AssertNotCalled(t, "SetEnabled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmWithoutEnrollment(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("GetCredential", ctx, userID).Return(nil, nil)

	err := svc.Confirm(ctx, userID, "123456")
	assert.ErrorIs(t, err, fverrors.ErrMFANotConfigured)
}

func TestVerifyLoginTOTP(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "FinVault", AccountName: "user@example.com"})
	require.NoError(t, err)

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: key.Secret(), Enabled: true}, nil)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	result, err := svc.VerifyLogin(ctx, userID, code)
	require.NoError(t, err)
	assert.Equal(t, MatchTOTP, result.Method)
}

func TestVerifyLoginRecoveryCode(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "FinVault", AccountName: "user@example.com"})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeRecoveryCode("7KQ4M-XW9RD")), bcrypt.DefaultCost)
	require.NoError(t, err)

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: key.Secret(), Enabled: true}, nil)
	repo.On("ListRecoveryCodes", ctx, userID).Return([]domain.RecoveryCode{
		{UserID: userID, CodeIndex: 0, CodeHash: "$2a$10$invalidhashinvalidhashinvalidhashinvalidhashinvalidha", Used: false},
		{UserID: userID, CodeIndex: 3, CodeHash: string(hash), Used: false},
	}, nil)

	// Dashes and case are insignificant.
	result, err := svc.VerifyLogin(ctx, userID, "7kq4m-xw9rd")
	require.NoError(t, err)
	assert.Equal(t, MatchRecovery, result.Method)
	assert.Equal(t, 3, result.RecoveryIndex)
}

func TestVerifyLoginSkipsUsedRecoveryCodes(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "FinVault", AccountName: "user@example.com"})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(normalizeRecoveryCode("7KQ4M-XW9RD")), bcrypt.DefaultCost)
	require.NoError(t, err)

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: key.Secret(), Enabled: true}, nil)
	repo.On("ListRecoveryCodes", ctx, userID).Return([]domain.RecoveryCode{
		{UserID: userID, CodeIndex: 0, CodeHash: string(hash), Used: true},
	}, nil)

	_, err = svc.VerifyLogin(ctx, userID, "7KQ4M-XW9RD")
	assert.ErrorIs(t, err, fverrors.ErrInvalidMFAToken)
}

func TestVerifyLoginWithoutEnabledCredential(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("GetCredential", ctx, userID).Return(&domain.MFACredential{UserID: userID, Secret: "SECRET"}, nil)

	_, err := svc.VerifyLogin(ctx, userID, "123456")
	assert.ErrorIs(t, err, fverrors.ErrMFANotConfigured)
}

func TestConsumeRecoveryCodeSingleUse(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	// First consumer wins the conditional update; the second sees no row
	// change.
	repo.On("ConsumeRecoveryCode", ctx, userID, 3).Return(true, nil).Once()
	repo.On("ConsumeRecoveryCode", ctx, userID, 3).Return(false, nil).Once()

	require.NoError(t, svc.ConsumeRecoveryCode(ctx, userID, 3))
	assert.ErrorIs(t, svc.ConsumeRecoveryCode(ctx, userID, 3), fverrors.ErrRecoveryCodeUsed)
}

func TestDisableClearsCredential(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, "FinVault", 10, logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("DeleteCredential", ctx, userID).Return(nil)

	require.NoError(t, svc.Disable(ctx, userID))
	repo.AssertExpectations(t)
}
