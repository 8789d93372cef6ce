package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"finvault/internal/domain"
	fverrors "finvault/pkg/errors"
)

// UserRepository is the slice of user storage the verifier needs.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

// BcryptVerifier is the stock Verifier: bcrypt comparison against the
// stored hash. Inactive users never match.
type BcryptVerifier struct {
	users UserRepository
}

// NewBcryptVerifier constructs a BcryptVerifier.
func NewBcryptVerifier(users UserRepository) *BcryptVerifier {
	return &BcryptVerifier{users: users}
}

// Verify resolves the identifier and compares the secret. An unknown
// identifier and a wrong password both come back as match = false; the
// caller surfaces them identically.
func (v *BcryptVerifier) Verify(ctx context.Context, identifier, secret string) (*domain.User, bool, error) {
	user, err := v.users.FindByEmail(ctx, identifier)
	if err != nil {
		if err == fverrors.ErrUserNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	if !user.IsActive {
		return user, false, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(secret)) != nil {
		return user, false, nil
	}

	return user, true, nil
}
