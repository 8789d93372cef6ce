// Package token signs and verifies access tokens and generates opaque
// refresh tokens. No I/O happens here; blacklist checks are the session
// manager's job.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	fverrors "finvault/pkg/errors"
)

const refreshTokenBytes = 32

// Claims is the payload carried by an access token.
type Claims struct {
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 access tokens.
type Codec struct {
	secret         []byte
	accessTokenTTL time.Duration
}

// NewCodec validates the signing secret and returns a ready codec. A missing
// or short secret is a configuration error, caught at startup.
func NewCodec(secret string, minSecretLength int, accessTokenTTL time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("token: signing secret must be at least %d characters", minSecretLength)
	}

	return &Codec{
		secret:         []byte(secret),
		accessTokenTTL: accessTokenTTL,
	}, nil
}

// SignAccessToken mints a short-lived access token bound to the session.
func (c *Codec) SignAccessToken(userID, sessionID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(c.accessTokenTTL)

	claims := Claims{
		SessionID: sessionID.String(),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "finvault",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature and expiry and returns the claims.
// Expired and malformed tokens surface as distinct error kinds.
func (c *Codec) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fverrors.ErrExpiredToken
		}
		return nil, fverrors.ErrMalformedToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != "access" {
		return nil, fverrors.ErrMalformedToken
	}

	return claims, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (c *Codec) AccessTokenTTL() time.Duration {
	return c.accessTokenTTL
}

// GenerateRefreshToken returns a high-entropy opaque value. It carries no
// structure; its only role is a lookup key against stored hashes.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
// Raw token values never touch the database.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
