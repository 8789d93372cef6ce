// Package blacklist answers "is this token revoked?" across two tiers: a
// durable Postgres store and an optional Redis cache. The store is the
// source of truth; the cache only ever short-circuits positive lookups.
package blacklist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"finvault/internal/domain"
	"finvault/internal/token"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

const cacheKeyPrefix = "blacklist:"

// Repository is the durable tier.
type Repository interface {
	Add(ctx context.Context, entry *domain.BlacklistEntry) error
	Find(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cache is the fast tier. Implemented by pkg/cache.RedisCache; a nil Cache
// means the deployment runs store-only.
type Cache interface {
	Healthy(ctx context.Context) bool
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Service coordinates the two tiers.
type Service struct {
	repo         Repository
	cache        Cache
	cacheTimeout time.Duration
	logger       logger.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache Cache, cacheTimeout time.Duration, log logger.Logger) *Service {
	return &Service{
		repo:         repo,
		cache:        cache,
		cacheTimeout: cacheTimeout,
		logger:       log,
	}
}

// Add blacklists a token. The store write is what makes revocation durable;
// the cache write is best-effort and its failure is logged, not escalated.
func (s *Service) Add(ctx context.Context, tokenValue string, tokenType domain.TokenType, userID uuid.UUID, reason domain.RevocationReason, expiresAt time.Time) error {
	return s.AddHashed(ctx, token.HashToken(tokenValue), tokenType, userID, reason, expiresAt)
}

// AddHashed blacklists a token known only by its stored hash, as with
// refresh tokens whose raw value the server never keeps.
func (s *Service) AddHashed(ctx context.Context, tokenHash string, tokenType domain.TokenType, userID uuid.UUID, reason domain.RevocationReason, expiresAt time.Time) error {
	entry := &domain.BlacklistEntry{
		TokenHash: tokenHash,
		TokenType: tokenType,
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	if err := s.repo.Add(ctx, entry); err != nil {
		return fverrors.Wrap(err, "failed to blacklist token")
	}

	s.backfill(ctx, entry.TokenHash, expiresAt)
	return nil
}

// IsBlacklisted checks the cache first, then the store. Only a positive
// cache hit is trusted; absence in the cache means "unknown". A store
// failure fails closed: the caller must reject the token.
func (s *Service) IsBlacklisted(ctx context.Context, tokenValue string) (bool, error) {
	tokenHash := token.HashToken(tokenValue)

	if s.cacheUsable(ctx) {
		cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		hit, err := s.cache.Exists(cacheCtx, cacheKeyPrefix+tokenHash)
		cancel()
		if err == nil && hit {
			return true, nil
		}
		if err != nil {
			s.logger.Warn("blacklist cache lookup failed, falling back to store", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	entry, err := s.repo.Find(ctx, tokenHash)
	if err != nil {
		return false, fverrors.Wrap(fverrors.ErrStoreUnavailable, err.Error())
	}
	if entry == nil {
		return false, nil
	}

	s.backfill(ctx, tokenHash, entry.ExpiresAt)
	return true, nil
}

// backfill writes a positive entry into the cache with the TTL the store
// computed. Nothing depends on it succeeding.
func (s *Service) backfill(ctx context.Context, tokenHash string, expiresAt time.Time) {
	if !s.cacheUsable(ctx) {
		return
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.cache.Set(cacheCtx, cacheKeyPrefix+tokenHash, "revoked", ttl); err != nil {
		s.logger.Warn("blacklist cache write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// SweepExpired prunes entries whose token would fail expiry checks anyway.
// Idempotent; safe to run concurrently with everything else.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fverrors.Wrap(err, "failed to sweep blacklist")
	}
	return removed, nil
}

func (s *Service) cacheUsable(ctx context.Context) bool {
	return s.cache != nil && s.cache.Healthy(ctx)
}
