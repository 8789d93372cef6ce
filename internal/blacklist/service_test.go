package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finvault/internal/domain"
	"finvault/internal/token"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Add(ctx context.Context, entry *domain.BlacklistEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) Find(ctx context.Context, tokenHash string) (*domain.BlacklistEntry, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BlacklistEntry), args.Error(1)
}

func (m *MockRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// fakeCache is an in-memory stand-in for the Redis tier. Entries can be
// dropped to simulate eviction or a flush.
type fakeCache struct {
	healthy bool
	failing bool
	entries map[string]time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{healthy: true, entries: make(map[string]time.Time)}
}

func (c *fakeCache) Healthy(ctx context.Context) bool { return c.healthy }

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.failing {
		return errors.New("cache down")
	}
	c.entries[key] = time.Now().Add(expiration)
	return nil
}

func (c *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.failing {
		return false, errors.New("cache down")
	}
	exp, ok := c.entries[key]
	return ok && exp.After(time.Now()), nil
}

// --- Tests ---

func TestAddWritesStoreThenCache(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	svc := NewService(repo, cache, time.Second, logger.NewNop())
	ctx := context.Background()

	userID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)

	repo.On("Add", mock.Anything, mock.MatchedBy(func(e *domain.BlacklistEntry) bool {
		return e.TokenHash == token.HashToken("raw-token") &&
			e.TokenType == domain.TokenTypeAccess &&
			e.UserID == userID &&
			e.Reason == domain.ReasonLogout
	})).Return(nil)

	err := svc.Add(ctx, "raw-token", domain.TokenTypeAccess, userID, domain.ReasonLogout, expiresAt)
	require.NoError(t, err)

	repo.AssertExpectations(t)

	// The cache was backfilled under the hashed key.
	hit, err := cache.Exists(ctx, cacheKeyPrefix+token.HashToken("raw-token"))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestAddFailsWhenStoreFails(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	svc := NewService(repo, cache, time.Second, logger.NewNop())

	repo.On("Add", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	err := svc.Add(context.Background(), "raw-token", domain.TokenTypeAccess, uuid.New(), domain.ReasonLogout, time.Now().Add(time.Hour))
	assert.Error(t, err)

	// No cache entry without a durable store row.
	assert.Empty(t, cache.entries)
}

func TestIsBlacklistedPositiveCacheHitSkipsStore(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	svc := NewService(repo, cache, time.Second, logger.NewNop())
	ctx := context.Background()

	hash := token.HashToken("raw-token")
	cache.entries[cacheKeyPrefix+hash] = time.Now().Add(time.Hour)

	revoked, err := svc.IsBlacklisted(ctx, "raw-token")
	require.NoError(t, err)
	assert.True(t, revoked)

	repo.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
}

func TestIsBlacklistedCacheMissFallsBackToStore(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	svc := NewService(repo, cache, time.Second, logger.NewNop())
	ctx := context.Background()

	hash := token.HashToken("raw-token")
	entry := &domain.BlacklistEntry{
		TokenHash: hash,
		TokenType: domain.TokenTypeRefresh,
		UserID:    uuid.New(),
		Reason:    domain.ReasonSecurity,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	repo.On("Find", mock.Anything, hash).Return(entry, nil)

	revoked, err := svc.IsBlacklisted(ctx, "raw-token")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Store hit repopulated the cache.
	hit, err := cache.Exists(ctx, cacheKeyPrefix+hash)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestIsBlacklistedSurvivesCacheFlush(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	svc := NewService(repo, cache, time.Second, logger.NewNop())
	ctx := context.Background()

	userID := uuid.New()
	expiresAt := time.Now().Add(time.Hour)
	hash := token.HashToken("raw-token")

	repo.On("Add", mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, svc.Add(ctx, "raw-token", domain.TokenTypeAccess, userID, domain.ReasonSecurity, expiresAt))

	// Simulate a cache flush; the store still knows the token.
	cache.entries = make(map[string]time.Time)
	repo.On("Find", mock.Anything, hash).Return(&domain.BlacklistEntry{
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}, nil)

	revoked, err := svc.IsBlacklisted(ctx, "raw-token")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestIsBlacklistedUnknownToken(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, newFakeCache(), time.Second, logger.NewNop())

	repo.On("Find", mock.Anything, mock.Anything).Return(nil, nil)

	revoked, err := svc.IsBlacklisted(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestIsBlacklistedFailsClosedOnStoreError(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	cache.healthy = false
	svc := NewService(repo, cache, time.Second, logger.NewNop())

	repo.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := svc.IsBlacklisted(context.Background(), "raw-token")
	assert.ErrorIs(t, err, fverrors.ErrStoreUnavailable)
}

func TestIsBlacklistedCacheErrorFallsBackToStore(t *testing.T) {
	repo := new(MockRepository)
	cache := newFakeCache()
	cache.failing = true
	svc := NewService(repo, cache, time.Second, logger.NewNop())

	hash := token.HashToken("raw-token")
	repo.On("Find", mock.Anything, hash).Return(&domain.BlacklistEntry{
		TokenHash: hash,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil)

	revoked, err := svc.IsBlacklisted(context.Background(), "raw-token")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestServiceRunsStoreOnlyWithoutCache(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, nil, time.Second, logger.NewNop())

	repo.On("Add", mock.Anything, mock.Anything).Return(nil)
	repo.On("Find", mock.Anything, mock.Anything).Return(nil, nil)

	err := svc.Add(context.Background(), "raw-token", domain.TokenTypeAccess, uuid.New(), domain.ReasonLogout, time.Now().Add(time.Hour))
	require.NoError(t, err)

	revoked, err := svc.IsBlacklisted(context.Background(), "other-token")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSweepExpired(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, newFakeCache(), time.Second, logger.NewNop())

	repo.On("DeleteExpired", mock.Anything, mock.Anything).Return(int64(3), nil)

	removed, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}
