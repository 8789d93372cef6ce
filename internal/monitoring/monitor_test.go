package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finvault/internal/domain"
	"finvault/pkg/logger"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertEvent(ctx context.Context, event *domain.SecurityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockRepository) MarkNotified(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CountEventsSince(ctx context.Context, userID uuid.UUID, eventType domain.EventType, since time.Time) (int, error) {
	args := m.Called(ctx, userID, eventType, since)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) RecentEvents(ctx context.Context, userID uuid.UUID, eventType domain.EventType, limit int) ([]domain.SecurityEvent, error) {
	args := m.Called(ctx, userID, eventType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SecurityEvent), args.Error(1)
}

func (m *MockRepository) ListUnnotified(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SecurityEvent), args.Error(1)
}

// --- Helpers ---

func testConfig() Config {
	return Config{
		BruteForceThreshold: 5,
		BruteForceWindow:    time.Hour,
		TravelWindow:        time.Hour,
		RecentLoginSample:   10,
	}
}

func loginSuccess(country string, age time.Duration) domain.SecurityEvent {
	return domain.SecurityEvent{
		ID:        uuid.New(),
		EventType: domain.EventLoginSuccess,
		Country:   country,
		CreatedAt: time.Now().Add(-age),
	}
}

// --- Tests ---

func TestRecordEventDefaults(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()

	repo.On("InsertEvent", ctx, mock.MatchedBy(func(e *domain.SecurityEvent) bool {
		return e.Status == domain.StatusInfo && !e.CreatedAt.IsZero()
	})).Return(nil)

	event, err := monitor.RecordEvent(ctx, &domain.SecurityEvent{
		UserID:    uuid.New(),
		EventType: domain.EventLoginSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInfo, event.Status)
}

func TestIsNewDevice(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	known := loginSuccess("Germany", time.Hour)
	known.IPAddress = "203.0.113.7"
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 10).Return([]domain.SecurityEvent{known}, nil)

	isNew, err := monitor.IsNewDevice(ctx, userID, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = monitor.IsNewDevice(ctx, userID, "198.51.100.2")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestBruteForceBelowThreshold(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(4, nil)
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Germany"})
	require.NoError(t, err)
	assert.False(t, assessment.Suspicious)
	assert.Equal(t, RiskLow, assessment.RiskLevel)
	assert.Empty(t, assessment.Reasons)
}

func TestBruteForceAtThreshold(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(5, nil)
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Germany"})
	require.NoError(t, err)
	assert.True(t, assessment.Suspicious)
	assert.Equal(t, RiskHigh, assessment.RiskLevel)
	require.Len(t, assessment.Reasons, 1)
	assert.Contains(t, assessment.Reasons[0], "brute force")
}

func TestGeoAnomalyIsMediumRisk(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(0, nil)
	// The previous login was long ago, so only the country change fires.
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{
		loginSuccess("Germany", 48*time.Hour),
	}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Japan"})
	require.NoError(t, err)
	assert.True(t, assessment.Suspicious)
	assert.Equal(t, RiskMedium, assessment.RiskLevel)
	require.Len(t, assessment.Reasons, 1)
	assert.Contains(t, assessment.Reasons[0], "country changed")
}

func TestImpossibleTravelIsHighRisk(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(0, nil)
	// A login from another country 20 minutes ago fires both the country
	// change and the travel rule.
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{
		loginSuccess("Germany", 20*time.Minute),
	}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Japan"})
	require.NoError(t, err)
	assert.True(t, assessment.Suspicious)
	assert.Equal(t, RiskHigh, assessment.RiskLevel)
	require.Len(t, assessment.Reasons, 2)
	assert.Contains(t, assessment.Reasons[0], "country changed")
	assert.Contains(t, assessment.Reasons[1], "impossible travel")
}

func TestImpossibleTravelBetweenStoredLogins(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(0, nil)
	// The current attempt matches the latest country, but the two stored
	// successes are 30 minutes apart across countries.
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{
		loginSuccess("Japan", 10*time.Minute),
		loginSuccess("Germany", 40*time.Minute),
	}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Japan"})
	require.NoError(t, err)
	assert.True(t, assessment.Suspicious)
	assert.Equal(t, RiskHigh, assessment.RiskLevel)
}

func TestUnknownCountryNeverFlags(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(0, nil)
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{
		loginSuccess("Germany", 10*time.Minute),
	}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{})
	require.NoError(t, err)
	assert.False(t, assessment.Suspicious)
}

func TestAllRulesReported(t *testing.T) {
	repo := new(MockRepository)
	monitor := NewMonitor(repo, testConfig(), logger.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	repo.On("CountEventsSince", ctx, userID, domain.EventLoginFailed, mock.Anything).Return(7, nil)
	repo.On("RecentEvents", ctx, userID, domain.EventLoginSuccess, 2).Return([]domain.SecurityEvent{
		loginSuccess("Germany", 20*time.Minute),
	}, nil)

	assessment, err := monitor.DetectSuspiciousActivity(ctx, userID, "203.0.113.7", domain.Location{Country: "Japan"})
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, assessment.RiskLevel)
	assert.Len(t, assessment.Reasons, 3)
}
