// Package monitoring consumes login events and flags new or suspicious
// activity. The heuristics are allow-list-by-recent-history checks, not a
// fingerprinting system.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finvault/internal/domain"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// RiskLevel orders the severity of an assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// Assessment is the outcome of DetectSuspiciousActivity. Every triggered
// rule contributes a reason; RiskLevel is the maximum across them.
type Assessment struct {
	Suspicious bool      `json:"suspicious"`
	Reasons    []string  `json:"reasons"`
	RiskLevel  RiskLevel `json:"risk_level"`
}

// Repository is the append-only event store.
type Repository interface {
	InsertEvent(ctx context.Context, event *domain.SecurityEvent) error
	MarkNotified(ctx context.Context, id uuid.UUID) error
	CountEventsSince(ctx context.Context, userID uuid.UUID, eventType domain.EventType, since time.Time) (int, error)
	// RecentEvents returns the newest events first.
	RecentEvents(ctx context.Context, userID uuid.UUID, eventType domain.EventType, limit int) ([]domain.SecurityEvent, error)
	ListUnnotified(ctx context.Context, limit int) ([]domain.SecurityEvent, error)
}

// Config carries the detection thresholds.
type Config struct {
	BruteForceThreshold int
	BruteForceWindow    time.Duration
	TravelWindow        time.Duration
	RecentLoginSample   int
}

// Monitor records security events and evaluates login heuristics.
type Monitor struct {
	repo   Repository
	cfg    Config
	logger logger.Logger
}

// NewMonitor constructs a Monitor.
func NewMonitor(repo Repository, cfg Config, log logger.Logger) *Monitor {
	return &Monitor{repo: repo, cfg: cfg, logger: log}
}

// RecordEvent appends an event. It never fails on business logic, only on
// store unavailability.
func (m *Monitor) RecordEvent(ctx context.Context, event *domain.SecurityEvent) (*domain.SecurityEvent, error) {
	if event.Status == "" {
		event.Status = domain.StatusInfo
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if err := m.repo.InsertEvent(ctx, event); err != nil {
		return nil, fverrors.Wrap(err, "failed to record security event")
	}
	return event, nil
}

// IsNewDevice reports whether no recent successful login for this user came
// from this exact IP. The sample is bounded to the most recent logins.
func (m *Monitor) IsNewDevice(ctx context.Context, userID uuid.UUID, ipAddress string) (bool, error) {
	recent, err := m.repo.RecentEvents(ctx, userID, domain.EventLoginSuccess, m.cfg.RecentLoginSample)
	if err != nil {
		return false, fverrors.Wrap(err, "failed to load recent logins")
	}

	for _, event := range recent {
		if event.IPAddress == ipAddress {
			return false, nil
		}
	}
	return true, nil
}

// DetectSuspiciousActivity evaluates every rule independently and reports
// all matched reasons, not just the first.
func (m *Monitor) DetectSuspiciousActivity(ctx context.Context, userID uuid.UUID, ipAddress string, location domain.Location) (*Assessment, error) {
	assessment := &Assessment{RiskLevel: RiskLow}

	failures, err := m.repo.CountEventsSince(ctx, userID, domain.EventLoginFailed, time.Now().Add(-m.cfg.BruteForceWindow))
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to count failed logins")
	}
	if failures >= m.cfg.BruteForceThreshold {
		assessment.add(RiskHigh, fmt.Sprintf("brute force: %d failed logins within %s", failures, m.cfg.BruteForceWindow))
	}

	successes, err := m.repo.RecentEvents(ctx, userID, domain.EventLoginSuccess, 2)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to load recent logins")
	}

	if len(successes) > 0 && differentCountry(successes[0].Country, location.Country) {
		assessment.add(RiskMedium, fmt.Sprintf("login country changed from %s to %s", successes[0].Country, location.Country))
	}

	if m.impossibleTravel(successes, location) {
		assessment.add(RiskHigh, fmt.Sprintf("impossible travel: logins from different countries within %s", m.cfg.TravelWindow))
	}

	assessment.Suspicious = len(assessment.Reasons) > 0
	return assessment, nil
}

// impossibleTravel checks consecutive login pairs, treating the current
// attempt as the newest point: current vs the latest success, and the two
// most recent successes against each other.
func (m *Monitor) impossibleTravel(successes []domain.SecurityEvent, location domain.Location) bool {
	now := time.Now()

	if len(successes) > 0 &&
		differentCountry(successes[0].Country, location.Country) &&
		now.Sub(successes[0].CreatedAt) < m.cfg.TravelWindow {
		return true
	}

	if len(successes) > 1 &&
		differentCountry(successes[0].Country, successes[1].Country) &&
		successes[0].CreatedAt.Sub(successes[1].CreatedAt) < m.cfg.TravelWindow {
		return true
	}

	return false
}

// MarkNotified flips the notified flag after a downstream notifier has
// processed the event. Nothing else on the row ever changes.
func (m *Monitor) MarkNotified(ctx context.Context, eventID uuid.UUID) error {
	if err := m.repo.MarkNotified(ctx, eventID); err != nil {
		return fverrors.Wrap(err, "failed to mark event notified")
	}
	return nil
}

// PendingNotifications lists events awaiting handoff to the notifier.
func (m *Monitor) PendingNotifications(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	events, err := m.repo.ListUnnotified(ctx, limit)
	if err != nil {
		return nil, fverrors.Wrap(err, "failed to list unnotified events")
	}
	return events, nil
}

func (a *Assessment) add(risk RiskLevel, reason string) {
	a.Reasons = append(a.Reasons, reason)
	if riskRank[risk] > riskRank[a.RiskLevel] {
		a.RiskLevel = risk
	}
}

func differentCountry(a, b string) bool {
	return a != "" && b != "" && a != b
}
