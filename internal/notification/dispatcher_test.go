package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finvault/internal/domain"
	"finvault/internal/monitoring"
	"finvault/pkg/logger"
)

type memEventRepo struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (r *memEventRepo) InsertEvent(ctx context.Context, e *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *memEventRepo) MarkNotified(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Notified = true
		}
	}
	return nil
}

func (r *memEventRepo) CountEventsSince(ctx context.Context, userID uuid.UUID, eventType domain.EventType, since time.Time) (int, error) {
	return 0, nil
}

func (r *memEventRepo) RecentEvents(ctx context.Context, userID uuid.UUID, eventType domain.EventType, limit int) ([]domain.SecurityEvent, error) {
	return nil, nil
}

func (r *memEventRepo) ListUnnotified(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if !e.Notified && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingSender struct {
	failFor uuid.UUID
	sent    []uuid.UUID
}

func (s *recordingSender) SendSecurityAlert(ctx context.Context, event domain.SecurityEvent) error {
	if event.ID == s.failFor {
		return errors.New("smtp unreachable")
	}
	s.sent = append(s.sent, event.ID)
	return nil
}

func TestDispatchPendingMarksOnlyDelivered(t *testing.T) {
	repo := &memEventRepo{}
	monitor := monitoring.NewMonitor(repo, monitoring.Config{}, logger.NewNop())
	ctx := context.Background()

	delivered := domain.SecurityEvent{ID: uuid.New(), UserID: uuid.New(), EventType: domain.EventSuspiciousActivity, Status: domain.StatusWarning}
	undeliverable := domain.SecurityEvent{ID: uuid.New(), UserID: uuid.New(), EventType: domain.EventSuspiciousActivity, Status: domain.StatusCritical}
	require.NoError(t, repo.InsertEvent(ctx, &delivered))
	require.NoError(t, repo.InsertEvent(ctx, &undeliverable))

	sender := &recordingSender{failFor: undeliverable.ID}
	dispatcher := NewDispatcher(monitor, sender, time.Minute, logger.NewNop())

	require.NoError(t, dispatcher.DispatchPending(ctx))
	assert.Equal(t, []uuid.UUID{delivered.ID}, sender.sent)

	// The failed event stays pending for the next tick.
	pending, err := repo.ListUnnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, undeliverable.ID, pending[0].ID)
}

func TestDispatchPendingIsIdempotentOnceNotified(t *testing.T) {
	repo := &memEventRepo{}
	monitor := monitoring.NewMonitor(repo, monitoring.Config{}, logger.NewNop())
	ctx := context.Background()

	event := domain.SecurityEvent{ID: uuid.New(), UserID: uuid.New(), EventType: domain.EventSuspiciousActivity, Status: domain.StatusWarning}
	require.NoError(t, repo.InsertEvent(ctx, &event))

	sender := &recordingSender{}
	dispatcher := NewDispatcher(monitor, sender, time.Minute, logger.NewNop())

	require.NoError(t, dispatcher.DispatchPending(ctx))
	require.NoError(t, dispatcher.DispatchPending(ctx))

	assert.Equal(t, []uuid.UUID{event.ID}, sender.sent)
}
