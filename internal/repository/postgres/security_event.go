package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"finvault/internal/domain"
	"finvault/pkg/errors"
)

type SecurityEventRepository struct {
	db *sqlx.DB
}

func NewSecurityEventRepository(db *sqlx.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func (r *SecurityEventRepository) InsertEvent(ctx context.Context, event *domain.SecurityEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO security_events (
			id, user_id, event_type, ip_address, country, city, device_info, detail, status, notified, created_at
		) VALUES (
			:id, :user_id, :event_type, :ip_address, :country, :city, :device_info, :detail, :status, :notified, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return errors.Wrap(err, "failed to insert security event")
	}
	return nil
}

// MarkNotified is the only mutation the table allows; everything else is
// append-only.
func (r *SecurityEventRepository) MarkNotified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE security_events SET notified = true WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to mark event notified")
	}
	return nil
}

func (r *SecurityEventRepository) CountEventsSince(ctx context.Context, userID uuid.UUID, eventType domain.EventType, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE user_id = $1 AND event_type = $2 AND created_at >= $3`

	err := r.db.GetContext(ctx, &count, query, userID, eventType, since)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count security events")
	}
	return count, nil
}

func (r *SecurityEventRepository) RecentEvents(ctx context.Context, userID uuid.UUID, eventType domain.EventType, limit int) ([]domain.SecurityEvent, error) {
	var events []domain.SecurityEvent
	query := `
		SELECT id, user_id, event_type, ip_address, country, city, device_info, detail, status, notified, created_at
		FROM security_events
		WHERE user_id = $1 AND event_type = $2
		ORDER BY created_at DESC
		LIMIT $3`

	err := r.db.SelectContext(ctx, &events, query, userID, eventType, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent events")
	}
	return events, nil
}

// ListUnnotified feeds the notification dispatcher. Informational events
// are not delivered out of band, so only warning and critical rows qualify.
func (r *SecurityEventRepository) ListUnnotified(ctx context.Context, limit int) ([]domain.SecurityEvent, error) {
	var events []domain.SecurityEvent
	query := `
		SELECT id, user_id, event_type, ip_address, country, city, device_info, detail, status, notified, created_at
		FROM security_events
		WHERE notified = false AND status IN ('warning', 'critical')
		ORDER BY created_at ASC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &events, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unnotified events")
	}
	return events, nil
}
