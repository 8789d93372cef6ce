// Package notification hands security events off to an out-of-band sender
// and flips their notified flag. Delivery content and channels are the
// sender's concern; this package only owns the handoff.
package notification

import (
	"context"
	"fmt"
	"time"

	"finvault/internal/domain"
	"finvault/internal/monitoring"
	"finvault/pkg/logger"
)

const batchSize = 50

// Sender performs the actual delivery (email, push). A failed send leaves
// the event unnotified so the next pass retries it.
type Sender interface {
	SendSecurityAlert(ctx context.Context, event domain.SecurityEvent) error
}

// LogSender is the fallback Sender used when no mail transport is
// configured: it just logs the alert.
type LogSender struct {
	Logger logger.Logger
}

func (s LogSender) SendSecurityAlert(ctx context.Context, event domain.SecurityEvent) error {
	s.Logger.Info("security alert", map[string]interface{}{
		"user_id":    event.UserID.String(),
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"detail":     event.Detail,
	})
	return nil
}

// Dispatcher drains unnotified events on a fixed interval.
type Dispatcher struct {
	monitor  *monitoring.Monitor
	sender   Sender
	interval time.Duration
	logger   logger.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(monitor *monitoring.Monitor, sender Sender, interval time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		monitor:  monitor,
		sender:   sender,
		interval: interval,
		logger:   log,
	}
}

// Run blocks until ctx is cancelled, dispatching one batch per tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.DispatchPending(ctx); err != nil {
				d.logger.Error("notification dispatch failed", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		}
	}
}

// DispatchPending sends every pending event once. The notified flag flips
// only after the sender accepted the event.
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	events, err := d.monitor.PendingNotifications(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := d.sender.SendSecurityAlert(ctx, event); err != nil {
			d.logger.Warn("security alert delivery failed", map[string]interface{}{
				"event_id": event.ID.String(),
				"error":    err.Error(),
			})
			continue
		}

		if err := d.monitor.MarkNotified(ctx, event.ID); err != nil {
			return fmt.Errorf("failed to mark event %s notified: %w", event.ID, err)
		}
	}

	return nil
}
