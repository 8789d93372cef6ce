package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"finvault/internal/domain"
	"finvault/pkg/mailer"
)

// UserDirectory resolves a user ID to a deliverable address.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// MailSender delivers security alerts over SMTP.
type MailSender struct {
	mailer *mailer.Mailer
	users  UserDirectory
}

// NewMailSender constructs a MailSender.
func NewMailSender(m *mailer.Mailer, users UserDirectory) *MailSender {
	return &MailSender{mailer: m, users: users}
}

func (s *MailSender) SendSecurityAlert(ctx context.Context, event domain.SecurityEvent) error {
	user, err := s.users.FindByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Security alert on your account: %s", event.EventType)
	body := fmt.Sprintf(
		"<p>We noticed the following activity on your account:</p>"+
			"<p><b>%s</b> from %s at %s</p><p>%s</p>"+
			"<p>If this was not you, revoke your sessions and change your password.</p>",
		event.EventType, event.IPAddress, event.CreatedAt.Format("2006-01-02 15:04 MST"), event.Detail,
	)

	return s.mailer.Send(user.Email, subject, body)
}
