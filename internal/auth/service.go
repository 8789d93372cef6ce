// Package auth orchestrates the login flow: credential verification, MFA,
// suspicious-activity checks, and session issuance.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"finvault/internal/domain"
	"finvault/internal/mfa"
	"finvault/internal/monitoring"
	"finvault/internal/session"
	fverrors "finvault/pkg/errors"
	"finvault/pkg/logger"
)

// Verifier checks a credential pair. Implementations must behave the same
// for unknown identifiers and wrong secrets so callers cannot enumerate
// accounts; user is non-nil only when the identifier resolved.
type Verifier interface {
	Verify(ctx context.Context, identifier, secret string) (user *domain.User, match bool, err error)
}

// GeoResolver turns an IP address into a coarse location. Resolution is a
// collaborator concern; NopResolver stands in when none is configured.
type GeoResolver interface {
	Resolve(ctx context.Context, ipAddress string) domain.Location
}

// NopResolver resolves every IP to an empty location.
type NopResolver struct{}

func (NopResolver) Resolve(ctx context.Context, ipAddress string) domain.Location {
	return domain.Location{}
}

// LoginRequest carries everything a login attempt submits.
type LoginRequest struct {
	Email     string            `json:"email" validate:"required,email"`
	Password  string            `json:"password" validate:"required"`
	MFACode   string            `json:"mfa_code,omitempty"`
	Device    domain.DeviceInfo `json:"device"`
	IPAddress string            `json:"-"`
}

// Service wires the collaborators of the login flow together.
type Service struct {
	verifier Verifier
	mfa      *mfa.Service
	sessions *session.Manager
	monitor  *monitoring.Monitor
	geo      GeoResolver
	logger   logger.Logger
}

// NewService constructs the auth orchestrator.
func NewService(verifier Verifier, mfaService *mfa.Service, sessions *session.Manager, monitor *monitoring.Monitor, geo GeoResolver, log logger.Logger) *Service {
	if geo == nil {
		geo = NopResolver{}
	}
	return &Service{
		verifier: verifier,
		mfa:      mfaService,
		sessions: sessions,
		monitor:  monitor,
		geo:      geo,
		logger:   log,
	}
}

// Login runs the full authentication flow and opens a new device session.
// Valid credentials with MFA enabled and no code return ErrMFARequired so
// clients can prompt for one; every other failure is uniform.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*session.TokenPair, error) {
	user, match, err := s.verifier.Verify(ctx, req.Email, req.Password)
	if err != nil {
		return nil, fverrors.Wrap(err, "credential verification failed")
	}
	if !match {
		if user != nil {
			s.recordEvent(ctx, user.ID, domain.EventLoginFailed, req, "invalid credentials", domain.StatusInfo)
		}
		return nil, fverrors.ErrInvalidCredentials
	}

	mfaEnabled, err := s.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if mfaEnabled {
		if req.MFACode == "" {
			return nil, fverrors.ErrMFARequired
		}

		result, err := s.mfa.VerifyLogin(ctx, user.ID, req.MFACode)
		if err != nil {
			if errors.Is(err, fverrors.ErrInvalidMFAToken) {
				s.recordEvent(ctx, user.ID, domain.EventLoginFailed, req, "invalid mfa token", domain.StatusWarning)
			}
			return nil, err
		}

		if result.Method == mfa.MatchRecovery {
			if err := s.mfa.ConsumeRecoveryCode(ctx, user.ID, result.RecoveryIndex); err != nil {
				// A concurrent login burned the same code first.
				s.recordEvent(ctx, user.ID, domain.EventLoginFailed, req, "recovery code already used", domain.StatusWarning)
				return nil, fverrors.ErrInvalidMFAToken
			}
		}
	}

	location := s.geo.Resolve(ctx, req.IPAddress)
	s.assessLogin(ctx, user.ID, req, location)

	pair, err := s.sessions.Create(ctx, user.ID, req.Device, req.IPAddress)
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// assessLogin runs the suspicious-activity heuristics and records the
// login_success event. The heuristics are advisory: a store hiccup here is
// logged, never turned into a login failure.
func (s *Service) assessLogin(ctx context.Context, userID uuid.UUID, req *LoginRequest, location domain.Location) {
	status := domain.StatusInfo
	detail := ""

	newDevice, err := s.monitor.IsNewDevice(ctx, userID, req.IPAddress)
	if err != nil {
		s.logger.Warn("new-device check failed", map[string]interface{}{"error": err.Error()})
	} else if newDevice {
		status = domain.StatusWarning
		detail = "login from a new device or address"
	}

	assessment, err := s.monitor.DetectSuspiciousActivity(ctx, userID, req.IPAddress, location)
	if err != nil {
		s.logger.Warn("suspicious-activity check failed", map[string]interface{}{"error": err.Error()})
	} else if assessment.Suspicious {
		eventStatus := domain.StatusWarning
		if assessment.RiskLevel == monitoring.RiskHigh {
			eventStatus = domain.StatusCritical
		}
		s.recordLocatedEvent(ctx, userID, domain.EventSuspiciousActivity, req, location,
			fmt.Sprintf("risk %s: %v", assessment.RiskLevel, assessment.Reasons), eventStatus)
	}

	s.recordLocatedEvent(ctx, userID, domain.EventLoginSuccess, req, location, detail, status)
}

// Logout revokes one session.
func (s *Service) Logout(ctx context.Context, userID, sessionID uuid.UUID, ipAddress string) error {
	if err := s.sessions.Revoke(ctx, sessionID, userID, domain.ReasonLogout); err != nil {
		return err
	}

	s.recordEvent(ctx, userID, domain.EventLogout, &LoginRequest{IPAddress: ipAddress}, "", domain.StatusInfo)
	return nil
}

// LogoutAll revokes every active session, as on password change or an
// explicit "logout everywhere".
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID, reason domain.RevocationReason, ipAddress string) (int, error) {
	count, err := s.sessions.RevokeAll(ctx, userID, reason)
	if err != nil {
		return 0, err
	}

	s.recordEvent(ctx, userID, domain.EventSessionRevoked, &LoginRequest{IPAddress: ipAddress},
		fmt.Sprintf("revoked %d sessions (%s)", count, reason), domain.StatusInfo)
	return count, nil
}

// ConfirmMFA enables a pending enrollment and records the audit event.
func (s *Service) ConfirmMFA(ctx context.Context, userID uuid.UUID, code, ipAddress string) error {
	if err := s.mfa.Confirm(ctx, userID, code); err != nil {
		return err
	}

	s.recordEvent(ctx, userID, domain.EventMFAEnabled, &LoginRequest{IPAddress: ipAddress}, "", domain.StatusInfo)
	return nil
}

// DisableMFA clears the user's MFA material and records the audit event.
func (s *Service) DisableMFA(ctx context.Context, userID uuid.UUID, ipAddress string) error {
	if err := s.mfa.Disable(ctx, userID); err != nil {
		return err
	}

	s.recordEvent(ctx, userID, domain.EventMFADisabled, &LoginRequest{IPAddress: ipAddress}, "", domain.StatusWarning)
	return nil
}

func (s *Service) recordEvent(ctx context.Context, userID uuid.UUID, eventType domain.EventType, req *LoginRequest, detail string, status domain.EventStatus) {
	s.recordLocatedEvent(ctx, userID, eventType, req, s.geo.Resolve(ctx, req.IPAddress), detail, status)
}

func (s *Service) recordLocatedEvent(ctx context.Context, userID uuid.UUID, eventType domain.EventType, req *LoginRequest, location domain.Location, detail string, status domain.EventStatus) {
	_, err := s.monitor.RecordEvent(ctx, &domain.SecurityEvent{
		UserID:     userID,
		EventType:  eventType,
		IPAddress:  req.IPAddress,
		Country:    location.Country,
		City:       location.City,
		DeviceInfo: req.Device.UserAgent,
		Detail:     detail,
		Status:     status,
	})
	if err != nil {
		s.logger.Error("failed to record security event", map[string]interface{}{
			"event_type": string(eventType),
			"error":      err.Error(),
		})
	}
}
