package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// SessionDestroyer marks a session for deletion on commit.
type SessionDestroyer interface {
	Destroy(sess *shared.Session)
}

// RevocationObserver is told about every forced sign-out.
type RevocationObserver interface {
	ObserveSessionRevoked()
}

// Service orchestrates sign-in and session enrichment.
type Service struct {
	repo     Repository
	sessions SessionDestroyer
	observer RevocationObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the auth service. observer may be nil.
func NewService(repo Repository, sessions SessionDestroyer, observer RevocationObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		observer: observer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SignIn binds a verified provider identity to sess. Inactive accounts get
// shared.ErrAccessDenied and leave the session unauthenticated.
func (s *Service) SignIn(ctx context.Context, sess *shared.Session, ident ProviderIdentity) (User, error) {
	if sess == nil {
		return User{}, errors.New("auth: session missing")
	}
	if ident.Subject == "" || ident.Email == "" {
		sess.Reset()
		return User{}, shared.ErrAccessDenied
	}
	sess.SetState(shared.StatePending)

	user, err := s.findOrCreate(ctx, ident)
	if err != nil {
		sess.Reset()
		return User{}, err
	}
	if !user.IsActive {
		sess.Reset()
		s.logger.WarnContext(ctx, "sign-in rejected for inactive account", slog.String("user_id", user.ID))
		return User{}, shared.ErrAccessDenied
	}

	now := s.now()
	sess.Reset()
	sess.Rotate()
	sess.SetUser(user.ID)
	sess.SetClaims(shared.Claims{
		RoleID:      user.RoleID,
		IsActive:    user.IsActive,
		IssuedAt:    now,
		RefreshedAt: now,
	})
	sess.SetState(shared.StateEnriched)
	s.logger.InfoContext(ctx, "user signed in", slog.String("user_id", user.ID))
	return user, nil
}

func (s *Service) findOrCreate(ctx context.Context, ident ProviderIdentity) (User, error) {
	user, err := s.repo.FindByProviderSubject(ctx, ident.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return User{}, fmt.Errorf("auth: find by subject: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(ident.Email))
	user, err = s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.repo.LinkProviderSubject(ctx, user.ID, ident.Subject); err != nil {
			return User{}, fmt.Errorf("auth: link subject: %w", err)
		}
		subject := ident.Subject
		user.ProviderSubject = &subject
		return user, nil
	case !errors.Is(err, shared.ErrNotFound):
		return User{}, fmt.Errorf("auth: find by email: %w", err)
	}

	ident.Email = email
	user, err = s.repo.CreateUser(ctx, ident)
	if errors.Is(err, shared.ErrConflict) {
		// lost a race with a concurrent first sign-in
		return s.repo.FindByProviderSubject(ctx, ident.Subject)
	}
	if err != nil {
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
	s.logger.InfoContext(ctx, "user provisioned", slog.String("user_id", user.ID))
	return user, nil
}

// Refresh re-reads the user behind an enriched session. A deleted or
// deactivated account revokes the session and returns
// shared.ErrAuthenticationRequired. Store failures leave the session as is.
func (s *Service) Refresh(ctx context.Context, sess *shared.Session) error {
	if sess == nil || sess.State() != shared.StateEnriched {
		return shared.ErrAuthenticationRequired
	}
	user, err := s.repo.FindUser(ctx, sess.User())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.revoke(ctx, sess, "account removed")
			return shared.ErrAuthenticationRequired
		}
		return err
	}
	if !user.IsActive {
		s.revoke(ctx, sess, "account deactivated")
		return shared.ErrAuthenticationRequired
	}
	claims := sess.Claims()
	claims.RoleID = user.RoleID
	claims.IsActive = user.IsActive
	claims.RefreshedAt = s.now()
	sess.SetClaims(claims)
	return nil
}

// NeedsRefresh reports whether sess was last refreshed more than interval
// ago. A zero interval refreshes on every request.
func (s *Service) NeedsRefresh(sess *shared.Session, interval time.Duration) bool {
	if sess == nil || sess.State() != shared.StateEnriched {
		return false
	}
	if interval <= 0 {
		return true
	}
	return s.now().Sub(sess.Claims().RefreshedAt) >= interval
}

// SignOut ends sess.
func (s *Service) SignOut(ctx context.Context, sess *shared.Session) {
	if sess == nil {
		return
	}
	if uid := sess.User(); uid != "" {
		s.logger.InfoContext(ctx, "user signed out", slog.String("user_id", uid))
	}
	sess.SetState(shared.StateUnauthenticated)
	s.sessions.Destroy(sess)
}

func (s *Service) revoke(ctx context.Context, sess *shared.Session, reason string) {
	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", sess.User()), slog.String("reason", reason))
	sess.SetState(shared.StateRevoked)
	s.sessions.Destroy(sess)
	if s.observer != nil {
		s.observer.ObserveSessionRevoked()
	}
}
