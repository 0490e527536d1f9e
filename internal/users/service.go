package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, f ListFilters) ([]User, int, error)
	GetUser(ctx context.Context, id string) (User, error)
	AssignRole(ctx context.Context, id string, roleID int64) (User, error)
	SetActive(ctx context.Context, id string, active bool) (User, error)
	UpdateProfile(ctx context.Context, id string, in EditInput) (User, error)
	DeleteUser(ctx context.Context, id string) (User, error)
}

// Guard is satisfied by *rbac.Guard.
type Guard interface {
	Authorize(ctx context.Context, id rbac.Identity, req rbac.Requirement) error
	AuthorizeTarget(ctx context.Context, id rbac.Identity, req rbac.Requirement, targetUserID string) error
	Authenticated(ctx context.Context, id rbac.Identity) (rbac.Subject, error)
}

// PermissionResolver is satisfied by *rbac.Resolver.
type PermissionResolver interface {
	Subject(ctx context.Context, userID string) (rbac.Subject, error)
	ResolveSubject(ctx context.Context, subj rbac.Subject) (rbac.PermissionSet, error)
}

// SessionRevoker drops every live session of a user.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID string) (int, error)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	guard    Guard
	resolver PermissionResolver
	audit    audit.Recorder
	sessions SessionRevoker
	logger   *slog.Logger
}

// NewService builds Service instance. sessions may be nil, in which case
// deactivated users are signed out on their next session refresh.
func NewService(repo RepositoryPort, guard Guard, resolver PermissionResolver, recorder audit.Recorder, sessions SessionRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, resolver: resolver, audit: recorder, sessions: sessions, logger: logger}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, actor rbac.Identity, f ListFilters) (ListResult, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListUsers); err != nil {
		return ListResult{}, err
	}
	list, total, err := s.repo.ListUsers(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	if list == nil {
		list = []User{}
	}
	return ListResult{Users: list, Pagination: shared.NewPagination(f.Page, f.PerPage, total)}, nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, actor rbac.Identity, id string) (User, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListUsers); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, id)
}

// AssignRole gives the user roleID, replacing any previous role.
func (s *Service) AssignRole(ctx context.Context, actor rbac.Identity, userID string, roleID int64) (User, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqAssignRole); err != nil {
		return User{}, err
	}
	if roleID <= 0 {
		return User{}, fmt.Errorf("%w: role id required", shared.ErrValidation)
	}
	user, err := s.repo.AssignRole(ctx, userID, roleID)
	if err != nil {
		return User{}, err
	}
	roleName := fmt.Sprintf("%d", roleID)
	if user.RoleName != nil {
		roleName = fmt.Sprintf("%q", *user.RoleName)
	}
	s.audit.Record(ctx, audit.Event{
		ActorID:   actor.UserID,
		Type:      audit.TypeUpdate,
		Source:    rbac.SourceUser,
		Message:   fmt.Sprintf("assigned role %s to %s", roleName, user.Email),
		SubjectID: user.ID,
	})
	return user, nil
}

// UpdateAccountStatus activates or deactivates an account. Actors can never
// change their own status.
func (s *Service) UpdateAccountStatus(ctx context.Context, actor rbac.Identity, userID string, active bool) (User, error) {
	if err := s.guard.AuthorizeTarget(ctx, actor, rbac.ReqUpdateStatus, userID); err != nil {
		return User{}, err
	}
	user, err := s.repo.SetActive(ctx, userID, active)
	if err != nil {
		return User{}, err
	}
	verb := "activated"
	if !active {
		verb = "deactivated"
		s.revokeSessions(ctx, user.ID)
	}
	s.audit.Record(ctx, audit.Event{
		ActorID:   actor.UserID,
		Type:      audit.TypeUpdate,
		Source:    rbac.SourceUser,
		Message:   fmt.Sprintf("%s account %s", verb, user.Email),
		SubjectID: user.ID,
	})
	return user, nil
}

// DeleteUser removes an account other than the actor's own.
func (s *Service) DeleteUser(ctx context.Context, actor rbac.Identity, userID string) error {
	if err := s.guard.AuthorizeTarget(ctx, actor, rbac.ReqDeleteUser, userID); err != nil {
		return err
	}
	user, err := s.repo.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	s.revokeSessions(ctx, user.ID)
	s.audit.Record(ctx, audit.Event{
		ActorID:   actor.UserID,
		Type:      audit.TypeDelete,
		Source:    rbac.SourceUser,
		Message:   fmt.Sprintf("deleted account %s", user.Email),
		SubjectID: user.ID,
	})
	return nil
}

// EditUser changes a user's name and email.
func (s *Service) EditUser(ctx context.Context, actor rbac.Identity, userID string, in EditInput) (User, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqEditUser); err != nil {
		return User{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return User{}, err
	}
	user, err := s.repo.UpdateProfile(ctx, userID, in)
	if err != nil {
		return User{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID:   actor.UserID,
		Type:      audit.TypeUpdate,
		Source:    rbac.SourceUser,
		Message:   fmt.Sprintf("edited profile of %s", user.Email),
		SubjectID: user.ID,
	})
	return user, nil
}

// GetPermissions returns the actor's own effective grants.
func (s *Service) GetPermissions(ctx context.Context, actor rbac.Identity) ([]rbac.Grant, error) {
	set, err := s.ownSet(ctx, actor)
	if err != nil {
		return nil, err
	}
	grants := set.Grants()
	if grants == nil {
		grants = []rbac.Grant{}
	}
	return grants, nil
}

// CheckPermission reports whether the actor holds action on source.
func (s *Service) CheckPermission(ctx context.Context, actor rbac.Identity, source, action string) (PermissionCheck, error) {
	src, err := rbac.ParseSource(source)
	if err != nil {
		return PermissionCheck{}, err
	}
	act, err := rbac.ParseAction(action)
	if err != nil {
		return PermissionCheck{}, err
	}
	set, err := s.ownSet(ctx, actor)
	if err != nil {
		return PermissionCheck{}, err
	}
	return PermissionCheck{Source: src, Action: act, HasPermission: set.Allows(src, act)}, nil
}

// GetAccountStatus reports whether the actor's account is still active. It
// answers for deactivated accounts too so clients can sign out.
func (s *Service) GetAccountStatus(ctx context.Context, actor rbac.Identity) (AccountStatus, error) {
	if !actor.Authenticated() {
		return AccountStatus{}, shared.ErrAuthenticationRequired
	}
	subj, err := s.resolver.Subject(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return AccountStatus{}, shared.ErrAuthenticationRequired
		}
		return AccountStatus{}, err
	}
	return AccountStatus{IsActive: subj.IsActive}, nil
}

// Me loads the actor's profile and grants concurrently.
func (s *Service) Me(ctx context.Context, actor rbac.Identity) (Profile, error) {
	subj, err := s.guard.Authenticated(ctx, actor)
	if err != nil {
		return Profile{}, err
	}
	var profile Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := s.repo.GetUser(gctx, subj.ID)
		if err != nil {
			return err
		}
		profile.User = user
		return nil
	})
	g.Go(func() error {
		set, err := s.resolver.ResolveSubject(gctx, subj)
		if err != nil {
			return err
		}
		profile.Permissions = set.Grants()
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Profile{}, shared.ErrAuthenticationRequired
		}
		return Profile{}, err
	}
	if profile.Permissions == nil {
		profile.Permissions = []rbac.Grant{}
	}
	return profile, nil
}

func (s *Service) ownSet(ctx context.Context, actor rbac.Identity) (rbac.PermissionSet, error) {
	subj, err := s.guard.Authenticated(ctx, actor)
	if err != nil {
		return rbac.PermissionSet{}, err
	}
	return s.resolver.ResolveSubject(ctx, subj)
}

func (s *Service) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.RevokeUser(ctx, userID)
	if err != nil {
		// refresh still signs the user out; the guard already refuses them
		s.logger.WarnContext(ctx, "revoke user sessions", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "user sessions revoked", slog.String("user_id", userID), slog.Int("sessions", n))
	}
}
