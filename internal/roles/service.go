package roles

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, in Input) (Role, error)
	UpdateRole(ctx context.Context, id int64, in Input) (Role, error)
	DeleteRole(ctx context.Context, id int64) (Role, error)
}

// Authorizer is satisfied by *rbac.Guard.
type Authorizer interface {
	Authorize(ctx context.Context, id rbac.Identity, req rbac.Requirement) error
}

// Service handles role business logic.
type Service struct {
	repo   RepositoryPort
	guard  Authorizer
	audit  audit.Recorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, guard Authorizer, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, audit: recorder, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context, actor rbac.Identity) ([]Role, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListRoles); err != nil {
		return nil, err
	}
	list, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Role{}
	}
	return list, nil
}

// GetRole returns one role with its permissions.
func (s *Service) GetRole(ctx context.Context, actor rbac.Identity, id int64) (Role, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListRoles); err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

// CreateRole stores a role linked to the given permissions.
func (s *Service) CreateRole(ctx context.Context, actor rbac.Identity, in Input) (Role, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqCreateRole); err != nil {
		return Role{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.CreateRole(ctx, in)
	if err != nil {
		return Role{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeWrite,
		Source:  rbac.SourceRoles,
		Message: fmt.Sprintf("created role %q with %d permission(s)", role.Name, len(role.Permissions)),
	})
	return role, nil
}

// EditRole updates a role and replaces its permission set.
func (s *Service) EditRole(ctx context.Context, actor rbac.Identity, id int64, in Input) (Role, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqEditRole); err != nil {
		return Role{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return Role{}, err
	}
	role, err := s.repo.UpdateRole(ctx, id, in)
	if err != nil {
		return Role{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeUpdate,
		Source:  rbac.SourceRoles,
		Message: fmt.Sprintf("edited role %d %q, now %d permission(s)", role.ID, role.Name, len(role.Permissions)),
	})
	return role, nil
}

// DeleteRole removes a role that no user holds.
func (s *Service) DeleteRole(ctx context.Context, actor rbac.Identity, id int64) error {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqDeleteRole); err != nil {
		return err
	}
	role, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeDelete,
		Source:  rbac.SourceRoles,
		Message: fmt.Sprintf("deleted role %d %q", role.ID, role.Name),
	})
	s.logger.InfoContext(ctx, "role deleted", slog.Int64("role_id", id))
	return nil
}
