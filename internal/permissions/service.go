package permissions

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

// RepositoryPort defines data access methods for permissions.
type RepositoryPort interface {
	List(ctx context.Context) ([]Permission, error)
	Get(ctx context.Context, id int64) (Permission, error)
	Create(ctx context.Context, n Normalized) (Permission, error)
	Update(ctx context.Context, id int64, n Normalized) (Permission, error)
	Delete(ctx context.Context, id int64) (Permission, error)
}

// Authorizer is satisfied by *rbac.Guard.
type Authorizer interface {
	Authorize(ctx context.Context, id rbac.Identity, req rbac.Requirement) error
}

// Service handles permission business logic.
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

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context, actor rbac.Identity) ([]Permission, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListPermissions); err != nil {
		return nil, err
	}
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Permission{}
	}
	return list, nil
}

// GetPermission returns one permission.
func (s *Service) GetPermission(ctx context.Context, actor rbac.Identity, id int64) (Permission, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListPermissions); err != nil {
		return Permission{}, err
	}
	return s.repo.Get(ctx, id)
}

// CreatePermission validates and stores a new permission.
func (s *Service) CreatePermission(ctx context.Context, actor rbac.Identity, in Input) (Permission, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqCreatePermission); err != nil {
		return Permission{}, err
	}
	n, err := Normalize(in)
	if err != nil {
		return Permission{}, err
	}
	p, err := s.repo.Create(ctx, n)
	if err != nil {
		return Permission{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeWrite,
		Source:  rbac.SourcePermissions,
		Message: "created permission " + describe(n),
	})
	return p, nil
}

// UpdatePermission replaces a permission's name, source and actions.
func (s *Service) UpdatePermission(ctx context.Context, actor rbac.Identity, id int64, in Input) (Permission, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqUpdatePermission); err != nil {
		return Permission{}, err
	}
	n, err := Normalize(in)
	if err != nil {
		return Permission{}, err
	}
	p, err := s.repo.Update(ctx, id, n)
	if err != nil {
		return Permission{}, err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeUpdate,
		Source:  rbac.SourcePermissions,
		Message: "updated permission " + strconv.FormatInt(id, 10) + " to " + describe(n),
	})
	return p, nil
}

// DeletePermission removes a permission. Roles holding it lose the grant.
func (s *Service) DeletePermission(ctx context.Context, actor rbac.Identity, id int64) error {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqDeletePermission); err != nil {
		return err
	}
	p, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Event{
		ActorID: actor.UserID,
		Type:    audit.TypeDelete,
		Source:  rbac.SourcePermissions,
		Message: "deleted permission " + strconv.FormatInt(id, 10) + " " + strconv.Quote(p.Name),
	})
	s.logger.InfoContext(ctx, "permission deleted", slog.Int64("permission_id", id))
	return nil
}
