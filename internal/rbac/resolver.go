package rbac

import (
	"context"
	"errors"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Resolver expands a user's single role into the (source, action) pairs it
// grants. It is a pure read and holds no cache.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Subject fetches the user's authorization view.
func (r *Resolver) Subject(ctx context.Context, userID string) (Subject, error) {
	return r.store.FindUser(ctx, userID)
}

// Resolve returns the effective permission set of userID. Unknown users,
// users without a role and dangling role references all resolve to the
// empty set.
func (r *Resolver) Resolve(ctx context.Context, userID string) (PermissionSet, error) {
	subj, err := r.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return PermissionSet{}, nil
		}
		return PermissionSet{}, err
	}
	return r.ResolveSubject(ctx, subj)
}

// ResolveSubject expands an already loaded subject.
func (r *Resolver) ResolveSubject(ctx context.Context, subj Subject) (PermissionSet, error) {
	if subj.RoleID == nil {
		return PermissionSet{}, nil
	}
	role, err := r.store.FindRoleWithPermissions(ctx, *subj.RoleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return PermissionSet{}, nil
		}
		return PermissionSet{}, err
	}
	return NewPermissionSet(role.Grants...), nil
}

// Allows reports whether userID holds action on source.
func (r *Resolver) Allows(ctx context.Context, userID string, source Source, action Action) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Allows(source, action), nil
}

// Permissions returns the grants of userID grouped by source.
func (r *Resolver) Permissions(ctx context.Context, userID string) ([]Grant, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.Grants(), nil
}
