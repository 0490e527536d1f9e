// Package rbactest provides an in-memory rbac.Store for tests.
package rbactest

import (
	"context"
	"sync"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Store is a concurrency-safe in-memory rbac.Store.
type Store struct {
	mu    sync.RWMutex
	users map[string]rbac.Subject
	roles map[int64]rbac.RoleWithPermissions
	// Err, when set, is returned by every call.
	Err error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]rbac.Subject),
		roles: make(map[int64]rbac.RoleWithPermissions),
	}
}

// PutRole stores a role and its grants.
func (s *Store) PutRole(id int64, name string, grants ...rbac.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = rbac.RoleWithPermissions{ID: id, Name: name, Grants: grants}
}

// DeleteRole removes a role without touching users that reference it.
func (s *Store) DeleteRole(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
}

// PutUser stores a user. roleID zero means no role.
func (s *Store) PutUser(id string, roleID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subj := rbac.Subject{ID: id, IsActive: active}
	if roleID != 0 {
		r := roleID
		subj.RoleID = &r
	}
	s.users[id] = subj
}

// SetActive flips a user's active flag.
func (s *Store) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subj, ok := s.users[id]; ok {
		subj.IsActive = active
		s.users[id] = subj
	}
}

// RemoveUser deletes a user.
func (s *Store) RemoveUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// FindUser implements rbac.Store.
func (s *Store) FindUser(ctx context.Context, id string) (rbac.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return rbac.Subject{}, s.Err
	}
	subj, ok := s.users[id]
	if !ok {
		return rbac.Subject{}, shared.ErrNotFound
	}
	return subj, nil
}

// FindRoleWithPermissions implements rbac.Store.
func (s *Store) FindRoleWithPermissions(ctx context.Context, roleID int64) (rbac.RoleWithPermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return rbac.RoleWithPermissions{}, s.Err
	}
	role, ok := s.roles[roleID]
	if !ok {
		return rbac.RoleWithPermissions{}, shared.ErrNotFound
	}
	return role, nil
}
