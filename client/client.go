// Package client talks to the admin console API on behalf of one signed-in
// session and keeps that session's permission cache current.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Client wraps interactions with the console API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *PermissionCache

	mu   sync.Mutex
	csrf string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Jar carries the
// session cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a new client with its own cookie jar.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = NewPermissionCache(c)
	return c, nil
}

// Cache returns the permission cache bound to this client's session.
func (c *Client) Cache() *PermissionCache {
	return c.cache
}

// APIError is a problem response from the server.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("console api: %d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("console api: %d %s", e.Status, e.Title)
}

// Unwrap maps the status onto the shared error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return shared.ErrAuthenticationRequired
	case http.StatusForbidden:
		if e.Title == "Self Action Forbidden" {
			return shared.ErrSelfActionForbidden
		}
		if e.Detail == shared.ErrAccessDenied.Error() {
			return shared.ErrAccessDenied
		}
		return shared.ErrAuthorizationDenied
	case http.StatusNotFound:
		return shared.ErrNotFound
	case http.StatusConflict:
		return shared.ErrConflict
	case http.StatusBadRequest:
		return shared.ErrValidation
	case http.StatusServiceUnavailable:
		return shared.ErrTransientStore
	}
	return nil
}

// SessionInfo mirrors GET /auth/session.
type SessionInfo struct {
	State     string `json:"state"`
	UserID    string `json:"user_id"`
	RoleID    *int64 `json:"role_id"`
	IsActive  bool   `json:"is_active"`
	CSRFToken string `json:"csrf_token"`
}

// Permission mirrors a permission resource.
type Permission struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Source  rbac.Source   `json:"source"`
	Actions []rbac.Action `json:"actions"`
}

// PermissionInput creates or updates a permission.
type PermissionInput struct {
	Name    string        `json:"name"`
	Source  rbac.Source   `json:"source"`
	Actions []rbac.Action `json:"actions"`
}

// Role mirrors a role resource.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
	UserCount   int          `json:"user_count"`
}

// RoleInput creates or edits a role. PermissionIDs is the full set.
type RoleInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// User mirrors a user resource.
type User struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	IsActive bool    `json:"is_active"`
	RoleID   *int64  `json:"role_id"`
	RoleName *string `json:"role_name"`
}

// Session fetches the session view and remembers its CSRF token.
func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &info); err != nil {
		return SessionInfo{}, err
	}
	c.mu.Lock()
	c.csrf = info.CSRFToken
	c.mu.Unlock()
	return info, nil
}

// Permissions implements PermissionFetcher against GET /me/permissions.
func (c *Client) Permissions(ctx context.Context) ([]rbac.Grant, error) {
	var grants []rbac.Grant
	if err := c.do(ctx, http.MethodGet, "/me/permissions", nil, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// AccountActive reports whether the signed-in account is still active.
func (c *Client) AccountActive(ctx context.Context) (bool, error) {
	var status struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/status", nil, &status); err != nil {
		return false, err
	}
	return status.IsActive, nil
}

// CheckPermission asks the server for a single decision.
func (c *Client) CheckPermission(ctx context.Context, source rbac.Source, action rbac.Action) (bool, error) {
	q := url.Values{"source": {string(source)}, "action": {string(action)}}
	var out struct {
		HasPermission bool `json:"has_permission"`
	}
	if err := c.do(ctx, http.MethodGet, "/me/check?"+q.Encode(), nil, &out); err != nil {
		return false, err
	}
	return out.HasPermission, nil
}

// Logout ends the session and drops cached permissions.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.cache.Reset()
	c.mu.Lock()
	c.csrf = ""
	c.mu.Unlock()
	return nil
}

// CreateRole creates a role.
func (c *Client) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	var out Role
	err := c.mutate(ctx, http.MethodPost, "/roles/", in, &out)
	return out, err
}

// EditRole updates a role and replaces its permissions.
func (c *Client) EditRole(ctx context.Context, id int64, in RoleInput) (Role, error) {
	var out Role
	err := c.mutate(ctx, http.MethodPut, fmt.Sprintf("/roles/%d", id), in, &out)
	return out, err
}

// DeleteRole deletes a role.
func (c *Client) DeleteRole(ctx context.Context, id int64) error {
	return c.mutate(ctx, http.MethodDelete, fmt.Sprintf("/roles/%d", id), nil, nil)
}

// ListRoles lists roles with their permissions.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	err := c.do(ctx, http.MethodGet, "/roles/", nil, &out)
	return out, err
}

// CreatePermission creates a permission.
func (c *Client) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	var out Permission
	err := c.mutate(ctx, http.MethodPost, "/permissions/", in, &out)
	return out, err
}

// UpdatePermission updates a permission.
func (c *Client) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	var out Permission
	err := c.mutate(ctx, http.MethodPut, fmt.Sprintf("/permissions/%d", id), in, &out)
	return out, err
}

// DeletePermission deletes a permission.
func (c *Client) DeletePermission(ctx context.Context, id int64) error {
	return c.mutate(ctx, http.MethodDelete, fmt.Sprintf("/permissions/%d", id), nil, nil)
}

// AssignRole assigns roleID to the user.
func (c *Client) AssignRole(ctx context.Context, userID string, roleID int64) (User, error) {
	var out User
	body := map[string]int64{"role_id": roleID}
	err := c.mutate(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/role", body, &out)
	return out, err
}

// UpdateAccountStatus activates or deactivates the user.
func (c *Client) UpdateAccountStatus(ctx context.Context, userID string, active bool) (User, error) {
	var out User
	body := map[string]bool{"is_active": active}
	err := c.mutate(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/status", body, &out)
	return out, err
}

// EditUser changes a user's name and email.
func (c *Client) EditUser(ctx context.Context, userID, name, email string) (User, error) {
	var out User
	body := map[string]string{"name": name, "email": email}
	err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID), body, &out)
	return out, err
}

// DeleteUser deletes the user.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.mutate(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil, nil)
}

// mutate performs a change that can alter effective permissions and then
// refetches the permission set. The change has committed once do returns, so
// a failed refetch is left on Cache().Err() instead of failing the call.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	if err := c.do(ctx, method, path, body, out); err != nil {
		return err
	}
	_ = c.cache.Invalidate(ctx)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		c.mu.Lock()
		token := c.csrf
		c.mu.Unlock()
		if token != "" {
			req.Header.Set(shared.CSRFHeader, token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("console api: decode %s %s: %w", method, path, err)
	}
	return nil
}
