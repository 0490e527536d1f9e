package rbac

import (
	"fmt"
	"slices"
	"strings"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Source is a resource domain that permissions and audit entries are scoped to.
type Source string

const (
	SourceUser        Source = "USER"
	SourceLogs        Source = "LOGS"
	SourcePermissions Source = "PERMISSIONS"
	SourcePosts       Source = "POSTS"
	SourceRoles       Source = "ROLES"
)

// Action is an operation kind a permission grants on a source.
type Action string

const (
	ActionRead   Action = "READ"
	ActionWrite  Action = "WRITE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Sources lists every source in declaration order.
func Sources() []Source {
	return []Source{SourceUser, SourceLogs, SourcePermissions, SourcePosts, SourceRoles}
}

// Actions lists every action in declaration order.
func Actions() []Action {
	return []Action{ActionRead, ActionWrite, ActionUpdate, ActionDelete}
}

// ParseSource accepts only the exact wire value.
func ParseSource(v string) (Source, error) {
	s := Source(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown source %q", shared.ErrValidation, v)
	}
	return s, nil
}

// ParseAction accepts only the exact wire value.
func ParseAction(v string) (Action, error) {
	a := Action(v)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", shared.ErrValidation, v)
	}
	return a, nil
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return slices.Contains(Sources(), s)
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return slices.Contains(Actions(), a)
}

func (s Source) String() string { return string(s) }
func (a Action) String() string { return string(a) }

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("rbac: unknown source %q", string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("rbac: unknown action %q", string(a))
	}
	return []byte(a), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Grant is a set of actions allowed on one source.
type Grant struct {
	Source  Source   `json:"source"`
	Actions []Action `json:"actions"`
}

// Pair is a single (source, action) membership.
type Pair struct {
	Source Source `json:"source"`
	Action Action `json:"action"`
}

func (p Pair) String() string {
	return string(p.Source) + "/" + string(p.Action)
}

// PermissionSet is the flattened membership set of (source, action) pairs.
// The zero value is empty and denies everything.
type PermissionSet struct {
	pairs map[Pair]struct{}
}

// NewPermissionSet flattens grants. Unknown sources or actions are dropped.
func NewPermissionSet(grants ...Grant) PermissionSet {
	set := PermissionSet{pairs: make(map[Pair]struct{})}
	for _, g := range grants {
		if !g.Source.Valid() {
			continue
		}
		for _, a := range g.Actions {
			if !a.Valid() {
				continue
			}
			set.pairs[Pair{Source: g.Source, Action: a}] = struct{}{}
		}
	}
	return set
}

// Allows reports whether (source, action) is in the set.
func (s PermissionSet) Allows(source Source, action Action) bool {
	_, ok := s.pairs[Pair{Source: source, Action: action}]
	return ok
}

// Len returns the number of pairs.
func (s PermissionSet) Len() int {
	return len(s.pairs)
}

// Empty reports whether nothing is granted.
func (s PermissionSet) Empty() bool {
	return len(s.pairs) == 0
}

// Pairs returns the members sorted by source then action order.
func (s PermissionSet) Pairs() []Pair {
	out := make([]Pair, 0, len(s.pairs))
	for p := range s.pairs {
		out = append(out, p)
	}
	slices.SortFunc(out, comparePairs)
	return out
}

// Grants regroups the set by source, sorted the same way as Pairs.
func (s PermissionSet) Grants() []Grant {
	pairs := s.Pairs()
	grants := make([]Grant, 0)
	for _, p := range pairs {
		if n := len(grants); n > 0 && grants[n-1].Source == p.Source {
			grants[n-1].Actions = append(grants[n-1].Actions, p.Action)
			continue
		}
		grants = append(grants, Grant{Source: p.Source, Actions: []Action{p.Action}})
	}
	return grants
}

func comparePairs(a, b Pair) int {
	if c := strings.Compare(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	return slices.Index(Actions(), a.Action) - slices.Index(Actions(), b.Action)
}

// Subject is the authorization-relevant view of a user.
type Subject struct {
	ID       string `db:"id"`
	RoleID   *int64 `db:"role_id"`
	IsActive bool   `db:"is_active"`
}

// RoleWithPermissions is a role joined with its linked grants.
type RoleWithPermissions struct {
	ID     int64
	Name   string
	Grants []Grant
}

// Identity is the authenticated principal taken from a verified session.
type Identity struct {
	UserID string
}

// Authenticated reports whether the identity names a user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// IdentityFromSession returns the session's user only once the session is
// enriched. Role claims on the session are never consulted.
func IdentityFromSession(sess *shared.Session) Identity {
	if sess == nil || sess.State() != shared.StateEnriched {
		return Identity{}
	}
	return Identity{UserID: sess.User()}
}

// Requirement is the (source, action) pair an operation needs.
type Requirement struct {
	Source Source
	Action Action
}

func (r Requirement) String() string {
	return string(r.Source) + "/" + string(r.Action)
}

// Operation requirements. These are fixed by the operation, never taken from
// request input.
var (
	ReqCreateRole       = Requirement{SourceRoles, ActionWrite}
	ReqEditRole         = Requirement{SourceRoles, ActionUpdate}
	ReqDeleteRole       = Requirement{SourceRoles, ActionDelete}
	ReqListRoles        = Requirement{SourceRoles, ActionRead}
	ReqCreatePermission = Requirement{SourcePermissions, ActionWrite}
	ReqUpdatePermission = Requirement{SourcePermissions, ActionUpdate}
	ReqDeletePermission = Requirement{SourcePermissions, ActionDelete}
	ReqListPermissions  = Requirement{SourcePermissions, ActionRead}
	ReqAssignRole       = Requirement{SourceUser, ActionUpdate}
	ReqUpdateStatus     = Requirement{SourceUser, ActionUpdate}
	ReqEditUser         = Requirement{SourceUser, ActionUpdate}
	ReqDeleteUser       = Requirement{SourceUser, ActionDelete}
	ReqListUsers        = Requirement{SourceUser, ActionRead}
	ReqListLogs         = Requirement{SourceLogs, ActionRead}
	ReqDeleteLog        = Requirement{SourceLogs, ActionDelete}
)
