package permissions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const maxNameLength = 120

// Permission is a named grant of actions on one source.
type Permission struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Source    rbac.Source   `json:"source"`
	Actions   []rbac.Action `json:"actions"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Grant returns the permission as an rbac grant.
func (p Permission) Grant() rbac.Grant {
	return rbac.Grant{Source: p.Source, Actions: p.Actions}
}

// Input is the request body for create and update.
type Input struct {
	Name    string   `json:"name" validate:"required,max=120"`
	Source  string   `json:"source" validate:"required"`
	Actions []string `json:"actions" validate:"required,min=1,dive,required"`
}

// Normalized is a validated Input.
type Normalized struct {
	Name    string
	Source  rbac.Source
	Actions []rbac.Action
}

// Normalize validates in. Actions are de-duplicated and ordered
// READ, WRITE, UPDATE, DELETE.
func Normalize(in Input) (Normalized, error) {
	name := shared.NormalizeName(in.Name)
	if name == "" {
		return Normalized{}, fmt.Errorf("%w: name required", shared.ErrValidation)
	}
	if len([]rune(name)) > maxNameLength {
		return Normalized{}, fmt.Errorf("%w: name too long", shared.ErrValidation)
	}
	source, err := rbac.ParseSource(in.Source)
	if err != nil {
		return Normalized{}, err
	}
	if len(in.Actions) == 0 {
		return Normalized{}, fmt.Errorf("%w: at least one action required", shared.ErrValidation)
	}
	seen := make(map[rbac.Action]struct{}, len(in.Actions))
	actions := make([]rbac.Action, 0, len(in.Actions))
	for _, raw := range in.Actions {
		a, err := rbac.ParseAction(raw)
		if err != nil {
			return Normalized{}, err
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actionRank(actions[i]) < actionRank(actions[j]) })
	return Normalized{Name: name, Source: source, Actions: actions}, nil
}

func actionRank(a rbac.Action) int {
	for i, known := range rbac.Actions() {
		if known == a {
			return i
		}
	}
	return len(rbac.Actions())
}

func describe(n Normalized) string {
	return fmt.Sprintf("%q (%s: %s)", n.Name, n.Source, strings.Join(actionStrings(n.Actions), ", "))
}
