package scope

import (
	"context"
	"errors"
	"fmt"

	"duetrack.org/internal/auth"
)

// ErrAuthorization indicates a scope or capability violation. It is always
// surfaced to the caller, never downgraded to an empty result.
var ErrAuthorization = errors.New("scope: authorization denied")

// Action identifies an operation subject to capability checks.
type Action string

const (
	ActionViewEntities     Action = "entities.view"
	ActionCreateEntity     Action = "entities.create"
	ActionUpdateEntity     Action = "entities.update"
	ActionDeleteEntity     Action = "entities.delete"
	ActionViewAlerts       Action = "alerts.view"
	ActionAcknowledgeAlert Action = "alerts.acknowledge"
	ActionTriggerScan      Action = "scan.trigger"
)

// capabilities is the single declarative (role, action) -> allow table.
// Every read filter and write authorization consults this table; there are
// no per-endpoint role checks anywhere else.
var capabilities = map[auth.Role]map[Action]bool{
	auth.RoleAdmin: {
		ActionViewEntities:     true,
		ActionCreateEntity:     true,
		ActionUpdateEntity:     true,
		ActionDeleteEntity:     true,
		ActionViewAlerts:       true,
		ActionAcknowledgeAlert: true,
		ActionTriggerScan:      true,
	},
	auth.RoleManager: {
		ActionViewEntities:     true,
		ActionCreateEntity:     true,
		ActionUpdateEntity:     true,
		ActionDeleteEntity:     true,
		ActionViewAlerts:       true,
		ActionAcknowledgeAlert: true,
	},
	auth.RoleUser: {
		ActionViewEntities:     true,
		ActionCreateEntity:     true,
		ActionUpdateEntity:     true,
		ActionViewAlerts:       true,
		ActionAcknowledgeAlert: true,
	},
	auth.RoleViewer: {
		ActionViewEntities: true,
		ActionViewAlerts:   true,
	},
}

// Scope is the per-request authorization decision input: the visible firm
// set plus the role's capability row. It is derived fresh from the current
// user record on every request and never cached across requests.
type Scope struct {
	role  auth.Role
	all   bool
	firms map[string]struct{}
}

// Resolve computes the scope for a user. Admins and plain users see every
// firm (the latter restricted by capabilities, not visibility); managers and
// viewers see their assigned set.
func Resolve(u *auth.User) (Scope, error) {
	if u == nil {
		return Scope{}, fmt.Errorf("%w: no user", ErrAuthorization)
	}
	role, err := auth.ParseRole(string(u.Role))
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrAuthorization, err)
	}
	sc := Scope{role: role, firms: make(map[string]struct{})}
	switch role {
	case auth.RoleAdmin, auth.RoleUser:
		sc.all = true
	default:
		sc.all = u.FirmAccess.All
		for _, id := range u.FirmAccess.Firms {
			sc.firms[id] = struct{}{}
		}
	}
	return sc, nil
}

// Role returns the role the scope was derived from.
func (s Scope) Role() auth.Role { return s.role }

// Can consults the capability matrix for the scope's role.
func (s Scope) Can(a Action) bool {
	return capabilities[s.role][a]
}

// AllowsFirm reports whether the firm is inside the visible set.
func (s Scope) AllowsFirm(firmID string) bool {
	if s.all {
		return true
	}
	_, ok := s.firms[firmID]
	return ok
}

// Apply intersects the caller-supplied firm filter with the scope. A
// requested firm outside the scope is never honored. The returned slice is
// the effective filter; all=true means unrestricted. An empty slice with
// all=false matches nothing.
func (s Scope) Apply(requested []string) (firms []string, all bool) {
	if len(requested) == 0 {
		if s.all {
			return nil, true
		}
		firms = make([]string, 0, len(s.firms))
		for id := range s.firms {
			firms = append(firms, id)
		}
		return firms, false
	}
	firms = make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if s.AllowsFirm(id) {
			firms = append(firms, id)
		}
	}
	return firms, false
}

// Authorize gates a mutation: the action must be in the role's capability
// row and the target firm inside the visible set.
func (s Scope) Authorize(a Action, targetFirmID string) error {
	if !s.Can(a) {
		return fmt.Errorf("%w: role %s may not %s", ErrAuthorization, s.role, a)
	}
	if targetFirmID != "" && !s.AllowsFirm(targetFirmID) {
		return fmt.Errorf("%w: firm %s outside scope", ErrAuthorization, targetFirmID)
	}
	return nil
}

type scopeContextKey struct{}

// ContextWithScope attaches a resolved scope to the request context.
func ContextWithScope(ctx context.Context, sc Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, &sc)
}

// FromContext extracts the scope resolved for the current request.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	v, ok := ctx.Value(scopeContextKey{}).(*Scope)
	if !ok || v == nil {
		return Scope{}, false
	}
	return *v, true
}
