package auth

import (
	"context"
	"strings"
	"sync/atomic"

	"gatekeeper.org/internal/audit"
	"gatekeeper.org/internal/obs"
)

// RoleSet is the flat, process-wide role model: role name to permission
// keys. There is no role hierarchy; reload replaces the whole set.
type RoleSet map[string][]string

// Authorizer answers "is action X on resource Y allowed" for a principal.
// Denial is the default: an unmapped resource/action pair requires the
// administrative catch-all permission.
type Authorizer struct {
	roles    atomic.Value // RoleSet
	rules    map[string]string
	fallback string
	sink     *audit.Sink
}

// NewAuthorizer constructs an authorizer with the given role set and
// resource/action rule table.
func NewAuthorizer(roles RoleSet, rules map[string]string, sink *audit.Sink) *Authorizer {
	a := &Authorizer{
		rules:    rules,
		fallback: PermSystemAdmin,
		sink:     sink,
	}
	if roles == nil {
		roles = RoleSet{}
	}
	a.roles.Store(roles)
	return a
}

// ReplaceRoles atomically swaps the entire role set. Readers are never
// blocked.
func (a *Authorizer) ReplaceRoles(roles RoleSet) {
	if roles == nil {
		roles = RoleSet{}
	}
	a.roles.Store(roles)
}

// Authorize resolves the permission required for (resource, action) and
// checks whether any of the principal's roles grants it, exactly or through
// a wildcard. Returns nil when allowed, ErrPermissionDenied otherwise.
func (a *Authorizer) Authorize(ctx context.Context, p Principal, resource, action string) error {
	required := a.requiredPermission(resource, action)
	roles, _ := a.roles.Load().(RoleSet)

	for _, roleName := range p.Roles {
		for _, granted := range roles[roleName] {
			if PermissionMatches(granted, required) {
				a.decision(ctx, p, resource, action, required, true)
				return nil
			}
		}
	}
	a.decision(ctx, p, resource, action, required, false)
	return ErrPermissionDenied
}

func (a *Authorizer) requiredPermission(resource, action string) string {
	if perm, ok := a.rules[resource+":"+action]; ok {
		return perm
	}
	return a.fallback
}

// PermissionMatches reports whether a granted permission satisfies the
// required one: exact match, the bare "*", or a wildcard suffix such as
// "building:*" matching "building:read".
func PermissionMatches(granted, required string) bool {
	if granted == "" || required == "" {
		return false
	}
	if granted == required || granted == "*" {
		return true
	}
	if strings.HasSuffix(granted, ":*") {
		return strings.HasPrefix(required, strings.TrimSuffix(granted, "*"))
	}
	return false
}

func (a *Authorizer) decision(ctx context.Context, p Principal, resource, action, required string, allowed bool) {
	evtType := audit.TypePermissionDenied
	label := "denied"
	if allowed {
		evtType = audit.TypePermissionGranted
		label = "granted"
	}
	obs.AuthzDecisions.WithLabelValues(label).Inc()
	if a.sink == nil {
		return
	}
	a.sink.Record(ctx, audit.Event{
		Category: audit.CategoryAuthz,
		Type:     evtType,
		UserID:   p.UserID,
		Context: map[string]string{
			"resource":   resource,
			"action":     action,
			"permission": required,
		},
	})
}
