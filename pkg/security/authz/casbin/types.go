// Package casbin hosts the policy engine: a Casbin enforcer persisted through
// GORM, wrapped by a PermissionService that reports every successful mutation
// to a watcher.Watcher.
package casbin

import (
	"context"
	"strings"

	"github.com/kart-io/policy-watcher/pkg/security/authz/watcher"
)

// Policy sections of a Casbin model.
const (
	SectionPolicy   = "p"
	SectionGrouping = "g"
)

// DefaultModel is the RBAC model used when no model file is configured.
const DefaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// SectionOf returns the model section a policy type belongs to. Grouping
// types (g, g2, ...) live in "g"; everything else in "p".
func SectionOf(ptype string) string {
	if strings.HasPrefix(ptype, SectionGrouping) {
		return SectionGrouping
	}
	return SectionPolicy
}

// PermissionService is the mutation surface of the policy engine.
// Every method that changes policy state emits exactly one event to the
// installed watcher, and only when the state actually changed. Events reach
// the watcher in the order the changes were committed. The ctx of a mutation
// carries trace state to the watcher; it never cancels the mutation.
type PermissionService interface {
	// Enforce checks if a "subject" can access an "object" with an "action".
	Enforce(sub, obj, act string) (bool, error)

	AddPolicy(ctx context.Context, ptype string, rule ...string) (bool, error)
	AddPolicies(ctx context.Context, ptype string, rules [][]string) (bool, error)
	RemovePolicy(ctx context.Context, ptype string, rule ...string) (bool, error)
	RemovePolicies(ctx context.Context, ptype string, rules [][]string) (bool, error)
	RemoveFilteredPolicy(ctx context.Context, ptype string, fieldIndex int, fieldValues ...string) (bool, error)

	// AddGroupingPolicy adds a role inheritance rule (user -> role).
	AddGroupingPolicy(ctx context.Context, user, role string) (bool, error)
	// RemoveGroupingPolicy removes a role inheritance rule.
	RemoveGroupingPolicy(ctx context.Context, user, role string) (bool, error)

	// LoadPolicy reloads policies from storage without emitting an event.
	LoadPolicy() error
	// SavePolicy persists the in-memory policy and emits a snapshot of it.
	SavePolicy(ctx context.Context) error
	// ClearPolicy drops every rule held in memory.
	ClearPolicy(ctx context.Context)
	// ClearCache drops every cached decision.
	ClearCache(ctx context.Context)

	// Policies returns every rule, each row prefixed with its ptype.
	Policies() ([][]string, error)

	// SetWatcher sets the watcher that observes mutations.
	SetWatcher(w watcher.Watcher)
	// ApplyPeerPayload brings local state in line with a payload published
	// by another instance. It never emits an event.
	ApplyPeerPayload(payload string) error
}
