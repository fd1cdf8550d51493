package entity

import "time"

// ScopeType is the kind of organisational unit a pool is bound to
type ScopeType string

const (
	ScopeBranch ScopeType = "branch"
	ScopeBrand  ScopeType = "brand"
)

// Scope identifies a branch or a brand
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id"`
}

// PoolMembership binds an actor to a role, optionally restricted to one scope.
// A nil ScopeID is a scope-unbounded grant that applies to every scope of the role;
// its ScopeType is kept only as the type it was granted under.
type PoolMembership struct {
	ID        int64     `json:"id"`
	ActorID   string    `json:"actor_id"`
	Role      Role      `json:"role"`
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   *string   `json:"scope_id,omitempty"`
	BoundAt   time.Time `json:"bound_at"`
}

// Unbounded reports whether the membership applies to every scope
func (m *PoolMembership) Unbounded() bool {
	return m.ScopeID == nil
}
