package workflow

import (
	"context"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

type actorRoleKey struct{}

// WithActorRole stores the acting role in ctx so role guards can evaluate it
func WithActorRole(ctx context.Context, role entity.Role) context.Context {
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// ActorRole returns the acting role stored in ctx, if any
func ActorRole(ctx context.Context) (entity.Role, bool) {
	role, ok := ctx.Value(actorRoleKey{}).(entity.Role)
	return role, ok
}

// RoleIs returns a guard that passes when the acting role is one of roles
func RoleIs(roles ...entity.Role) GuardFunc {
	return func(ctx context.Context) bool {
		actual, ok := ActorRole(ctx)
		if !ok {
			return false
		}
		for _, r := range roles {
			if r == actual {
				return true
			}
		}
		return false
	}
}
