// Package assignment picks the least-loaded eligible actor for a stage.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// ErrEmptyPool is returned when no actor is eligible for the role and scope
var ErrEmptyPool = errors.New("no eligible assignee in pool")

// Candidate is one pool member with its derived load
type Candidate struct {
	ActorID   string
	Role      entity.Role
	Load      int
	BoundAt   time.Time
	Unbounded bool
}

// Selector resolves the next assignee of a stage
type Selector struct {
	pools port.PoolRepository
}

// NewSelector creates a new Selector
func NewSelector(pools port.PoolRepository) *Selector {
	return &Selector{pools: pools}
}

// Select returns the member of role's pool for scope with the fewest non-terminal
// assignments. Ties go to the member whose most recent binding is oldest, then to
// the lexically smallest actor id.
func (s *Selector) Select(ctx context.Context, role entity.Role, scope entity.Scope) (*Candidate, error) {
	candidates, err := s.Loads(ctx, role, scope)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: role %s in %s %s", ErrEmptyPool, role, scope.Type, scope.ID)
	}
	return candidates[0], nil
}

// SelectFirst tries roles in order and returns the first non-empty pool's pick.
// Used for the operator stage, which falls back to supervisors.
func (s *Selector) SelectFirst(ctx context.Context, roles []entity.Role, scope entity.Scope) (*Candidate, error) {
	for _, role := range roles {
		candidate, err := s.Select(ctx, role, scope)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, ErrEmptyPool) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: roles %v in %s %s", ErrEmptyPool, roles, scope.Type, scope.ID)
}

// Loads returns the pool for role and scope, sorted best candidate first
func (s *Selector) Loads(ctx context.Context, role entity.Role, scope entity.Scope) ([]*Candidate, error) {
	members, err := s.pools.ListEligible(ctx, role, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list pool for %s: %w", role, err)
	}

	// An actor may hold both a scoped and an unbounded grant; keep one entry with
	// the most recent binding.
	byActor := make(map[string]*Candidate, len(members))
	for _, m := range members {
		c, ok := byActor[m.ActorID]
		if !ok {
			byActor[m.ActorID] = &Candidate{
				ActorID:   m.ActorID,
				Role:      role,
				BoundAt:   m.BoundAt,
				Unbounded: m.Unbounded(),
			}
			continue
		}
		if m.BoundAt.After(c.BoundAt) {
			c.BoundAt = m.BoundAt
		}
		c.Unbounded = c.Unbounded && m.Unbounded()
	}

	candidates := make([]*Candidate, 0, len(byActor))
	for _, c := range byActor {
		load, err := s.pools.CountLoad(ctx, c.ActorID, role, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to count load for %s: %w", c.ActorID, err)
		}
		c.Load = load
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		if !a.BoundAt.Equal(b.BoundAt) {
			return a.BoundAt.Before(b.BoundAt)
		}
		return a.ActorID < b.ActorID
	})

	return candidates, nil
}
