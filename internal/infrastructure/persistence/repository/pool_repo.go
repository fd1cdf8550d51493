package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/sqlite"
)

// PoolRepository implements port.PoolRepository
type PoolRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *sql.DB, logger *zap.Logger) port.PoolRepository {
	return &PoolRepository{
		db:     db,
		logger: logger,
	}
}

// ListEligible returns scoped members plus scope-unbounded grants for role.
// An unbounded grant covers every scope, whatever scope type it was stored with.
func (r *PoolRepository) ListEligible(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error) {
	query := `
		SELECT id, actor_id, role, scope_type, scope_id, bound_at
		FROM pool_memberships
		WHERE role = ? AND ((scope_type = ? AND scope_id = ?) OR scope_id = '')
		ORDER BY bound_at ASC, actor_id ASC
	`
	return r.query(ctx, query, string(role), string(scope.Type), scope.ID)
}

// ListByRole returns only the members bound to this exact scope
func (r *PoolRepository) ListByRole(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error) {
	query := `
		SELECT id, actor_id, role, scope_type, scope_id, bound_at
		FROM pool_memberships
		WHERE role = ? AND scope_type = ? AND scope_id = ?
		ORDER BY actor_id ASC
	`
	return r.query(ctx, query, string(role), string(scope.Type), scope.ID)
}

// CountLoad counts non-terminal requests in scope held by actorID as role
func (r *PoolRepository) CountLoad(ctx context.Context, actorID string, role entity.Role, scope entity.Scope) (int, error) {
	column := "brand"
	if scope.Type == entity.ScopeBranch {
		column = "branch"
	}

	query := `
		SELECT COUNT(*) FROM requests
		WHERE current_assignee_id = ? AND current_assignee_role = ?
		  AND ` + column + ` = ? AND status NOT IN (?, ?)
	`
	args := append([]interface{}{actorID, string(role), scope.ID}, terminalArgs...)

	var count int
	if err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		r.logger.Error("Failed to count load", zap.String("actor_id", actorID), zap.Error(err))
		return 0, fmt.Errorf("failed to count load: %w", err)
	}
	return count, nil
}

// Add binds an actor to a pool. Re-adding an existing binding refreshes bound_at.
func (r *PoolRepository) Add(ctx context.Context, membership *entity.PoolMembership) error {
	if membership.BoundAt.IsZero() {
		membership.BoundAt = time.Now()
	}

	query := `
		INSERT INTO pool_memberships (actor_id, role, scope_type, scope_id, bound_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, role, scope_type, scope_id) DO UPDATE SET bound_at = excluded.bound_at
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		membership.ActorID,
		string(membership.Role),
		string(membership.ScopeType),
		scopeValue(membership.ScopeID),
		membership.BoundAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to add pool membership", zap.String("actor_id", membership.ActorID), zap.Error(err))
		return fmt.Errorf("failed to add pool membership: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		membership.ID = id
	}
	return nil
}

func (r *PoolRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.PoolMembership, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pool memberships", zap.Error(err))
		return nil, fmt.Errorf("failed to list pool memberships: %w", err)
	}
	defer rows.Close()

	var members []*entity.PoolMembership
	for rows.Next() {
		var m entity.PoolMembership
		var role, scopeType string
		var scopeID string
		if err := rows.Scan(&m.ID, &m.ActorID, &role, &scopeType, &scopeID, &m.BoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan pool membership: %w", err)
		}
		m.Role = entity.Role(role)
		m.ScopeType = entity.ScopeType(scopeType)
		if scopeID != "" {
			m.ScopeID = &scopeID
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func scopeValue(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
