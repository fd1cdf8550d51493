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

// SessionRepository implements port.SessionStore on the actor_sessions table
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) port.SessionStore {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the actor's session or (nil, nil)
func (r *SessionRepository) Get(ctx context.Context, actorID string) (*entity.ActorSession, error) {
	query := `SELECT actor_id, context, state, payload, updated_at FROM actor_sessions WHERE actor_id = ?`

	var s entity.ActorSession
	var payload sql.NullString
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, actorID).Scan(
		&s.ActorID, &s.Context, &s.State, &payload, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if payload.Valid {
		s.Payload = []byte(payload.String)
	}
	return &s, nil
}

// Put upserts the actor's session
func (r *SessionRepository) Put(ctx context.Context, session *entity.ActorSession) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO actor_sessions (actor_id, context, state, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET
			context = excluded.context,
			state = excluded.state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	var payload sql.NullString
	if len(session.Payload) > 0 {
		payload = sql.NullString{String: string(session.Payload), Valid: true}
	}

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		session.ActorID, session.Context, session.State, payload, session.UpdatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to store session", zap.String("actor_id", session.ActorID), zap.Error(err))
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Clear removes the actor's session; clearing a missing session is not an error
func (r *SessionRepository) Clear(ctx context.Context, actorID string) error {
	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, `DELETE FROM actor_sessions WHERE actor_id = ?`, actorID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
