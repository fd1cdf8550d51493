package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/sqlite"
)

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
	id, uid, kind, status, branch, brand, submitter_id,
	current_assignee_id, current_assignee_role,
	locked, locked_by, locked_at,
	dataset, total, context, published_url,
	created_at, updated_at`

// terminalArgs are bound to the "status NOT IN (?, ?)" clauses
var terminalArgs = []interface{}{
	domainwf.StateFinalApproved.String(),
	domainwf.StateRejected.String(),
}

// Create inserts a new request and sets its ID
func (r *RequestRepository) Create(ctx context.Context, request *entity.Request) error {
	dataset, err := encodeDataset(request.Dataset)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requests (
			uid, kind, status, branch, brand, submitter_id,
			current_assignee_id, current_assignee_role,
			dataset, total, context, published_url,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		request.UID,
		string(request.Kind),
		request.Status,
		request.Branch,
		request.Brand,
		request.SubmitterID,
		nullString(request.CurrentAssigneeID),
		nullRole(request.CurrentAssigneeRole),
		dataset,
		request.Total.String(),
		request.Context,
		request.PublishedURL,
		request.CreatedAt.UTC(),
		request.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("uid", request.UID), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	request.ID = id
	return nil
}

// GetByID retrieves a request by ID. Returns (nil, nil) when absent.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = ?`

	request, err := scanRequest(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return request, nil
}

// GetByUID retrieves a request by its human-facing UID
func (r *RequestRepository) GetByUID(ctx context.Context, uid string) (*entity.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE uid = ?`

	request, err := scanRequest(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, uid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request by UID", zap.String("uid", uid), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return request, nil
}

// TryLock is the conditional write of the locking protocol. It never runs
// inside the caller's transaction: the lock must be visible to other actors
// as soon as it is taken.
func (r *RequestRepository) TryLock(ctx context.Context, id int64, actorID string, at time.Time) (bool, error) {
	query := `
		UPDATE requests
		SET locked = 1, locked_by = ?, locked_at = ?
		WHERE id = ? AND locked = 0
	`

	result, err := r.db.ExecContext(ctx, query, actorID, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to lock request", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to lock request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Unlock clears the lock triple
func (r *RequestRepository) Unlock(ctx context.Context, id int64) error {
	query := `UPDATE requests SET locked = 0, locked_by = NULL, locked_at = NULL WHERE id = ?`

	if _, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to unlock request", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to unlock request: %w", err)
	}
	return nil
}

// stamp returns at in UTC, or the wall clock when the caller gave no time
func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}

// UpdateRouting writes status and assignee. Terminal requests are never touched.
func (r *RequestRepository) UpdateRouting(ctx context.Context, id int64, update port.RoutingUpdate) error {
	query := `
		UPDATE requests
		SET status = ?, current_assignee_id = ?, current_assignee_role = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`

	args := []interface{}{
		update.Status,
		nullString(update.AssigneeID),
		nullRole(update.AssigneeRole),
		stamp(update.UpdatedAt),
		id,
	}
	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, append(args, terminalArgs...)...)
	if err != nil {
		r.logger.Error("Failed to update request routing", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update request routing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("request %d not found or already terminal", id)
	}
	return nil
}

// ResetForResubmit replaces dataset, total and context
func (r *RequestRepository) ResetForResubmit(ctx context.Context, request *entity.Request) error {
	dataset, err := encodeDataset(request.Dataset)
	if err != nil {
		return err
	}

	query := `
		UPDATE requests
		SET dataset = ?, total = ?, context = ?, published_url = '', updated_at = ?
		WHERE id = ?
	`

	_, err = sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		dataset, request.Total.String(), request.Context, stamp(request.UpdatedAt), request.ID)
	if err != nil {
		r.logger.Error("Failed to reset request", zap.Int64("id", request.ID), zap.Error(err))
		return fmt.Errorf("failed to reset request: %w", err)
	}
	return nil
}

// ReleaseStaleLocks clears locks older than olderThan
func (r *RequestRepository) ReleaseStaleLocks(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE requests
		SET locked = 0, locked_by = NULL, locked_at = NULL
		WHERE locked = 1 AND locked_at < ?
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		r.logger.Error("Failed to release stale locks", zap.Error(err))
		return 0, fmt.Errorf("failed to release stale locks: %w", err)
	}
	return result.RowsAffected()
}

// ListAssigned returns non-terminal requests held by actorID, oldest first
func (r *RequestRepository) ListAssigned(ctx context.Context, actorID string, filter port.RequestFilter) ([]*entity.Request, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + requestColumns + ` FROM requests WHERE current_assignee_id = ? AND status NOT IN (?, ?)`)
	args := append([]interface{}{actorID}, terminalArgs...)

	if len(filter.Statuses) > 0 {
		sb.WriteString(` AND status IN (` + placeholders(len(filter.Statuses)) + `)`)
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.OnlyUnlocked {
		sb.WriteString(` AND locked = 0`)
	}
	if filter.CreatedBefore != nil {
		sb.WriteString(` AND created_at < ?`)
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.CreatedAfter != nil {
		sb.WriteString(` AND created_at >= ?`)
		args = append(args, filter.CreatedAfter.UTC())
	}
	sb.WriteString(` ORDER BY created_at ASC, id ASC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, sb.String(), args...)
	if err != nil {
		r.logger.Error("Failed to list assigned requests", zap.String("actor_id", actorID), zap.Error(err))
		return nil, fmt.Errorf("failed to list assigned requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// DistinctAssignees returns actors currently holding non-terminal requests
func (r *RequestRepository) DistinctAssignees(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT current_assignee_id FROM requests
		WHERE current_assignee_id IS NOT NULL AND status NOT IN (?, ?)
		ORDER BY current_assignee_id
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, terminalArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignees: %w", err)
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		actors = append(actors, actor)
	}
	return actors, rows.Err()
}

// SetPublishedURL fills published_url only while it is empty
func (r *RequestRepository) SetPublishedURL(ctx context.Context, id int64, url string) (bool, error) {
	query := `UPDATE requests SET published_url = ? WHERE id = ? AND published_url = ''`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, url, id)
	if err != nil {
		r.logger.Error("Failed to cache published URL", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to set published url: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.Request, error) {
	var request entity.Request
	var kind, dataset, total string
	var assigneeID, assigneeRole, lockedBy sql.NullString
	var lockedAt sql.NullTime

	err := row.Scan(
		&request.ID,
		&request.UID,
		&kind,
		&request.Status,
		&request.Branch,
		&request.Brand,
		&request.SubmitterID,
		&assigneeID,
		&assigneeRole,
		&request.Locked,
		&lockedBy,
		&lockedAt,
		&dataset,
		&total,
		&request.Context,
		&request.PublishedURL,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	request.Kind = entity.Kind(kind)
	if assigneeID.Valid {
		request.CurrentAssigneeID = &assigneeID.String
	}
	if assigneeRole.Valid {
		role := entity.Role(assigneeRole.String)
		request.CurrentAssigneeRole = &role
	}
	if lockedBy.Valid {
		request.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		request.LockedAt = &lockedAt.Time
	}

	if err := json.Unmarshal([]byte(dataset), &request.Dataset); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	if request.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to decode total: %w", err)
	}

	return &request, nil
}

func encodeDataset(rows []entity.DatasetRow) (string, error) {
	if rows == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode dataset: %w", err)
	}
	return string(raw), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullRole(r *entity.Role) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
