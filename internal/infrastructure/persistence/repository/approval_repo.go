package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/sqlite"
)

// ApprovalRepository implements port.ApprovalRepository.
// The table rejects UPDATE and DELETE through triggers.
type ApprovalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval record repository
func NewApprovalRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, request_id, actor_id, role, decision, previous_status, new_status, detail, created_at`

// Append inserts a record and sets its ID
func (r *ApprovalRepository) Append(ctx context.Context, record *entity.ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (
			request_id, actor_id, role, decision, previous_status, new_status, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	detail := string(record.Detail)
	if detail == "" {
		detail = "{}"
	}

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		record.RequestID,
		record.ActorID,
		string(record.Role),
		string(record.Decision),
		record.PreviousStatus,
		record.NewStatus,
		detail,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append approval record",
			zap.Int64("request_id", record.RequestID),
			zap.String("actor_id", record.ActorID),
			zap.Error(err))
		return fmt.Errorf("failed to append approval record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// ListByRequest returns the request's records in chronological order
func (r *ApprovalRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_records WHERE request_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list approval records", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	defer rows.Close()

	var records []*entity.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Latest returns the most recent record, or (nil, nil) for a request without history
func (r *ApprovalRepository) Latest(ctx context.Context, requestID int64) (*entity.ApprovalRecord, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_records WHERE request_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`

	record, err := scanApproval(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest approval record: %w", err)
	}
	return record, nil
}

// HasActed reports whether actorID has any record on the request
func (r *ApprovalRepository) HasActed(ctx context.Context, requestID int64, actorID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM approval_records WHERE request_id = ? AND actor_id = ?)`

	var exists bool
	if err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, requestID, actorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check approval history: %w", err)
	}
	return exists, nil
}

func scanApproval(row rowScanner) (*entity.ApprovalRecord, error) {
	var record entity.ApprovalRecord
	var role, decision, detail string

	err := row.Scan(
		&record.ID,
		&record.RequestID,
		&record.ActorID,
		&role,
		&decision,
		&record.PreviousStatus,
		&record.NewStatus,
		&detail,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Role = entity.Role(role)
	record.Decision = entity.Decision(decision)
	record.Detail = []byte(detail)
	return &record, nil
}
