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

// ArchiveRepository implements port.ArchiveRepository
type ArchiveRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *sql.DB, logger *zap.Logger) port.ArchiveRepository {
	return &ArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// Save writes the snapshot. A second save for the same request fails on the primary key.
func (r *ArchiveRepository) Save(ctx context.Context, archived *entity.ArchivedRequest) error {
	query := `INSERT INTO request_archive (request_id, uid, snapshot, archived_at) VALUES (?, ?, ?, ?)`

	_, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		archived.RequestID, archived.UID, string(archived.Snapshot), archived.ArchivedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to archive request", zap.String("uid", archived.UID), zap.Error(err))
		return fmt.Errorf("failed to archive request: %w", err)
	}
	return nil
}

// GetByRequestID returns the archive snapshot or (nil, nil)
func (r *ArchiveRepository) GetByRequestID(ctx context.Context, requestID int64) (*entity.ArchivedRequest, error) {
	query := `SELECT request_id, uid, snapshot, archived_at FROM request_archive WHERE request_id = ?`

	var a entity.ArchivedRequest
	var snapshot string
	err := sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, requestID).Scan(&a.RequestID, &a.UID, &snapshot, &a.ArchivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	a.Snapshot = []byte(snapshot)
	return &a, nil
}
