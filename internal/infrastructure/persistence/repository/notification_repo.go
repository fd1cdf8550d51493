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

// NotificationMessageRepository implements port.NotificationMessageRepository
type NotificationMessageRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationMessageRepository creates a new notification message repository
func NewNotificationMessageRepository(db *sql.DB, logger *zap.Logger) port.NotificationMessageRepository {
	return &NotificationMessageRepository{
		db:     db,
		logger: logger,
	}
}

// Record stores a delivered message
func (r *NotificationMessageRepository) Record(ctx context.Context, msg *entity.NotificationMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	query := `
		INSERT INTO notification_messages (kind, request_id, recipient_id, message_id, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		string(msg.Kind), msg.RequestID, msg.RecipientID, msg.MessageID, msg.SentAt.UTC())
	if err != nil {
		r.logger.Error("Failed to record notification message",
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return fmt.Errorf("failed to record notification message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// TakePrompts removes and returns the prompts sent for a request
func (r *NotificationMessageRepository) TakePrompts(ctx context.Context, requestID int64) ([]*entity.NotificationMessage, error) {
	query := `
		DELETE FROM notification_messages
		WHERE kind = ? AND request_id = ?
		RETURNING id, kind, request_id, recipient_id, message_id, sent_at
	`
	return r.take(ctx, query, string(entity.MessageKindPrompt), requestID)
}

// TakeReminders removes and returns the reminders sent to an actor
func (r *NotificationMessageRepository) TakeReminders(ctx context.Context, recipientID string) ([]*entity.NotificationMessage, error) {
	query := `
		DELETE FROM notification_messages
		WHERE kind = ? AND recipient_id = ?
		RETURNING id, kind, request_id, recipient_id, message_id, sent_at
	`
	return r.take(ctx, query, string(entity.MessageKindReminder), recipientID)
}

// take runs a DELETE ... RETURNING so two instances never retire the same message
func (r *NotificationMessageRepository) take(ctx context.Context, query string, args ...interface{}) ([]*entity.NotificationMessage, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to take notification messages: %w", err)
	}
	defer rows.Close()

	var out []*entity.NotificationMessage
	for rows.Next() {
		var m entity.NotificationMessage
		var kind string
		if err := rows.Scan(&m.ID, &kind, &m.RequestID, &m.RecipientID, &m.MessageID, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification message: %w", err)
		}
		m.Kind = entity.MessageKind(kind)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notification messages: %w", err)
	}
	return out, nil
}
