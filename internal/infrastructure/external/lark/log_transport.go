package lark

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
)

// LogTransport writes messages to the log instead of Lark.
// Used when no Lark credentials are configured.
type LogTransport struct {
	logger *zap.Logger
	sent   atomic.Int64
}

// NewLogTransport creates a logging transport
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg port.Message) (string, error) {
	id := "log-" + uuid.NewString()
	t.sent.Add(1)
	t.logger.Info("Message (not delivered)",
		zap.String("message_id", id),
		zap.String("recipient_id", msg.RecipientID),
		zap.String("text", msg.Text))
	return id, nil
}

func (t *LogTransport) Edit(ctx context.Context, messageID string, text string) error {
	t.logger.Info("Message edit (not delivered)", zap.String("message_id", messageID), zap.String("text", text))
	return nil
}

func (t *LogTransport) Delete(ctx context.Context, messageID string) error {
	t.logger.Info("Message delete (not delivered)", zap.String("message_id", messageID))
	return nil
}

// Sent returns how many messages were logged
func (t *LogTransport) Sent() int64 {
	return t.sent.Load()
}

var _ port.Transport = (*LogTransport)(nil)
