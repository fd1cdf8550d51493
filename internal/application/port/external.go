package port

import (
	"context"
	"io"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// Message is an outbound chat message
type Message struct {
	RecipientID string
	Text        string
}

// Transport delivers chat messages. Edit and Delete address a message by the
// id Send returned.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
	Edit(ctx context.Context, messageID string, text string) error
	Delete(ctx context.Context, messageID string) error
}

// Publisher renders a dataset to an external page and returns its reference
type Publisher interface {
	Publish(ctx context.Context, uid string, rows []entity.DatasetRow) (string, error)
}

// Archiver writes the read-only archive of a finally approved request.
// It runs inside the finalizing transaction.
type Archiver interface {
	Archive(ctx context.Context, request *entity.Request, records []*entity.ApprovalRecord) error
}

// DatasetParser reads labeled figures from an uploaded spreadsheet
type DatasetParser interface {
	Parse(ctx context.Context, r io.Reader) ([]entity.DatasetRow, error)
}
