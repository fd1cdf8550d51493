package excel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// Publisher renders a dataset to a workbook in file storage and returns the
// URL it is served under
type Publisher struct {
	storage port.FileStorage
	baseURL string
	logger  *zap.Logger
}

// NewPublisher creates a publisher. baseURL is the public prefix of the storage directory.
func NewPublisher(storage port.FileStorage, baseURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		storage: storage,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Publish implements port.Publisher
func (p *Publisher) Publish(ctx context.Context, uid string, rows []entity.DatasetRow) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("uid cannot be empty")
	}

	file, err := newDatasetWorkbook(rows)
	if err != nil {
		return "", err
	}
	defer file.Close()

	content, err := toBytes(file)
	if err != nil {
		return "", err
	}

	name := uid + ".xlsx"
	if err := p.storage.Save(ctx, name, content); err != nil {
		return "", fmt.Errorf("failed to store published workbook: %w", err)
	}

	url := p.baseURL + "/" + name
	p.logger.Info("Dataset published",
		zap.String("uid", uid),
		zap.Int("rows", len(rows)),
		zap.String("url", url))
	return url, nil
}

var _ port.Publisher = (*Publisher)(nil)
