package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// ErrNothingToPublish is returned for requests without a dataset
var ErrNothingToPublish = errors.New("request has no dataset to publish")

// PublishingConfig tunes the retry around the publisher
type PublishingConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// PublishingService returns the durable reference of a request's long-form dataset
type PublishingService interface {
	// Reference returns the cached reference or publishes the dataset once and caches it
	Reference(ctx context.Context, request *entity.Request) (string, error)
}

type publishingServiceImpl struct {
	requests  port.RequestRepository
	publisher port.Publisher
	cfg       PublishingConfig
	logger    Logger
}

// NewPublishingService creates a new PublishingService
func NewPublishingService(
	requests port.RequestRepository,
	publisher port.Publisher,
	cfg PublishingConfig,
	logger Logger,
) PublishingService {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return &publishingServiceImpl{
		requests:  requests,
		publisher: publisher,
		cfg:       cfg,
		logger:    orNop(logger),
	}
}

// Reference implements PublishingService
func (s *publishingServiceImpl) Reference(ctx context.Context, request *entity.Request) (string, error) {
	if request.PublishedURL != "" {
		return request.PublishedURL, nil
	}
	if len(request.Dataset) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNothingToPublish, request.UID)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval

	url, err := backoff.Retry(ctx, func() (string, error) {
		return s.publisher.Publish(ctx, request.UID, request.Dataset)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Info("Publish attempt failed, retrying", "uid", request.UID, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		s.logger.Error("Failed to publish dataset", "uid", request.UID, "error", err)
		return "", fmt.Errorf("publish dataset: %w", err)
	}

	stored, err := s.requests.SetPublishedURL(ctx, request.ID, url)
	if err != nil {
		return "", fmt.Errorf("cache published url: %w", err)
	}
	if !stored {
		// Someone published concurrently; their reference wins
		current, err := s.requests.GetByID(ctx, request.ID)
		if err != nil {
			return "", fmt.Errorf("reload request: %w", err)
		}
		if current != nil && current.PublishedURL != "" {
			url = current.PublishedURL
		}
	}

	request.PublishedURL = url
	s.logger.Info("Dataset published", "uid", request.UID, "url", url)
	return url, nil
}
