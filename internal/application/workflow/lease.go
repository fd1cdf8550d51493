package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/debt-clearance/internal/application/port"
)

// lease is a held request lock. Release is safe to defer: once the unlock has
// been committed with the transition it does nothing, otherwise it issues a
// compensating unlock.
type lease struct {
	requests  port.RequestRepository
	requestID int64
	actorID   string
	logger    Logger
	committed bool
}

// acquireLease performs the conditional lock write
func acquireLease(ctx context.Context, requests port.RequestRepository, requestID int64, actorID string, at time.Time, logger Logger) (*lease, error) {
	ok, err := requests.TryLock(ctx, requestID, actorID, at)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock request %d: %w", ErrPersistence, requestID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %d", ErrAlreadyInProgress, requestID)
	}
	return &lease{
		requests:  requests,
		requestID: requestID,
		actorID:   actorID,
		logger:    logger,
	}, nil
}

// unlockInTx clears the lock as part of the transition's transaction
func (l *lease) unlockInTx(txCtx context.Context) error {
	if err := l.requests.Unlock(txCtx, l.requestID); err != nil {
		return fmt.Errorf("failed to unlock request: %w", err)
	}
	return nil
}

// markCommitted records that the transaction holding the unlock committed
func (l *lease) markCommitted() {
	l.committed = true
}

// Release issues the compensating unlock when the transition did not commit.
// It uses a context detached from cancellation so an aborted caller still frees the request.
func (l *lease) Release(ctx context.Context) {
	if l.committed {
		return
	}
	if err := l.requests.Unlock(context.WithoutCancel(ctx), l.requestID); err != nil {
		l.logger.Error("Failed to release request lock, sweeper will reclaim it",
			"request_id", l.requestID,
			"actor_id", l.actorID,
			"error", err,
		)
		return
	}
	l.logger.Info("Released request lock after aborted transition",
		"request_id", l.requestID,
		"actor_id", l.actorID,
	)
}
