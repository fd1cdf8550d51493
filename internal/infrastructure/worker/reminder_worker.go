package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/reminder"
	"github.com/garyjia/debt-clearance/internal/domain/event"
)

// ReminderWorkerConfig holds configuration for the reminder worker
type ReminderWorkerConfig struct {
	Interval time.Duration

	// Repeat is the minimum gap before the same request is resurfaced to the same actor again
	Repeat time.Duration
}

// DefaultReminderWorkerConfig returns default configuration
func DefaultReminderWorkerConfig() ReminderWorkerConfig {
	return ReminderWorkerConfig{
		Interval: time.Minute,
		Repeat:   30 * time.Minute,
	}
}

type reminded struct {
	requestID int64
	at        time.Time
}

// ReminderWorker periodically resurfaces one stale request per actor.
// It reads the request store and emits events; it never writes requests.
type ReminderWorker struct {
	*poller
	config     ReminderWorkerConfig
	requests   port.RequestRepository
	scheduler  *reminder.Scheduler
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	last map[string]reminded
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(
	config ReminderWorkerConfig,
	requests port.RequestRepository,
	scheduler *reminder.Scheduler,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
) *ReminderWorker {
	w := &ReminderWorker{
		config:     config,
		requests:   requests,
		scheduler:  scheduler,
		dispatcher: d,
		logger:     logger,
		now:        time.Now,
		last:       make(map[string]reminded),
	}
	w.poller = newPoller("ReminderWorker", config.Interval, w.RunOnce, logger)
	return w
}

// RunOnce emits at most one reminder per actor with assigned requests
func (w *ReminderWorker) RunOnce(ctx context.Context) error {
	actors, err := w.requests.DistinctAssignees(ctx)
	if err != nil {
		return fmt.Errorf("list assignees: %w", err)
	}

	sent := 0
	for _, actor := range actors {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		next, err := w.scheduler.Next(ctx, actor)
		if err != nil {
			w.logger.Error("Failed to pick reminder", zap.String("actor_id", actor), zap.Error(err))
			continue
		}
		if next == nil || !w.due(actor, next.ID) {
			continue
		}

		w.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeRequestReminder, next.ID, next.UID, map[string]interface{}{
			event.PayloadRecipientID: actor,
			event.PayloadNewStatus:   next.Status,
		}))
		sent++
	}

	if sent > 0 {
		w.logger.Info("Reminders emitted", zap.Int("count", sent), zap.Int("actors", len(actors)))
	}
	return nil
}

// due records the reminder when the actor has not seen this request recently
func (w *ReminderWorker) due(actor string, requestID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if prev, ok := w.last[actor]; ok && prev.requestID == requestID && now.Sub(prev.at) < w.config.Repeat {
		return false
	}
	w.last[actor] = reminded{requestID: requestID, at: now}
	return true
}
