package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
)

// DefaultFreshThreshold is how long a request counts as fresh after creation
const DefaultFreshThreshold = 5 * time.Minute

// Split partitions an actor's open requests by age
type Split struct {
	Fresh []*entity.Request `json:"fresh"`
	Stale []*entity.Request `json:"stale"`
}

// Scheduler decides which stale request to resurface to an actor.
// It only reads the request store.
type Scheduler struct {
	requests  port.RequestRepository
	threshold time.Duration
	now       func() time.Time
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithThreshold sets the fresh/stale boundary
func WithThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a reminder scheduler
func NewScheduler(requests port.RequestRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		requests:  requests,
		threshold: DefaultFreshThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the configured fresh/stale boundary
func (s *Scheduler) Threshold() time.Duration {
	return s.threshold
}

// Split returns the actor's non-terminal requests, fresh and stale, each oldest first
func (s *Scheduler) Split(ctx context.Context, actorID string) (*Split, error) {
	requests, err := s.open(ctx, actorID)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.threshold)
	split := &Split{
		Fresh: []*entity.Request{},
		Stale: []*entity.Request{},
	}
	for _, r := range requests {
		if r.CreatedAt.After(cutoff) {
			split.Fresh = append(split.Fresh, r)
		} else {
			split.Stale = append(split.Stale, r)
		}
	}
	return split, nil
}

// Next returns the single stale request to resurface, or nil when there is none.
// Locked requests are skipped since someone is already acting on them.
func (s *Scheduler) Next(ctx context.Context, actorID string) (*entity.Request, error) {
	split, err := s.Split(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for _, r := range split.Stale {
		if !r.Locked {
			return r, nil
		}
	}
	return nil, nil
}

func (s *Scheduler) open(ctx context.Context, actorID string) ([]*entity.Request, error) {
	states := domainwf.NonTerminalStates()
	statuses := make([]string, 0, len(states))
	for _, st := range states {
		statuses = append(statuses, st.String())
	}

	requests, err := s.requests.ListAssigned(ctx, actorID, port.RequestFilter{Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("failed to list requests assigned to %s: %w", actorID, err)
	}

	sort.SliceStable(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.Before(requests[j].CreatedAt)
		}
		return requests[i].ID < requests[j].ID
	})
	return requests, nil
}
