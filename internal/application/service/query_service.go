package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/reminder"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// ErrRequestNotFound is returned by lookups of unknown requests
var ErrRequestNotFound = errors.New("request not found")

// QueryService is the read-only query surface
type QueryService interface {
	GetRequest(ctx context.Context, id int64) (*entity.Request, error)
	GetRequestByUID(ctx context.Context, uid string) (*entity.Request, error)

	// AssignedTo lists non-terminal requests held by the actor
	AssignedTo(ctx context.Context, actorID string, filter port.RequestFilter) ([]*entity.Request, error)

	// HasActed reports whether the actor has an approval record on the request
	HasActed(ctx context.Context, requestID int64, actorID string) (bool, error)

	// History returns the request's approval records in order
	History(ctx context.Context, requestID int64) ([]*entity.ApprovalRecord, error)

	// Reminder returns the stale request to resurface to the actor, or nil
	Reminder(ctx context.Context, actorID string) (*entity.Request, error)

	// Split returns the actor's fresh and stale requests
	Split(ctx context.Context, actorID string) (*reminder.Split, error)
}

type queryServiceImpl struct {
	requests  port.RequestRepository
	approvals port.ApprovalRepository
	scheduler *reminder.Scheduler
}

// NewQueryService creates a new QueryService
func NewQueryService(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	scheduler *reminder.Scheduler,
) QueryService {
	return &queryServiceImpl{
		requests:  requests,
		approvals: approvals,
		scheduler: scheduler,
	}
}

func (s *queryServiceImpl) GetRequest(ctx context.Context, id int64) (*entity.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	return req, nil
}

func (s *queryServiceImpl) GetRequestByUID(ctx context.Context, uid string) (*entity.Request, error) {
	req, err := s.requests.GetByUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, uid)
	}
	return req, nil
}

func (s *queryServiceImpl) AssignedTo(ctx context.Context, actorID string, filter port.RequestFilter) ([]*entity.Request, error) {
	requests, err := s.requests.ListAssigned(ctx, actorID, filter)
	if err != nil {
		return nil, fmt.Errorf("list assigned requests: %w", err)
	}
	if requests == nil {
		requests = []*entity.Request{}
	}
	return requests, nil
}

func (s *queryServiceImpl) HasActed(ctx context.Context, requestID int64, actorID string) (bool, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return false, err
	}
	acted, err := s.approvals.HasActed(ctx, requestID, actorID)
	if err != nil {
		return false, fmt.Errorf("check approval history: %w", err)
	}
	return acted, nil
}

func (s *queryServiceImpl) History(ctx context.Context, requestID int64) ([]*entity.ApprovalRecord, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	records, err := s.approvals.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list approval records: %w", err)
	}
	if records == nil {
		records = []*entity.ApprovalRecord{}
	}
	return records, nil
}

func (s *queryServiceImpl) Reminder(ctx context.Context, actorID string) (*entity.Request, error) {
	return s.scheduler.Next(ctx, actorID)
}

func (s *queryServiceImpl) Split(ctx context.Context, actorID string) (*reminder.Split, error) {
	return s.scheduler.Split(ctx, actorID)
}
