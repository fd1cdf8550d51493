package port

import (
	"context"
	"time"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
)

// RoutingUpdate carries the status and assignee written by one transition.
// A nil AssigneeID clears the assignee. UpdatedAt is the transition time; zero means now.
type RoutingUpdate struct {
	Status       string
	AssigneeID   *string
	AssigneeRole *entity.Role
	UpdatedAt    time.Time
}

// RequestFilter narrows an assigned-request listing
type RequestFilter struct {
	Statuses      []string
	OnlyUnlocked  bool
	CreatedBefore *time.Time
	CreatedAfter  *time.Time
	Limit         int
}

// RequestRepository defines persistence operations for Request
type RequestRepository interface {
	Create(ctx context.Context, request *entity.Request) error
	GetByID(ctx context.Context, id int64) (*entity.Request, error)
	GetByUID(ctx context.Context, uid string) (*entity.Request, error)

	// TryLock atomically sets the lock triple iff the request is unlocked.
	// Returns false without error when another actor holds the lock.
	TryLock(ctx context.Context, id int64, actorID string, at time.Time) (bool, error)

	// Unlock clears the lock triple unconditionally
	Unlock(ctx context.Context, id int64) error

	// UpdateRouting writes status and assignee of a locked request
	UpdateRouting(ctx context.Context, id int64, update RoutingUpdate) error

	// ResetForResubmit replaces the dataset of a reversed request and stamps request.UpdatedAt
	ResetForResubmit(ctx context.Context, request *entity.Request) error

	// ReleaseStaleLocks clears locks acquired before olderThan and returns the affected count
	ReleaseStaleLocks(ctx context.Context, olderThan time.Time) (int64, error)

	// ListAssigned returns non-terminal requests assigned to the actor, oldest first
	ListAssigned(ctx context.Context, actorID string, filter RequestFilter) ([]*entity.Request, error)

	// DistinctAssignees returns every actor currently holding a non-terminal request
	DistinctAssignees(ctx context.Context) ([]string, error)

	// SetPublishedURL fills the published reference only if it is still empty.
	// Returns false when another writer got there first.
	SetPublishedURL(ctx context.Context, id int64, url string) (bool, error)
}

// ApprovalRepository is the append-only audit trail
type ApprovalRepository interface {
	Append(ctx context.Context, record *entity.ApprovalRecord) error
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalRecord, error)
	Latest(ctx context.Context, requestID int64) (*entity.ApprovalRecord, error)
	HasActed(ctx context.Context, requestID int64, actorID string) (bool, error)
}

// PoolRepository reads assignment pools and derives loads
type PoolRepository interface {
	// ListEligible returns members bound to scope for role plus scope-unbounded grants for role
	ListEligible(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error)

	// CountLoad counts non-terminal requests in scope assigned to actorID with role
	CountLoad(ctx context.Context, actorID string, role entity.Role, scope entity.Scope) (int, error)

	ListByRole(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error)
	Add(ctx context.Context, membership *entity.PoolMembership) error
}

// ArchiveRepository stores the snapshot written at final approval
type ArchiveRepository interface {
	Save(ctx context.Context, archived *entity.ArchivedRequest) error
	GetByRequestID(ctx context.Context, requestID int64) (*entity.ArchivedRequest, error)
}

// SessionStore keeps per-actor conversational state.
// Get returns (nil, nil) when the actor has no session.
type SessionStore interface {
	Get(ctx context.Context, actorID string) (*entity.ActorSession, error)
	Put(ctx context.Context, session *entity.ActorSession) error
	Clear(ctx context.Context, actorID string) error
}

// NotificationMessageRepository remembers delivered chat messages so any
// router instance can retire them. The Take methods remove what they return.
type NotificationMessageRepository interface {
	Record(ctx context.Context, msg *entity.NotificationMessage) error
	TakePrompts(ctx context.Context, requestID int64) ([]*entity.NotificationMessage, error)
	TakeReminders(ctx context.Context, recipientID string) ([]*entity.NotificationMessage, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
