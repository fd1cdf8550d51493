// Package memory keeps the request store in process memory. It backs the
// engine tests and the server's in-memory database mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
)

type txKey struct{}

// tx collects undo steps so a failed unit leaves the store as it found it
type tx struct {
	undo []func()
}

// Store holds every table behind one mutex
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	requests  map[int64]*entity.Request
	records   []*entity.ApprovalRecord
	members   []*entity.PoolMembership
	sessions  map[string]*entity.ActorSession
	archive   map[int64]*entity.ArchivedRequest
	messages  []*entity.NotificationMessage
	nextID    int64
	nextRecID int64
	nextMsgID int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		requests: make(map[int64]*entity.Request),
		sessions: make(map[string]*entity.ActorSession),
		archive:  make(map[int64]*entity.ArchivedRequest),
	}
}

// WithTransaction implements port.TransactionManager. Units are serialized;
// a failed unit has its writes undone in reverse order.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{}
	defer func() {
		if p := recover(); p != nil {
			s.rollback(t)
			panic(p)
		}
		if err != nil {
			s.rollback(t)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, t))
}

func (s *Store) rollback(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// recordUndo must be called with s.mu held
func recordUndo(ctx context.Context, fn func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, fn)
	}
}

// Requests returns the request repository view
func (s *Store) Requests() port.RequestRepository { return &requestRepo{s} }

// Approvals returns the approval log view
func (s *Store) Approvals() port.ApprovalRepository { return &approvalRepo{s} }

// Pools returns the pool repository view
func (s *Store) Pools() port.PoolRepository { return &poolRepo{s} }

// Sessions returns the session store view
func (s *Store) Sessions() port.SessionStore { return &sessionRepo{s} }

// Archive returns the archive repository view
func (s *Store) Archive() port.ArchiveRepository { return &archiveRepo{s} }

// Messages returns the notification message view
func (s *Store) Messages() port.NotificationMessageRepository { return &messageRepo{s} }

func cloneRequest(r *entity.Request) *entity.Request {
	c := *r
	c.Dataset = append([]entity.DatasetRow(nil), r.Dataset...)
	if r.CurrentAssigneeID != nil {
		id := *r.CurrentAssigneeID
		c.CurrentAssigneeID = &id
	}
	if r.CurrentAssigneeRole != nil {
		role := *r.CurrentAssigneeRole
		c.CurrentAssigneeRole = &role
	}
	if r.LockedBy != nil {
		by := *r.LockedBy
		c.LockedBy = &by
	}
	if r.LockedAt != nil {
		at := *r.LockedAt
		c.LockedAt = &at
	}
	return &c
}

// replace swaps the stored request and records the previous version for undo
func (s *Store) replace(ctx context.Context, id int64, mutate func(r *entity.Request)) bool {
	current, ok := s.requests[id]
	if !ok {
		return false
	}
	before := cloneRequest(current)
	after := cloneRequest(current)
	mutate(after)
	s.requests[id] = after
	recordUndo(ctx, func() { s.requests[id] = before })
	return true
}

// stamp falls back to the wall clock when the caller gave no time
func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}

type requestRepo struct{ s *Store }

func (r *requestRepo) Create(ctx context.Context, request *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.requests {
		if existing.UID == request.UID {
			return fmt.Errorf("request %s already exists", request.UID)
		}
	}
	r.s.nextID++
	request.ID = r.s.nextID
	id := request.ID
	r.s.requests[id] = cloneRequest(request)
	recordUndo(ctx, func() { delete(r.s.requests, id) })
	return nil
}

func (r *requestRepo) GetByID(ctx context.Context, id int64) (*entity.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req, ok := r.s.requests[id]; ok {
		return cloneRequest(req), nil
	}
	return nil, nil
}

func (r *requestRepo) GetByUID(ctx context.Context, uid string) (*entity.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.UID == uid {
			return cloneRequest(req), nil
		}
	}
	return nil, nil
}

func (r *requestRepo) TryLock(ctx context.Context, id int64, actorID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok || req.Locked {
		return false, nil
	}
	// The lock is committed immediately, never undone with a surrounding unit
	locked := cloneRequest(req)
	locked.Locked = true
	locked.LockedBy = &actorID
	locked.LockedAt = &at
	r.s.requests[id] = locked
	return true, nil
}

func (r *requestRepo) Unlock(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.replace(ctx, id, func(req *entity.Request) {
		req.Locked = false
		req.LockedBy = nil
		req.LockedAt = nil
	})
	return nil
}

func (r *requestRepo) UpdateRouting(ctx context.Context, id int64, update port.RoutingUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok || domainwf.State(req.Status).IsTerminal() {
		return fmt.Errorf("request %d not found or already terminal", id)
	}
	r.s.replace(ctx, id, func(req *entity.Request) {
		req.Status = update.Status
		req.CurrentAssigneeID = update.AssigneeID
		req.CurrentAssigneeRole = update.AssigneeRole
		req.UpdatedAt = stamp(update.UpdatedAt)
	})
	return nil
}

func (r *requestRepo) ResetForResubmit(ctx context.Context, request *entity.Request) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.replace(ctx, request.ID, func(req *entity.Request) {
		req.Dataset = append([]entity.DatasetRow(nil), request.Dataset...)
		req.Total = request.Total
		req.Context = request.Context
		req.PublishedURL = ""
		req.UpdatedAt = stamp(request.UpdatedAt)
	}) {
		return fmt.Errorf("request %d not found", request.ID)
	}
	return nil
}

func (r *requestRepo) ReleaseStaleLocks(ctx context.Context, olderThan time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var released int64
	for id, req := range r.s.requests {
		if req.Locked && req.LockedAt != nil && req.LockedAt.Before(olderThan) {
			r.s.replace(ctx, id, func(req *entity.Request) {
				req.Locked = false
				req.LockedBy = nil
				req.LockedAt = nil
			})
			released++
		}
	}
	return released, nil
}

func (r *requestRepo) ListAssigned(ctx context.Context, actorID string, filter port.RequestFilter) ([]*entity.Request, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	statuses := make(map[string]bool, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses[s] = true
	}

	var out []*entity.Request
	for _, req := range r.s.requests {
		switch {
		case !req.AssignedTo(actorID), domainwf.State(req.Status).IsTerminal():
			continue
		case len(statuses) > 0 && !statuses[req.Status]:
			continue
		case filter.OnlyUnlocked && req.Locked:
			continue
		case filter.CreatedBefore != nil && !req.CreatedAt.Before(*filter.CreatedBefore):
			continue
		case filter.CreatedAfter != nil && req.CreatedAt.Before(*filter.CreatedAfter):
			continue
		}
		out = append(out, cloneRequest(req))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *requestRepo) DistinctAssignees(ctx context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, req := range r.s.requests {
		if req.CurrentAssigneeID == nil || domainwf.State(req.Status).IsTerminal() || seen[*req.CurrentAssigneeID] {
			continue
		}
		seen[*req.CurrentAssigneeID] = true
		out = append(out, *req.CurrentAssigneeID)
	}
	sort.Strings(out)
	return out, nil
}

func (r *requestRepo) SetPublishedURL(ctx context.Context, id int64, url string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok || req.PublishedURL != "" {
		return false, nil
	}
	r.s.replace(ctx, id, func(req *entity.Request) { req.PublishedURL = url })
	return true, nil
}

type approvalRepo struct{ s *Store }

func (a *approvalRepo) Append(ctx context.Context, record *entity.ApprovalRecord) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.nextRecID++
	record.ID = a.s.nextRecID
	c := *record
	a.s.records = append(a.s.records, &c)
	n := len(a.s.records)
	recordUndo(ctx, func() { a.s.records = a.s.records[:n-1] })
	return nil
}

func (a *approvalRepo) ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalRecord, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.recordsFor(requestID), nil
}

func (a *approvalRepo) Latest(ctx context.Context, requestID int64) (*entity.ApprovalRecord, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	records := a.s.recordsFor(requestID)
	if len(records) == 0 {
		return nil, nil
	}
	return records[len(records)-1], nil
}

func (a *approvalRepo) HasActed(ctx context.Context, requestID int64, actorID string) (bool, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, rec := range a.s.records {
		if rec.RequestID == requestID && rec.ActorID == actorID {
			return true, nil
		}
	}
	return false, nil
}

// recordsFor must be called with s.mu held
func (s *Store) recordsFor(requestID int64) []*entity.ApprovalRecord {
	var out []*entity.ApprovalRecord
	for _, rec := range s.records {
		if rec.RequestID == requestID {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type poolRepo struct{ s *Store }

func (p *poolRepo) ListEligible(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error) {
	return p.list(role, scope, true), nil
}

func (p *poolRepo) ListByRole(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error) {
	return p.list(role, scope, false), nil
}

func (p *poolRepo) list(role entity.Role, scope entity.Scope, withUnbounded bool) []*entity.PoolMembership {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	var out []*entity.PoolMembership
	for _, m := range p.s.members {
		if m.Role != role {
			continue
		}
		// An unbounded grant covers every scope of the role, whatever its scope type
		bound := m.ScopeType == scope.Type && m.ScopeID != nil && *m.ScopeID == scope.ID
		if bound || (withUnbounded && m.ScopeID == nil) {
			c := *m
			out = append(out, &c)
		}
	}
	return out
}

func (p *poolRepo) CountLoad(ctx context.Context, actorID string, role entity.Role, scope entity.Scope) (int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	count := 0
	for _, req := range p.s.requests {
		if !req.AssignedTo(actorID) || req.CurrentAssigneeRole == nil || *req.CurrentAssigneeRole != role {
			continue
		}
		if domainwf.State(req.Status).IsTerminal() || req.Scope(role) != scope {
			continue
		}
		count++
	}
	return count, nil
}

func (p *poolRepo) Add(ctx context.Context, membership *entity.PoolMembership) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if membership.BoundAt.IsZero() {
		membership.BoundAt = time.Now()
	}
	for _, m := range p.s.members {
		if m.ActorID == membership.ActorID && m.Role == membership.Role && m.ScopeType == membership.ScopeType &&
			((m.ScopeID == nil && membership.ScopeID == nil) ||
				(m.ScopeID != nil && membership.ScopeID != nil && *m.ScopeID == *membership.ScopeID)) {
			m.BoundAt = membership.BoundAt
			membership.ID = m.ID
			return nil
		}
	}
	membership.ID = int64(len(p.s.members) + 1)
	c := *membership
	p.s.members = append(p.s.members, &c)
	return nil
}

type sessionRepo struct{ s *Store }

func (r *sessionRepo) Get(ctx context.Context, actorID string) (*entity.ActorSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[actorID]; ok {
		c := *sess
		return &c, nil
	}
	return nil, nil
}

func (r *sessionRepo) Put(ctx context.Context, session *entity.ActorSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	c := *session
	r.s.sessions[session.ActorID] = &c
	return nil
}

func (r *sessionRepo) Clear(ctx context.Context, actorID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, actorID)
	return nil
}

type archiveRepo struct{ s *Store }

func (a *archiveRepo) Save(ctx context.Context, archived *entity.ArchivedRequest) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	if _, exists := a.s.archive[archived.RequestID]; exists {
		return fmt.Errorf("request %d already archived", archived.RequestID)
	}
	c := *archived
	a.s.archive[archived.RequestID] = &c
	id := archived.RequestID
	recordUndo(ctx, func() { delete(a.s.archive, id) })
	return nil
}

func (a *archiveRepo) GetByRequestID(ctx context.Context, requestID int64) (*entity.ArchivedRequest, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if archived, ok := a.s.archive[requestID]; ok {
		c := *archived
		return &c, nil
	}
	return nil, nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Record(ctx context.Context, msg *entity.NotificationMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg.SentAt = stamp(msg.SentAt)
	r.s.nextMsgID++
	msg.ID = r.s.nextMsgID
	c := *msg
	r.s.messages = append(r.s.messages, &c)
	id := msg.ID
	recordUndo(ctx, func() { r.s.dropMessages(func(m *entity.NotificationMessage) bool { return m.ID == id }) })
	return nil
}

func (r *messageRepo) TakePrompts(ctx context.Context, requestID int64) ([]*entity.NotificationMessage, error) {
	return r.take(ctx, func(m *entity.NotificationMessage) bool {
		return m.Kind == entity.MessageKindPrompt && m.RequestID == requestID
	}), nil
}

func (r *messageRepo) TakeReminders(ctx context.Context, recipientID string) ([]*entity.NotificationMessage, error) {
	return r.take(ctx, func(m *entity.NotificationMessage) bool {
		return m.Kind == entity.MessageKindReminder && m.RecipientID == recipientID
	}), nil
}

func (r *messageRepo) take(ctx context.Context, match func(m *entity.NotificationMessage) bool) []*entity.NotificationMessage {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	before := append([]*entity.NotificationMessage(nil), r.s.messages...)
	taken := r.s.dropMessages(match)
	if len(taken) > 0 {
		recordUndo(ctx, func() { r.s.messages = before })
	}
	return taken
}

// dropMessages must be called with s.mu held; it returns copies of the removed rows
func (s *Store) dropMessages(match func(m *entity.NotificationMessage) bool) []*entity.NotificationMessage {
	var taken []*entity.NotificationMessage
	kept := s.messages[:0:0]
	for _, m := range s.messages {
		if match(m) {
			c := *m
			taken = append(taken, &c)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return taken
}

// Verify interface compliance
var _ port.TransactionManager = (*Store)(nil)
