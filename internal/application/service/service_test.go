package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/reminder"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/event"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/memory"
)

type mockTransport struct {
	mu      sync.Mutex
	sent    []port.Message
	edited  map[string]string
	deleted []string
	sendErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{edited: make(map[string]string)}
}

func (m *mockTransport) Send(ctx context.Context, msg port.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

func (m *mockTransport) Edit(ctx context.Context, messageID string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited[messageID] = text
	return nil
}

func (m *mockTransport) Delete(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

type mockPublisher struct {
	calls    int
	failures int
	url      string
}

func (m *mockPublisher) Publish(ctx context.Context, uid string, rows []entity.DatasetRow) (string, error) {
	m.calls++
	if m.calls <= m.failures {
		return "", errors.New("publisher unavailable")
	}
	return m.url + "/" + uid + ".xlsx", nil
}

func rows(n int) []entity.DatasetRow {
	out := make([]entity.DatasetRow, n)
	for i := range out {
		out[i] = entity.DatasetRow{Label: fmt.Sprintf("agent-%02d", i+1), Amount: decimal.NewFromInt(int64(10 * (i + 1)))}
	}
	return out
}

var uidSeq int64

func seedRequest(t *testing.T, store *memory.Store, status domainwf.State, assignee string, dataset []entity.DatasetRow) *entity.Request {
	t.Helper()
	role := entity.RoleCashier
	req := &entity.Request{
		UID:         fmt.Sprintf("DC-%08X", atomic.AddInt64(&uidSeq, 1)),
		Kind:        entity.KindNormal,
		Status:      status.String(),
		Branch:      "north",
		Brand:       "acme",
		SubmitterID: "mgr-1",
		Dataset:     dataset,
		Total:       decimal.NewFromInt(150),
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	if assignee != "" {
		req.CurrentAssigneeID = &assignee
		req.CurrentAssigneeRole = &role
	}
	require.NoError(t, store.Requests().Create(context.Background(), req))
	return req
}

func fastPublishing(store *memory.Store, pub port.Publisher) PublishingService {
	return NewPublishingService(store.Requests(), pub, PublishingConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, nil)
}

func TestPublishingService_RetriesAndCaches(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(3))

	pub := &mockPublisher{failures: 2, url: "http://files"}
	svc := fastPublishing(store, pub)

	url, err := svc.Reference(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "http://files/"+req.UID+".xlsx", url)
	assert.Equal(t, 3, pub.calls)

	stored, _ := store.Requests().GetByID(ctx, req.ID)
	assert.Equal(t, url, stored.PublishedURL)

	again, err := svc.Reference(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 3, pub.calls, "cached reference must not republish")
}

func TestPublishingService_GivesUp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(3))

	pub := &mockPublisher{failures: 10, url: "http://files"}
	_, err := fastPublishing(store, pub).Reference(ctx, req)
	require.Error(t, err)
	assert.Equal(t, 3, pub.calls)

	stored, _ := store.Requests().GetByID(ctx, req.ID)
	assert.Empty(t, stored.PublishedURL)
}

func TestPublishingService_ConcurrentWriterWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(3))

	ok, err := store.Requests().SetPublishedURL(ctx, req.ID, "http://other/first.xlsx")
	require.NoError(t, err)
	require.True(t, ok)

	// req is a stale copy without the reference
	url, err := fastPublishing(store, &mockPublisher{url: "http://files"}).Reference(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "http://other/first.xlsx", url)
}

func TestPublishingService_EmptyDataset(t *testing.T) {
	store := memory.NewStore()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", nil)

	_, err := fastPublishing(store, &mockPublisher{}).Reference(context.Background(), req)
	assert.ErrorIs(t, err, ErrNothingToPublish)
}

func TestQueryService(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(2))
	seedRequest(t, store, domainwf.StateFinalApproved, "cash-1", rows(2))

	require.NoError(t, store.Approvals().Append(ctx, &entity.ApprovalRecord{
		RequestID: req.ID, ActorID: "leader-1", Role: entity.RoleLeader, Decision: entity.DecisionApproved,
		PreviousStatus: "SET_PENDING", NewStatus: "APPROVED_BY_LEADER", CreatedAt: time.Now(),
	}))

	svc := NewQueryService(store.Requests(), store.Approvals(), reminder.NewScheduler(store.Requests()))

	assigned, err := svc.AssignedTo(ctx, "cash-1", port.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, req.ID, assigned[0].ID)

	none, err := svc.AssignedTo(ctx, "op-1", port.RequestFilter{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	acted, err := svc.HasActed(ctx, req.ID, "leader-1")
	require.NoError(t, err)
	assert.True(t, acted)

	acted, err = svc.HasActed(ctx, req.ID, "cash-1")
	require.NoError(t, err)
	assert.False(t, acted)

	_, err = svc.HasActed(ctx, 999, "cash-1")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	next, err := svc.Reminder(ctx, "cash-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, req.ID, next.ID)

	byUID, err := svc.GetRequestByUID(ctx, req.UID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, byUID.ID)
}

func newNotifier(store *memory.Store, transport port.Transport, pub port.Publisher, inlineRows int) NotificationService {
	return NewNotificationService(
		store.Requests(), store.Approvals(), store.Pools(), transport,
		fastPublishing(store, pub), store.Messages(), inlineRows, nil,
	)
}

func TestNotificationService_AdvanceGoesToAssignee(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(2))

	svc := newNotifier(store, transport, &mockPublisher{url: "http://files"}, 10)
	evt := event.NewEvent(event.TypeRequestCreated, req.ID, req.UID, map[string]interface{}{
		event.PayloadRecipientID: "cash-1",
	})
	require.NoError(t, svc.Handle(ctx, evt))

	require.Len(t, transport.sent, 1)
	msg := transport.sent[0]
	assert.Equal(t, "cash-1", msg.RecipientID)
	assert.Contains(t, msg.Text, req.UID)
	assert.Contains(t, msg.Text, "agent-01: 10.00")
	assert.Contains(t, msg.Text, "Total: 150.00")
}

func TestNotificationService_LongDatasetIsPublished(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(12))
	pub := &mockPublisher{url: "http://files"}

	svc := newNotifier(store, transport, pub, 10)
	evt := event.NewEvent(event.TypeRequestAdvanced, req.ID, req.UID, map[string]interface{}{
		event.PayloadRecipientID: "cash-1",
	})
	require.NoError(t, svc.Handle(ctx, evt))
	require.NoError(t, svc.Handle(ctx, evt))

	require.Len(t, transport.sent, 2)
	assert.Contains(t, transport.sent[0].Text, "http://files/"+req.UID+".xlsx")
	assert.NotContains(t, transport.sent[0].Text, "agent-01")
	assert.Equal(t, 1, pub.calls)

	// The second event retired the first prompt
	assert.Contains(t, transport.edited["msg-1"], req.UID)
}

func TestNotificationService_ReversalReachesSubmitterAndLeaders(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	req := seedRequest(t, store, domainwf.StateReversedByCashier, "", rows(2))

	acme := "acme"
	require.NoError(t, store.Pools().Add(ctx, &entity.PoolMembership{ActorID: "leader-1", Role: entity.RoleLeader, ScopeType: entity.ScopeBrand, ScopeID: &acme}))
	require.NoError(t, store.Pools().Add(ctx, &entity.PoolMembership{ActorID: "leader-2", Role: entity.RoleLeader, ScopeType: entity.ScopeBrand}))

	result := reconcile.Compare(req.Dataset, reconcile.Aggregate(decimal.NewFromInt(40)))
	detail, err := json.Marshal(map[string]interface{}{"reconciliation": result})
	require.NoError(t, err)
	require.NoError(t, store.Approvals().Append(ctx, &entity.ApprovalRecord{
		RequestID: req.ID, ActorID: "cash-1", Role: entity.RoleCashier, Decision: entity.DecisionReversed,
		PreviousStatus: "PENDING_APPROVAL", NewStatus: "REVERSED_BY_CASHIER", Detail: detail, CreatedAt: time.Now(),
	}))

	svc := newNotifier(store, transport, &mockPublisher{}, 10)
	require.NoError(t, svc.Handle(ctx, event.NewEvent(event.TypeRequestReversed, req.ID, req.UID, nil)))

	var recipients []string
	for _, m := range transport.sent {
		recipients = append(recipients, m.RecipientID)
		assert.Contains(t, m.Text, "Differences:")
		assert.Contains(t, m.Text, "Total: 30.00 -> 40.00 (10.00)")
	}
	assert.ElementsMatch(t, []string{"mgr-1", "leader-1", "leader-2"}, recipients)
}

func TestNotificationService_ReminderReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(1))

	svc := newNotifier(store, transport, &mockPublisher{}, 10)
	evt := event.NewEvent(event.TypeRequestReminder, req.ID, req.UID, map[string]interface{}{
		event.PayloadRecipientID: "cash-1",
	})
	require.NoError(t, svc.Handle(ctx, evt))
	require.NoError(t, svc.Handle(ctx, evt))

	require.Len(t, transport.sent, 2)
	assert.Contains(t, transport.sent[0].Text, "Reminder")
	assert.Equal(t, []string{"msg-1"}, transport.deleted)
}

func TestNotificationService_InstancesShareSentMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	req := seedRequest(t, store, domainwf.StatePendingApproval, "cash-1", rows(1))

	first := newNotifier(store, transport, &mockPublisher{}, 10)
	second := newNotifier(store, transport, &mockPublisher{}, 10)

	toCashier := map[string]interface{}{event.PayloadRecipientID: "cash-1"}
	require.NoError(t, first.Handle(ctx, event.NewEvent(event.TypeRequestCreated, req.ID, req.UID, toCashier)))
	require.NoError(t, first.Handle(ctx, event.NewEvent(event.TypeRequestReminder, req.ID, req.UID, toCashier)))

	// A restarted or sibling instance retires what the first one sent
	require.NoError(t, second.Handle(ctx, event.NewEvent(event.TypeRequestReminder, req.ID, req.UID, toCashier)))
	assert.Equal(t, []string{"msg-2"}, transport.deleted)

	require.NoError(t, second.Handle(ctx, event.NewEvent(event.TypeRequestAdvanced, req.ID, req.UID, map[string]interface{}{
		event.PayloadRecipientID: "op-1",
	})))
	assert.Contains(t, transport.edited["msg-1"], req.UID)

	// Each message is retired once, whichever instance sees the next event
	require.NoError(t, first.Handle(ctx, event.NewEvent(event.TypeRequestRejected, req.ID, req.UID, nil)))
	assert.Len(t, transport.edited, 2)
	assert.Contains(t, transport.edited, "msg-4")
	assert.Equal(t, []string{"msg-2"}, transport.deleted)
}

func TestNotificationService_SendFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	transport := newMockTransport()
	transport.sendErr = errors.New("lark down")
	req := seedRequest(t, store, domainwf.StateRejected, "", nil)

	svc := newNotifier(store, transport, &mockPublisher{}, 10)
	err := svc.Handle(ctx, event.NewEvent(event.TypeRequestRejected, req.ID, req.UID, nil))
	assert.Error(t, err)

	err = svc.Handle(ctx, event.NewEvent(event.TypeRequestRejected, 999, "DC-MISSING", nil))
	assert.ErrorIs(t, err, ErrRequestNotFound)
}
