package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/event"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/memory"
)

// Mock implementations

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) SubscribeAll(eventTypes []event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Type, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type mockArchiver struct {
	calls []*entity.Request
	err   error
}

func (m *mockArchiver) Archive(ctx context.Context, request *entity.Request, records []*entity.ApprovalRecord) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, request)
	return nil
}

// gatedPools blocks the first ListEligible call inside a transition until released
type gatedPools struct {
	port.PoolRepository
	once    sync.Once
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPools) ListEligible(ctx context.Context, role entity.Role, scope entity.Scope) ([]*entity.PoolMembership, error) {
	if g.armed {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.PoolRepository.ListEligible(ctx, role, scope)
}

type fixture struct {
	store      *memory.Store
	engine     Engine
	dispatcher *mockDispatcher
	archiver   *mockArchiver
	now        time.Time
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	return newFixtureWithPools(t, nil, opts...)
}

func newFixtureWithPools(t *testing.T, wrap func(port.PoolRepository) port.PoolRepository, opts ...EngineOption) *fixture {
	t.Helper()

	f := &fixture{
		store:      memory.NewStore(),
		dispatcher: &mockDispatcher{},
		archiver:   &mockArchiver{},
		now:        time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	seedPools(t, f.store.Pools())

	pools := f.store.Pools()
	if wrap != nil {
		pools = wrap(pools)
	}

	all := append([]EngineOption{
		WithDispatcher(f.dispatcher),
		WithArchiver(f.archiver),
		WithSessionStore(f.store.Sessions()),
		WithClock(func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		}),
	}, opts...)

	f.engine = NewEngine(f.store.Requests(), f.store.Approvals(), pools, f.store, all...)
	return f
}

func seedPools(t *testing.T, pools port.PoolRepository) {
	t.Helper()
	north, acme := "north", "acme"
	bound := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, m := range []*entity.PoolMembership{
		{ActorID: "leader-1", Role: entity.RoleLeader, ScopeType: entity.ScopeBrand, ScopeID: &acme, BoundAt: bound},
		{ActorID: "cash-1", Role: entity.RoleCashier, ScopeType: entity.ScopeBranch, ScopeID: &north, BoundAt: bound},
		{ActorID: "op-1", Role: entity.RoleOperator, ScopeType: entity.ScopeBrand, ScopeID: &acme, BoundAt: bound},
	} {
		require.NoError(t, pools.Add(context.Background(), m))
	}
}

func createCmd(kind entity.Kind) CreateCommand {
	return CreateCommand{
		Kind:        kind,
		Branch:      "north",
		Brand:       "acme",
		SubmitterID: "mgr-1",
		Dataset: []entity.DatasetRow{
			{Label: "A", Amount: decimal.NewFromInt(100)},
			{Label: "B", Amount: decimal.NewFromInt(50)},
		},
	}
}

func approve(id int64, actor string) DecisionCommand {
	return DecisionCommand{RequestID: id, ActorID: actor, Action: ActionApprove}
}

func TestBuildStateMachines(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		machine domainwf.StateMachine
		role    entity.Role
		trigger domainwf.Trigger
		want    domainwf.State
		wantErr error
	}{
		{"cashier approves normal", BuildNormalStateMachine(domainwf.StatePendingApproval), entity.RoleCashier, domainwf.TriggerApprove, domainwf.StateApprovedByCashier, nil},
		{"cashier reverses normal", BuildNormalStateMachine(domainwf.StatePendingApproval), entity.RoleCashier, domainwf.TriggerReverse, domainwf.StateReversedByCashier, nil},
		{"cashier cannot reject", BuildNormalStateMachine(domainwf.StatePendingApproval), entity.RoleCashier, domainwf.TriggerReject, "", domainwf.ErrInvalidTransition},
		{"operator cannot act at cashier stage", BuildNormalStateMachine(domainwf.StatePendingApproval), entity.RoleOperator, domainwf.TriggerApprove, "", domainwf.ErrGuardFailed},
		{"supervisor approves", BuildNormalStateMachine(domainwf.StateApprovedByCashier), entity.RoleSupervisor, domainwf.TriggerApprove, domainwf.StateApprovedBySupervisor, nil},
		{"operator reverses", BuildNormalStateMachine(domainwf.StateApprovedByCashier), entity.RoleOperator, domainwf.TriggerReverse, domainwf.StateReversedByOperator, nil},
		{"leader approves set", BuildSetStateMachine(domainwf.StateSetPending), entity.RoleLeader, domainwf.TriggerApprove, domainwf.StateApprovedByLeader, nil},
		{"leader rejects set", BuildSetStateMachine(domainwf.StateSetPending), entity.RoleLeader, domainwf.TriggerReject, domainwf.StateRejected, nil},
		{"cashier after leader", BuildSetStateMachine(domainwf.StateApprovedByLeader), entity.RoleCashier, domainwf.TriggerApprove, domainwf.StateApprovedByCashier, nil},
		{"normal has no leader gate", BuildNormalStateMachine(domainwf.StateSetPending), entity.RoleLeader, domainwf.TriggerApprove, "", domainwf.ErrInvalidTransition},
		{"resubmit normal", BuildNormalStateMachine(domainwf.StateReversedByOperator), entity.RoleManager, domainwf.TriggerResubmit, domainwf.StatePendingApproval, nil},
		{"resubmit set", BuildSetStateMachine(domainwf.StateReversedByCashier), entity.RoleManager, domainwf.TriggerResubmit, domainwf.StateSetPending, nil},
		{"final is terminal", BuildNormalStateMachine(domainwf.StateFinalApproved), entity.RoleOperator, domainwf.TriggerApprove, "", domainwf.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.machine.Peek(domainwf.WithActorRole(ctx, tt.role), tt.trigger)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EndToEndNormal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	assert.Regexp(t, `^DC-[0-9A-F]{8}$`, req.UID)
	assert.Equal(t, domainwf.StatePendingApproval.String(), req.Status)
	assert.True(t, req.AssignedTo("cash-1"))
	assert.True(t, req.Total.Equal(decimal.NewFromInt(150)))

	res, err := f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), res.NewStatus)
	require.NotNil(t, res.Assignee)
	assert.Equal(t, "op-1", res.Assignee.ActorID)
	assert.True(t, res.Request.AssignedTo("op-1"))
	assert.False(t, res.Request.Locked)

	res, err = f.engine.Decide(ctx, approve(req.ID, "op-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFinalApproved.String(), res.NewStatus)
	assert.Nil(t, res.Request.CurrentAssigneeID)
	assert.False(t, res.Request.Locked)
	require.Len(t, f.archiver.calls, 1)
	assert.Equal(t, domainwf.StateFinalApproved.String(), f.archiver.calls[0].Status)

	records, err := f.store.Approvals().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "cash-1", records[0].ActorID)
	assert.Equal(t, "op-1", records[1].ActorID)
	for _, r := range records {
		assert.Equal(t, entity.DecisionApproved, r.Decision)
	}
	assert.True(t, records[0].CreatedAt.Before(records[1].CreatedAt))

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal(records[1].Detail, &detail))
	assert.Equal(t, domainwf.StateApprovedByOperator.String(), detail["stage_status"])

	assert.Equal(t, []event.Type{event.TypeRequestCreated, event.TypeRequestAdvanced, event.TypeRequestArchived}, f.dispatcher.types())

	_, err = f.engine.Decide(ctx, approve(req.ID, "op-1"))
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestEngine_EndToEndSetReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindSet))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateSetPending.String(), req.Status)
	assert.True(t, req.AssignedTo("leader-1"))

	res, err := f.engine.Decide(ctx, approve(req.ID, "leader-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByLeader.String(), res.NewStatus)
	assert.True(t, res.Request.AssignedTo("cash-1"))

	sub := reconcile.Itemized([]entity.DatasetRow{
		{Label: "A", Amount: decimal.NewFromInt(100)},
		{Label: "B", Amount: decimal.NewFromInt(70)},
	})
	res, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateReversedByCashier.String(), res.NewStatus)
	assert.Nil(t, res.Request.CurrentAssigneeID)
	require.NotNil(t, res.Reconciliation)
	require.Len(t, res.Reconciliation.Deltas, 1)
	assert.Equal(t, "B", res.Reconciliation.Deltas[0].Label)
	assert.True(t, res.Reconciliation.Deltas[0].Delta.Equal(decimal.NewFromInt(20)))

	latest, err := f.store.Approvals().Latest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionReversed, latest.Decision)
	assert.Contains(t, string(latest.Detail), `"deltas"`)

	assert.Contains(t, f.dispatcher.types(), event.TypeRequestReversed)
}

func TestEngine_IdenticalReportAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)

	sub := reconcile.Aggregate(decimal.NewFromInt(150))
	res, err := f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), res.NewStatus)
	assert.True(t, res.Reconciliation.Identical)
}

func TestEngine_TotalMustMatchDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := createCmd(entity.KindSet)
	cmd.Total = decimal.NewFromInt(200)
	_, err := f.engine.Create(ctx, cmd)
	assert.ErrorIs(t, err, ErrMalformedDataset)

	cmd.Total = decimal.NewFromInt(150)
	req, err := f.engine.Create(ctx, cmd)
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, approve(req.ID, "leader-1"))
	require.NoError(t, err)

	sub := reconcile.Aggregate(decimal.NewFromInt(150))
	res, err := f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), res.NewStatus)
	assert.True(t, res.Reconciliation.TotalDelta.IsZero())
}

func TestEngine_ResubmitRejectsMismatchedTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	sub := reconcile.Aggregate(decimal.NewFromInt(170))
	_, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)

	_, err = f.engine.Resubmit(ctx, ResubmitCommand{
		RequestID: req.ID,
		ActorID:   "mgr-1",
		Dataset:   []entity.DatasetRow{{Label: "A", Amount: decimal.NewFromInt(170)}},
		Total:     decimal.NewFromInt(200),
	})
	assert.ErrorIs(t, err, ErrMalformedDataset)

	got, err := f.store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateReversedByCashier.String(), got.Status)
	assert.False(t, got.Locked)
}

func TestEngine_LeaderReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindSet))
	require.NoError(t, err)

	res, err := f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "leader-1", Action: ActionReject, Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateRejected.String(), res.NewStatus)
	assert.Nil(t, res.Request.CurrentAssigneeID)
	assert.Empty(t, f.archiver.calls)

	latest, _ := f.store.Approvals().Latest(ctx, req.ID)
	assert.Contains(t, string(latest.Detail), "duplicate")
}

func TestEngine_NotEligibleLeavesRequestUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  DecisionCommand
	}{
		{"wrong actor", approve(req.ID, "op-1")},
		{"cashier cannot reject", DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReject}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Decide(ctx, tt.cmd)
			assert.ErrorIs(t, err, ErrNotEligible)
		})
	}

	got, _ := f.store.Requests().GetByID(ctx, req.ID)
	assert.Equal(t, domainwf.StatePendingApproval.String(), got.Status)
	assert.False(t, got.Locked)
	records, _ := f.store.Approvals().ListByRequest(ctx, req.ID)
	assert.Empty(t, records)
}

func TestEngine_InvalidCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, CreateCommand{Kind: "BOGUS", Branch: "north", Brand: "acme", SubmitterID: "mgr-1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := createCmd(entity.KindNormal)
	bad.Dataset = []entity.DatasetRow{{Label: " ", Amount: decimal.NewFromInt(1)}}
	_, err = f.engine.Create(ctx, bad)
	assert.ErrorIs(t, err, ErrMalformedDataset)

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt})
	assert.ErrorIs(t, err, ErrMalformedDataset)

	_, err = f.engine.Decide(ctx, approve(9999, "cash-1"))
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestEngine_AlreadyInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)

	ok, err := f.store.Requests().TryLock(ctx, req.ID, "someone-else", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
}

func TestEngine_LockReleasedWhenTransitionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)

	f.archiver.err = errors.New("disk full")
	_, err = f.engine.Decide(ctx, approve(req.ID, "op-1"))
	require.ErrorIs(t, err, ErrPersistence)

	got, _ := f.store.Requests().GetByID(ctx, req.ID)
	assert.False(t, got.Locked, "lock must be released after a failed transition")
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), got.Status)
	assert.True(t, got.AssignedTo("op-1"))
	records, _ := f.store.Approvals().ListByRequest(ctx, req.ID)
	assert.Len(t, records, 1, "failed transition must not leave an approval record")

	f.archiver.err = nil
	res, err := f.engine.Decide(ctx, approve(req.ID, "op-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFinalApproved.String(), res.NewStatus)
}

func TestEngine_AtMostOneWinner(t *testing.T) {
	var gate *gatedPools
	f := newFixtureWithPools(t, func(p port.PoolRepository) port.PoolRepository {
		gate = &gatedPools{PoolRepository: p, entered: make(chan struct{}), release: make(chan struct{})}
		return gate
	})
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	gate.armed = true

	winner := make(chan error, 1)
	go func() {
		_, err := f.engine.Decide(ctx, approve(req.ID, "cash-1"))
		winner <- err
	}()

	<-gate.entered
	const losers = 5
	var wg sync.WaitGroup
	errs := make(chan error, losers)
	for i := 0; i < losers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Decide(ctx, approve(req.ID, "cash-1"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	close(gate.release)

	require.NoError(t, <-winner)
	for err := range errs {
		assert.ErrorIs(t, err, ErrAlreadyInProgress)
	}

	records, _ := f.store.Approvals().ListByRequest(ctx, req.ID)
	assert.Len(t, records, 1)
	got, _ := f.store.Requests().GetByID(ctx, req.ID)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), got.Status)
	assert.False(t, got.Locked)
}

func TestEngine_EmptyPoolCompletesWithoutAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := createCmd(entity.KindNormal)
	cmd.Brand = "globex"
	req, err := f.engine.Create(ctx, cmd)
	require.NoError(t, err)

	res, err := f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), res.NewStatus)
	assert.Nil(t, res.Request.CurrentAssigneeID)
	assert.ErrorIs(t, res.AssignmentErr, ErrNoEligibleAssignee)
	assert.NotEmpty(t, res.Warnings)

	latest, _ := f.store.Approvals().Latest(ctx, req.ID)
	assert.Contains(t, string(latest.Detail), "warnings")
}

func TestEngine_SupervisorFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Pools().Add(ctx, &entity.PoolMembership{
		ActorID: "sup-1", Role: entity.RoleSupervisor, ScopeType: entity.ScopeBrand,
	}))

	cmd := createCmd(entity.KindNormal)
	cmd.Brand = "globex"
	req, err := f.engine.Create(ctx, cmd)
	require.NoError(t, err)

	res, err := f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)
	require.NotNil(t, res.Assignee)
	assert.Equal(t, "sup-1", res.Assignee.ActorID)
	assert.Equal(t, entity.RoleSupervisor, *res.Request.CurrentAssigneeRole)

	res, err = f.engine.Decide(ctx, approve(req.ID, "sup-1"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateFinalApproved.String(), res.NewStatus)
}

func TestEngine_ResubmitAfterReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	sub := reconcile.Aggregate(decimal.NewFromInt(170))
	_, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)

	_, err = f.engine.Resubmit(ctx, ResubmitCommand{RequestID: req.ID, ActorID: "cash-1"})
	assert.ErrorIs(t, err, ErrNotEligible)

	res, err := f.engine.Resubmit(ctx, ResubmitCommand{
		RequestID: req.ID,
		ActorID:   "mgr-1",
		Dataset: []entity.DatasetRow{
			{Label: "A", Amount: decimal.NewFromInt(120)},
			{Label: "B", Amount: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingApproval.String(), res.NewStatus)
	assert.True(t, res.Request.AssignedTo("cash-1"))
	assert.True(t, res.Request.Total.Equal(decimal.NewFromInt(170)))

	res, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateApprovedByCashier.String(), res.NewStatus)
}

func TestEngine_RecordTimesNeverGoBackwards(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)

	clock = clock.Add(-time.Hour)
	_, err = f.engine.Decide(ctx, approve(req.ID, "op-1"))
	require.NoError(t, err)

	records, _ := f.store.Approvals().ListByRequest(ctx, req.ID)
	require.Len(t, records, 2)
	assert.False(t, records[1].CreatedAt.Before(records[0].CreatedAt))
	assert.Equal(t, "op-1", records[1].ActorID)
}

func TestEngine_UpdatedAtFollowsEngineClock(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	assert.True(t, req.UpdatedAt.Equal(clock))

	clock = clock.Add(time.Hour)
	sub := reconcile.Aggregate(decimal.NewFromInt(170))
	_, err = f.engine.Decide(ctx, DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: ActionReportDebt, Submission: &sub})
	require.NoError(t, err)
	got, err := f.store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(clock), "routing update stamped %s", got.UpdatedAt)

	clock = clock.Add(time.Hour)
	_, err = f.engine.Resubmit(ctx, ResubmitCommand{
		RequestID: req.ID,
		ActorID:   "mgr-1",
		Dataset:   []entity.DatasetRow{{Label: "A", Amount: decimal.NewFromInt(170)}},
	})
	require.NoError(t, err)
	got, err = f.store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(clock), "resubmission stamped %s", got.UpdatedAt)
}

func TestEngine_ClearsActorSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	require.NoError(t, f.store.Sessions().Put(ctx, &entity.ActorSession{ActorID: "cash-1", Context: req.UID, State: "awaiting_figures"}))

	_, err = f.engine.Decide(ctx, approve(req.ID, "cash-1"))
	require.NoError(t, err)

	sess, err := f.store.Sessions().Get(ctx, "cash-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestEngine_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, WithTracer(tp.Tracer("test")))
	ctx := context.Background()

	req, err := f.engine.Create(ctx, createCmd(entity.KindNormal))
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, approve(req.ID, "op-1"))
	require.ErrorIs(t, err, ErrNotEligible)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "workflow.Create", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "workflow.Decide", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
