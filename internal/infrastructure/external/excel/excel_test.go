package excel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/workflow"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/memory"
	"github.com/garyjia/debt-clearance/internal/infrastructure/storage"
)

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParser_Parse(t *testing.T) {
	p := NewParser(0, zap.NewNop())

	rows, err := p.Parse(context.Background(), workbook(t, [][]interface{}{
		{"Agent", "Debt"},
		{"north-01", 1250.5},
		{},
		{" south-02 ", "300"},
		{"Total", 1550.5},
	}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "north-01", rows[0].Label)
	assert.True(t, rows[0].Amount.Equal(decimal.RequireFromString("1250.5")))
	assert.Equal(t, "south-02", rows[1].Label)
	assert.True(t, rows[1].Amount.Equal(decimal.NewFromInt(300)))
}

func TestParser_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]interface{}
		maxRows int
	}{
		{"amount not a number", [][]interface{}{{"A", 10}, {"B", "lots"}}, 0},
		{"amount without label", [][]interface{}{{"A", 10}, {"", 5}}, 0},
		{"header only", [][]interface{}{{"Label", "Amount"}}, 0},
		{"too many rows", [][]interface{}{{"A", 1}, {"B", 2}, {"C", 3}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(tt.maxRows, zap.NewNop()).Parse(context.Background(), workbook(t, tt.rows))
			assert.ErrorIs(t, err, reconcile.ErrMalformedDataset)
		})
	}

	_, err := NewParser(0, zap.NewNop()).Parse(context.Background(), bytes.NewBufferString("not a workbook"))
	assert.ErrorIs(t, err, reconcile.ErrMalformedDataset)
}

func TestPublisher_PublishesReadableWorkbook(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := storage.NewLocalFileStorage(dir, zap.NewNop())
	pub := NewPublisher(fs, "http://localhost:8080/published/", zap.NewNop())

	dataset := []entity.DatasetRow{
		{Label: "A", Amount: decimal.RequireFromString("1250.50")},
		{Label: "B", Amount: decimal.NewFromInt(75)},
	}
	url, err := pub.Publish(ctx, "DC-0000ABCD", dataset)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/published/DC-0000ABCD.xlsx", url)

	content, err := fs.Read(ctx, "DC-0000ABCD.xlsx")
	require.NoError(t, err)

	// The published workbook parses back to the same figures
	rows, err := NewParser(0, zap.NewNop()).Parse(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	res := reconcile.Compare(dataset, reconcile.Itemized(rows))
	assert.True(t, res.Identical)
}

func TestArchiver_WritesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	fs := storage.NewLocalFileStorage(t.TempDir(), zap.NewNop())
	a := NewArchiver(store.Archive(), fs, zap.NewNop())

	req := &entity.Request{
		ID:          7,
		UID:         "DC-00000007",
		Kind:        entity.KindSet,
		Status:      "FINAL_APPROVED",
		Branch:      "north",
		Brand:       "acme",
		SubmitterID: "mgr-1",
		Dataset:     []entity.DatasetRow{{Label: "A", Amount: decimal.NewFromInt(10)}},
		Total:       decimal.NewFromInt(10),
		CreatedAt:   time.Now(),
	}
	records := []*entity.ApprovalRecord{
		{ID: 1, RequestID: 7, ActorID: "leader-1", Role: entity.RoleLeader, Decision: entity.DecisionApproved, PreviousStatus: "SET_PENDING", NewStatus: "APPROVED_BY_LEADER", CreatedAt: time.Now()},
	}

	require.NoError(t, a.Archive(ctx, req, records))
	assert.True(t, fs.Exists(ctx, "DC-00000007.xlsx"))

	archived, err := store.Archive().GetByRequestID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, archived)
	var snap archiveSnapshot
	require.NoError(t, json.Unmarshal(archived.Snapshot, &snap))
	assert.Equal(t, "DC-00000007", snap.Request.UID)
	assert.Len(t, snap.Records, 1)

	content, err := fs.Read(ctx, "DC-00000007.xlsx")
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{sheetDataset, sheetSummary, sheetHistory}, f.GetSheetList())
	actor, err := f.GetCellValue(sheetHistory, "B2")
	require.NoError(t, err)
	assert.Equal(t, "leader-1", actor)

	assert.Error(t, a.Archive(ctx, req, records), "a request is archived exactly once")
}

func TestArchiver_RetryAfterRolledBackUnit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	fs := storage.NewLocalFileStorage(t.TempDir(), zap.NewNop())
	a := NewArchiver(store.Archive(), fs, zap.NewNop())

	req := &entity.Request{
		ID:      9,
		UID:     "DC-00000009",
		Kind:    entity.KindNormal,
		Status:  "FINAL_APPROVED",
		Dataset: []entity.DatasetRow{{Label: "A", Amount: decimal.NewFromInt(10)}},
		Total:   decimal.NewFromInt(10),
	}

	commitFailed := errors.New("commit failed")
	err := store.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, a.Archive(txCtx, req, nil))
		return commitFailed
	})
	require.ErrorIs(t, err, commitFailed)

	archived, err := store.Archive().GetByRequestID(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, archived)
	assert.True(t, fs.Exists(ctx, "DC-00000009.xlsx"), "the workbook outlives the rolled back row")

	require.NoError(t, a.Archive(ctx, req, nil))
	archived, err = store.Archive().GetByRequestID(ctx, 9)
	require.NoError(t, err)
	assert.NotNil(t, archived)
}

// failingUnlock fails the first in-transaction Unlock once armed
type failingUnlock struct {
	port.RequestRepository
	mu     sync.Mutex
	armed  bool
	failed bool
}

func (r *failingUnlock) Unlock(ctx context.Context, id int64) error {
	r.mu.Lock()
	fail := r.armed && !r.failed
	if fail {
		r.failed = true
	}
	r.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return r.RequestRepository.Unlock(ctx, id)
}

func TestEngine_FinalizationRetriesAfterFailedCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	fs := storage.NewLocalFileStorage(t.TempDir(), zap.NewNop())
	requests := &failingUnlock{RequestRepository: store.Requests()}

	north, acme := "north", "acme"
	for _, m := range []*entity.PoolMembership{
		{ActorID: "cash-1", Role: entity.RoleCashier, ScopeType: entity.ScopeBranch, ScopeID: &north},
		{ActorID: "op-1", Role: entity.RoleOperator, ScopeType: entity.ScopeBrand, ScopeID: &acme},
	} {
		require.NoError(t, store.Pools().Add(ctx, m))
	}

	engine := workflow.NewEngine(requests, store.Approvals(), store.Pools(), store,
		workflow.WithArchiver(NewArchiver(store.Archive(), fs, zap.NewNop())))

	req, err := engine.Create(ctx, workflow.CreateCommand{
		Kind:        entity.KindNormal,
		Branch:      "north",
		Brand:       "acme",
		SubmitterID: "mgr-1",
		Dataset:     []entity.DatasetRow{{Label: "A", Amount: decimal.NewFromInt(100)}},
	})
	require.NoError(t, err)

	_, err = engine.Decide(ctx, workflow.DecisionCommand{RequestID: req.ID, ActorID: "cash-1", Action: workflow.ActionApprove})
	require.NoError(t, err)

	requests.armed = true
	_, err = engine.Decide(ctx, workflow.DecisionCommand{RequestID: req.ID, ActorID: "op-1", Action: workflow.ActionApprove})
	require.ErrorIs(t, err, workflow.ErrPersistence)

	stuck, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "APPROVED_BY_CASHIER", stuck.Status)
	assert.False(t, stuck.Locked)

	res, err := engine.Decide(ctx, workflow.DecisionCommand{RequestID: req.ID, ActorID: "op-1", Action: workflow.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, "FINAL_APPROVED", res.NewStatus)
	assert.True(t, fs.Exists(ctx, req.UID+".xlsx"))

	archived, err := store.Archive().GetByRequestID(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, archived)
	assert.Equal(t, req.UID, archived.UID)
}
