package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/debt-clearance/internal/domain/entity"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
	"github.com/garyjia/debt-clearance/internal/infrastructure/persistence/memory"
)

func seed(t *testing.T, store *memory.Store, uid, assignee string, status domainwf.State, createdAt time.Time) *entity.Request {
	t.Helper()
	role := entity.RoleCashier
	req := &entity.Request{
		UID:                 uid,
		Kind:                entity.KindNormal,
		Status:              status.String(),
		Branch:              "north",
		Brand:               "acme",
		SubmitterID:         "mgr-1",
		CurrentAssigneeID:   &assignee,
		CurrentAssigneeRole: &role,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
	require.NoError(t, store.Requests().Create(context.Background(), req))
	return req
}

func TestScheduler_SplitAndNext(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()

	fresh := seed(t, store, "DC-00000001", "cash-1", domainwf.StatePendingApproval, now.Add(-2*time.Minute))
	oldest := seed(t, store, "DC-00000002", "cash-1", domainwf.StatePendingApproval, now.Add(-40*time.Minute))
	stale := seed(t, store, "DC-00000003", "cash-1", domainwf.StateApprovedByLeader, now.Add(-10*time.Minute))
	seed(t, store, "DC-00000004", "cash-2", domainwf.StatePendingApproval, now.Add(-time.Hour))

	s := NewScheduler(store.Requests(), WithClock(func() time.Time { return now }))

	split, err := s.Split(ctx, "cash-1")
	require.NoError(t, err)
	require.Len(t, split.Fresh, 1)
	assert.Equal(t, fresh.ID, split.Fresh[0].ID)
	require.Len(t, split.Stale, 2)
	assert.Equal(t, oldest.ID, split.Stale[0].ID)
	assert.Equal(t, stale.ID, split.Stale[1].ID)

	next, err := s.Next(ctx, "cash-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, oldest.ID, next.ID)

	// A locked request is being handled and is not resurfaced
	ok, err := store.Requests().TryLock(ctx, oldest.ID, "cash-1", now)
	require.NoError(t, err)
	require.True(t, ok)

	next, err = s.Next(ctx, "cash-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, stale.ID, next.ID)

	// Reading never mutates the store
	got, _ := store.Requests().GetByID(ctx, stale.ID)
	assert.False(t, got.Locked)
	assert.Equal(t, domainwf.StateApprovedByLeader.String(), got.Status)
}

func TestScheduler_NothingStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seed(t, store, "DC-00000001", "cash-1", domainwf.StatePendingApproval, now.Add(-time.Minute))

	s := NewScheduler(store.Requests(), WithClock(func() time.Time { return now }))

	next, err := s.Next(ctx, "cash-1")
	require.NoError(t, err)
	assert.Nil(t, next)

	next, err = s.Next(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestScheduler_Threshold(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seed(t, store, "DC-00000001", "cash-1", domainwf.StatePendingApproval, now.Add(-10*time.Minute))

	tests := []struct {
		name      string
		threshold time.Duration
		wantStale int
	}{
		{"default five minutes", 0, 1},
		{"one hour", time.Hour, 0},
		{"exactly at boundary", 10 * time.Minute, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(store.Requests(), WithThreshold(tt.threshold), WithClock(func() time.Time { return now }))
			split, err := s.Split(ctx, "cash-1")
			require.NoError(t, err)
			assert.Len(t, split.Stale, tt.wantStale)
		})
	}
}
