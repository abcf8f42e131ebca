package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangov/internal/plan"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func basicRecord(id string) *plan.GovernanceRecord {
	return &plan.GovernanceRecord{
		PlanID:         id,
		Name:           "Basic Tier",
		Tier:           plan.TierBasic,
		RateLimit:      50,
		BurstLimit:     100,
		QuotaLimit:     10000,
		QuotaPeriod:    plan.QuotaPeriodMonth,
		LifecycleState: plan.LifecycleActive,
	}
}

func TestStore_PutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := basicRecord("basic-tier-001")
	rec.Stages = []string{plan.FormatStageRef(plan.StageRef{APIID: "api1", StageName: "dev"}, "us-east-1")}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "basic-tier-001")
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Stages, got.Stages)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	rec := basicRecord("bad")
	rec.QuotaPeriod = "YEAR"
	assert.Error(t, s.Put(context.Background(), rec))
}

func TestStore_ConditionalUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("p1")))

	rate := 75
	updated, err := s.ConditionalUpdate(ctx, "p1", RecordPatch{RateLimit: &rate})
	require.NoError(t, err)
	assert.Equal(t, 75, updated.RateLimit)
	assert.Equal(t, 100, updated.BurstLimit, "unpatched fields are untouched")

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 75, got.RateLimit)
}

func TestStore_ConditionalUpdateMustExist(t *testing.T) {
	s := openTestStore(t)
	rate := 75
	_, err := s.ConditionalUpdate(context.Background(), "ghost", RecordPatch{RateLimit: &rate})
	assert.True(t, IsNotFound(err), "conditional update must never create a record")

	_, err = s.Get(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
}

func TestStore_SoftDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("old-id")))

	deleted := true
	successor := "new-id"
	now := time.Now().UTC()
	_, err := s.ConditionalUpdate(ctx, "old-id", RecordPatch{
		Deleted:     &deleted,
		RecreatedAs: &successor,
		DeletedAt:   &now,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "old-id")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "new-id", got.RecreatedAs)
	require.NotNil(t, got.DeletedAt)
}

func TestStore_ScanAllStableOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("bbb")))
	require.NoError(t, s.Put(ctx, basicRecord("aaa")))
	require.NoError(t, s.Put(ctx, basicRecord("ccc")))

	records, err := s.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "aaa", records[0].PlanID)
	assert.Equal(t, "bbb", records[1].PlanID)
	assert.Equal(t, "ccc", records[2].PlanID)
}

func TestStore_GetByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := basicRecord("p1")
	rec.Name = "Premium Tier"
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.GetByName(ctx, "Premium Tier")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PlanID)

	// Soft-deleted records are excluded from name lookup.
	deleted := true
	_, err = s.ConditionalUpdate(ctx, "p1", RecordPatch{Deleted: &deleted})
	require.NoError(t, err)

	_, err = s.GetByName(ctx, "Premium Tier")
	assert.True(t, IsNotFound(err))
}
