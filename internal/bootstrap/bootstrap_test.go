package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangov/internal/gateway"
	"plangov/internal/manager"
	"plangov/internal/plan"
	"plangov/internal/store"
)

const testRegion = "us-east-1"

func newFixture(t *testing.T) (*manager.PlanManager, *store.Store, *gateway.MemoryGateway) {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g := gateway.NewMemoryGateway()
	return manager.New(s, g, nil, testRegion), s, g
}

func TestSeedCreatesAllSampleTiers(t *testing.T) {
	mgr, s, g := newFixture(t)
	ctx := context.Background()

	created, err := Seed(ctx, mgr, s)
	require.NoError(t, err)
	assert.Equal(t, 5, created)

	recs, err := s.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	byName := make(map[string]plan.GovernanceRecord)
	for _, rec := range recs {
		byName[rec.Name] = rec
	}

	free := byName["Free Tier"]
	assert.Equal(t, 10, free.RateLimit)
	assert.Equal(t, 20, free.BurstLimit)
	assert.Equal(t, 1000, free.QuotaLimit)
	assert.Equal(t, plan.LifecycleActive, free.LifecycleState)

	enterprise := byName["Enterprise Tier"]
	assert.Equal(t, 1000, enterprise.RateLimit)
	assert.Equal(t, 1000000, enterprise.QuotaLimit)

	legacy := byName["Legacy Tier"]
	assert.Equal(t, plan.LifecycleDeprecated, legacy.LifecycleState)
	assert.NotNil(t, legacy.DeprecatedAt)

	// Each record is bound to a live plan under its gateway identity.
	for _, rec := range recs {
		live, err := g.Get(ctx, rec.PlanID)
		require.NoError(t, err)
		assert.Equal(t, rec.RateLimit, live.Throttle.RateLimit)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	mgr, s, _ := newFixture(t)
	ctx := context.Background()

	created, err := Seed(ctx, mgr, s)
	require.NoError(t, err)
	assert.Equal(t, 5, created)

	created, err = Seed(ctx, mgr, s)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	recs, err := s.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestImportAdoptsUnmanagedPlans(t *testing.T) {
	_, s, g := newFixture(t)
	ctx := context.Background()

	g.Put(gateway.UsagePlan{
		ID:       "orphan-1",
		Name:     "orphan plan",
		Throttle: gateway.Throttle{RateLimit: 5, BurstLimit: 10},
		Quota:    gateway.Quota{Limit: 500, Period: "DAY"},
		APIStages: []gateway.APIStage{
			{APIID: "api1", Stage: "prod"},
		},
	})

	adopted, err := Import(ctx, s, g, testRegion)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan-1"}, adopted)

	rec, err := s.Get(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.RateLimit)
	assert.Equal(t, plan.QuotaPeriodDay, rec.QuotaPeriod)
	require.Len(t, rec.Stages, 1)
	assert.Equal(t, plan.FormatStageRef(plan.StageRef{APIID: "api1", StageName: "prod"}, testRegion), rec.Stages[0])
}

func TestImportSkipsGovernedPlans(t *testing.T) {
	mgr, s, g := newFixture(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, manager.CreateInput{
		Name:        "governed",
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.NoError(t, err)

	adopted, err := Import(ctx, s, g, testRegion)
	require.NoError(t, err)
	assert.Empty(t, adopted)

	// The governed record is untouched.
	stored, err := s.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.NotEqual(t, plan.Tier("Imported"), stored.Tier)
}
