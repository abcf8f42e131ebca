package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangov/internal/events"
	"plangov/internal/gateway"
	"plangov/internal/plan"
	"plangov/internal/store"
)

const testRegion = "us-east-1"

type captureSink struct {
	events []events.Event
}

func (s *captureSink) Deliver(event events.Event) error {
	s.events = append(s.events, event)
	return nil
}

func newTestManager(t *testing.T) (*PlanManager, *store.Store, *gateway.MemoryGateway, *captureSink) {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g := gateway.NewMemoryGateway()
	sink := &captureSink{}
	return New(s, g, events.NewEmitter(sink), testRegion), s, g, sink
}

func stageRef(apiID, stage string) string {
	return plan.FormatStageRef(plan.StageRef{APIID: apiID, StageName: stage}, testRegion)
}

func TestCreateProvisionsLiveAndRecord(t *testing.T) {
	m, s, g, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "premium",
		Tier:        "premium",
		Description: "premium tier",
		RateLimit:   200,
		BurstLimit:  400,
		QuotaLimit:  100000,
		QuotaPeriod: plan.QuotaPeriodMonth,
		Stages:      []string{stageRef("api1", "prod")},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.PlanID)
	assert.Equal(t, plan.LifecycleActive, rec.LifecycleState)

	live, err := g.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 200, live.Throttle.RateLimit)
	require.Len(t, live.APIStages, 1)
	assert.Equal(t, "api1", live.APIStages[0].APIID)

	stored, err := s.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, rec.Stages, stored.Stages)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateInput{QuotaPeriod: plan.QuotaPeriodDay})
	require.Error(t, err)

	_, err = m.Create(ctx, CreateInput{Name: "x", QuotaPeriod: "YEARLY"})
	require.Error(t, err)
}

func TestCreateGatewayFailureWritesNoRecord(t *testing.T) {
	m, s, g, _ := newTestManager(t)
	ctx := context.Background()

	g.FailNext("create", errors.New("gateway unavailable"))

	_, err := m.Create(ctx, CreateInput{
		Name:        "premium",
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.Error(t, err)

	recs, err := s.ScanAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpdatePatchesRecordAndLive(t *testing.T) {
	m, _, g, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "basic",
		RateLimit:   50,
		BurstLimit:  100,
		QuotaLimit:  10000,
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.NoError(t, err)

	newRate := 75
	updated, err := m.Update(ctx, rec.PlanID, UpdateInput{RateLimit: &newRate})
	require.NoError(t, err)
	assert.Equal(t, 75, updated.RateLimit)

	live, err := g.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 75, live.Throttle.RateLimit)
	assert.Equal(t, 100, live.Throttle.BurstLimit)
}

func TestUpdateConvergesStageSet(t *testing.T) {
	m, s, g, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "basic",
		QuotaPeriod: plan.QuotaPeriodMonth,
		Stages:      []string{stageRef("api1", "prod")},
	})
	require.NoError(t, err)

	stages := []string{stageRef("api2", "prod")}
	_, err = m.Update(ctx, rec.PlanID, UpdateInput{Stages: &stages})
	require.NoError(t, err)

	live, err := g.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	require.Len(t, live.APIStages, 1)
	assert.Equal(t, "api2", live.APIStages[0].APIID)

	stored, err := s.Get(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, stages, stored.Stages)
}

func TestUpdateMissingPlan(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Update(context.Background(), "ghost", UpdateInput{})
	assert.True(t, store.IsNotFound(err))
}

func TestDeprecateIsOneWayAndIdempotent(t *testing.T) {
	m, _, _, sink := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "legacy",
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.NoError(t, err)

	deprecated, err := m.Deprecate(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, plan.LifecycleDeprecated, deprecated.LifecycleState)
	require.NotNil(t, deprecated.DeprecatedAt)
	firstStamp := *deprecated.DeprecatedAt

	require.Len(t, sink.events, 1)
	assert.Equal(t, events.KindPlanDeprecated, sink.events[0].Kind)

	// Second deprecation changes nothing and emits nothing.
	again, err := m.Deprecate(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, firstStamp, *again.DeprecatedAt)
	assert.Len(t, sink.events, 1)
}

func TestLifecycleStateView(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "basic",
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.NoError(t, err)

	lc, err := m.LifecycleState(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, plan.LifecycleActive, lc.State)
	assert.False(t, lc.Deleted)
	assert.Nil(t, lc.DeprecatedAt)

	_, err = m.Deprecate(ctx, rec.PlanID)
	require.NoError(t, err)

	lc, err = m.LifecycleState(ctx, rec.PlanID)
	require.NoError(t, err)
	assert.Equal(t, plan.LifecycleDeprecated, lc.State)
	assert.NotNil(t, lc.DeprecatedAt)
}

func TestVersionsTrackManagerMutations(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateInput{
		Name:        "basic",
		RateLimit:   50,
		QuotaPeriod: plan.QuotaPeriodMonth,
	})
	require.NoError(t, err)

	newRate := 75
	_, err = m.Update(ctx, rec.PlanID, UpdateInput{RateLimit: &newRate})
	require.NoError(t, err)

	versions, err := m.Versions(ctx, rec.PlanID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, store.EventInsert, versions[0].EventType)
	assert.Equal(t, store.EventModify, versions[1].EventType)
	assert.Contains(t, versions[1].ChangeSummary, "Rate limit: 50 -> 75")
}
