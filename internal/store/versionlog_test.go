package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangov/internal/plan"
)

func TestVersionLog_InsertAndModify(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, basicRecord("p1")))

	rate := 75
	_, err := s.ConditionalUpdate(ctx, "p1", RecordPatch{RateLimit: &rate})
	require.NoError(t, err)

	entries, err := s.ListVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, EventInsert, entries[0].EventType)
	assert.Equal(t, "Usage plan created", entries[0].ChangeSummary)
	assert.Nil(t, entries[0].OldValues)
	require.NotNil(t, entries[0].NewValues)
	assert.Equal(t, "Basic Tier", entries[0].NewValues["name"])

	assert.Equal(t, EventModify, entries[1].EventType)
	assert.Equal(t, "Rate limit: 50 -> 75", entries[1].ChangeSummary)
	require.NotNil(t, entries[1].OldValues)
	require.NotNil(t, entries[1].NewValues)
}

func TestVersionLog_LifecycleSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("p1")))

	state := plan.LifecycleDeprecated
	_, err := s.ConditionalUpdate(ctx, "p1", RecordPatch{LifecycleState: &state})
	require.NoError(t, err)

	entries, err := s.ListVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "State: Active -> Deprecated", entries[1].ChangeSummary)
}

func TestVersionLog_NoChangeSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("p1")))

	desc := "new description"
	_, err := s.ConditionalUpdate(ctx, "p1", RecordPatch{Description: &desc})
	require.NoError(t, err)

	entries, err := s.ListVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Minor updates", entries[1].ChangeSummary)
}

func TestVersionLog_TombstoneIsRemoveEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, basicRecord("p1")))

	deleted := true
	successor := "gw-new1"
	now := time.Now().UTC()
	_, err := s.ConditionalUpdate(ctx, "p1", RecordPatch{
		Deleted:     &deleted,
		RecreatedAs: &successor,
		DeletedAt:   &now,
	})
	require.NoError(t, err)

	entries, err := s.ListVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, EventRemove, entries[1].EventType)
	assert.Equal(t, "Usage plan deleted, superseded by gw-new1", entries[1].ChangeSummary)
	require.NotNil(t, entries[1].OldValues)
	require.NotNil(t, entries[1].NewValues)
	assert.Equal(t, true, entries[1].NewValues["deleted"])

	// Patches after the tombstone stay ordinary modifications.
	rate := 60
	_, err = s.ConditionalUpdate(ctx, "p1", RecordPatch{RateLimit: &rate})
	require.NoError(t, err)

	entries, err = s.ListVersions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EventModify, entries[2].EventType)
}

func TestChangeSummary_MultipleChanges(t *testing.T) {
	before := basicRecord("p1")
	after := before.Clone()
	after.RateLimit = 75
	after.QuotaLimit = 20000

	got := changeSummary(before, after)
	assert.Equal(t, "Rate limit: 50 -> 75; Quota: 10000 -> 20000", got)
}
