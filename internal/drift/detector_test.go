package drift

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plangov/internal/gateway"
	"plangov/internal/plan"
)

const region = "us-east-1"

func desired(rate, burst, quota int, stages ...string) *plan.GovernanceRecord {
	return &plan.GovernanceRecord{
		PlanID:         "basic-tier-001",
		Name:           "Basic Tier",
		Tier:           plan.TierBasic,
		RateLimit:      rate,
		BurstLimit:     burst,
		QuotaLimit:     quota,
		QuotaPeriod:    plan.QuotaPeriodMonth,
		LifecycleState: plan.LifecycleActive,
		Stages:         stages,
	}
}

func live(rate, burst, quota int, stages ...gateway.APIStage) *gateway.UsagePlan {
	return &gateway.UsagePlan{
		ID:        "basic-tier-001",
		Name:      "Basic Tier",
		Throttle:  gateway.Throttle{RateLimit: rate, BurstLimit: burst},
		Quota:     gateway.Quota{Limit: quota, Period: "MONTH"},
		APIStages: stages,
	}
}

func TestDetect_Compliant(t *testing.T) {
	rec := Detect(desired(50, 100, 10000), live(50, 100, 10000), region)
	assert.Equal(t, Compliant, rec.Classification)
	assert.Empty(t, rec.Mismatches)
	assert.False(t, rec.Drifted())
}

func TestDetect_RateDrift(t *testing.T) {
	rec := Detect(desired(50, 100, 10000), live(25, 100, 10000), region)
	require.Equal(t, NonCompliant, rec.Classification)
	require.Len(t, rec.Mismatches, 1)
	assert.Equal(t, AttrRateLimit, rec.Mismatches[0].Attribute)
	assert.Equal(t, "50", rec.Mismatches[0].Desired)
	assert.Equal(t, "25", rec.Mismatches[0].Actual)
}

func TestDetect_AnySingleMismatchForcesNonCompliant(t *testing.T) {
	tests := []struct {
		name string
		live *gateway.UsagePlan
		attr Attribute
	}{
		{"rate", live(25, 100, 10000), AttrRateLimit},
		{"burst", live(50, 200, 10000), AttrBurstLimit},
		{"quota", live(50, 100, 5000), AttrQuotaLimit},
		{"stages", live(50, 100, 10000, gateway.APIStage{APIID: "api1", Stage: "dev"}), AttrStages},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := Detect(desired(50, 100, 10000), test.live, region)
			require.Equal(t, NonCompliant, rec.Classification)
			require.Len(t, rec.Mismatches, 1)
			assert.Equal(t, test.attr, rec.Mismatches[0].Attribute)
		})
	}
}

func TestDetect_StageSetBothDirections(t *testing.T) {
	wanted := plan.FormatStageRef(plan.StageRef{APIID: "api1", StageName: "dev"}, region)
	shared := plan.FormatStageRef(plan.StageRef{APIID: "api2", StageName: "prod"}, region)

	rec := Detect(
		desired(50, 100, 10000, wanted, shared),
		live(50, 100, 10000,
			gateway.APIStage{APIID: "api2", Stage: "prod"},
			gateway.APIStage{APIID: "api3", Stage: "test"},
		),
		region,
	)

	require.Equal(t, NonCompliant, rec.Classification)
	assert.Equal(t, 1, rec.MissingLive, "api1/dev desired but not live")
	assert.Equal(t, 1, rec.ExtraLive, "api3/test live but not desired")

	// Only counts are reported, never the full stage contents.
	for _, m := range rec.Mismatches {
		assert.NotContains(t, m.Desired, "restapis")
		assert.NotContains(t, m.Actual, "restapis")
	}
}

func TestDetect_StageRegionCanonicalisation(t *testing.T) {
	ref := plan.FormatStageRef(plan.StageRef{APIID: "api1", StageName: "dev"}, "eu-west-1")
	rec := Detect(
		desired(50, 100, 10000, ref),
		live(50, 100, 10000, gateway.APIStage{APIID: "api1", Stage: "dev"}),
		"eu-west-1",
	)
	assert.Equal(t, Compliant, rec.Classification)
}

func TestDetect_NilLiveIsNotApplicable(t *testing.T) {
	rec := Detect(desired(50, 100, 10000), nil, region)
	assert.Equal(t, NotApplicable, rec.Classification)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := Truncate(long, MaxAnnotationLength)
	assert.Len(t, got, 256)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("x", 253), got[:253])

	short := strings.Repeat("y", 200)
	assert.Equal(t, short, Truncate(short, MaxAnnotationLength))

	exact := strings.Repeat("z", 256)
	assert.Equal(t, exact, Truncate(exact, MaxAnnotationLength))
}

func TestTruncate_MultibyteCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 300)
	got := Truncate(long, MaxAnnotationLength)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxAnnotationLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("ü", 253), strings.TrimSuffix(got, "..."))

	// Rune count, not byte count, decides whether to truncate at all.
	fits := strings.Repeat("é", 200)
	assert.Equal(t, fits, Truncate(fits, MaxAnnotationLength))
}

func TestDetect_AnnotationTruncated(t *testing.T) {
	rec := desired(50, 100, 10000)
	rec.PlanID = strings.Repeat("p", 400)
	out := Detect(rec, live(25, 100, 10000), region)
	assert.LessOrEqual(t, len(out.Annotation), MaxAnnotationLength)
	assert.True(t, strings.HasSuffix(out.Annotation, "..."))
}
