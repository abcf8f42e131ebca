package drift

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"plangov/internal/gateway"
	"plangov/internal/plan"
)

// Classification is the compliance verdict of one drift evaluation.
type Classification string

const (
	// Compliant means every compared dimension matched.
	Compliant Classification = "COMPLIANT"

	// NonCompliant means at least one dimension diverged.
	NonCompliant Classification = "NON_COMPLIANT"

	// NotApplicable means the evaluation could not be performed, e.g. the
	// live resource does not exist.
	NotApplicable Classification = "NOT_APPLICABLE"
)

// Attribute names a compared dimension.
type Attribute string

const (
	AttrRateLimit  Attribute = "rate_limit"
	AttrBurstLimit Attribute = "burst_limit"
	AttrQuotaLimit Attribute = "quota_limit"
	AttrStages     Attribute = "stages"
)

// Mismatch is one diverged attribute with both sides' values.
type Mismatch struct {
	Attribute Attribute `json:"attribute"`
	Desired   string    `json:"desired_value"`
	Actual    string    `json:"actual_value"`
}

// Record is the structured diff of one evaluation. It is derived and
// ephemeral: emitted and logged, never persisted.
type Record struct {
	Classification Classification `json:"classification"`
	Mismatches     []Mismatch     `json:"mismatches,omitempty"`
	Annotation     string         `json:"annotation"`

	// MissingLive counts stages present on the desired record but not on
	// the live plan; ExtraLive counts the reverse. Full stage contents
	// are deliberately not carried: annotations have a hard length limit.
	MissingLive int `json:"missing_live,omitempty"`
	ExtraLive   int `json:"extra_live,omitempty"`
}

// Drifted reports whether the record carries any mismatch.
func (r *Record) Drifted() bool {
	return r.Classification == NonCompliant
}

// MaxAnnotationLength is the downstream annotation limit. Longer texts are
// truncated to exactly this length ending in an ellipsis marker.
const MaxAnnotationLength = 256

// Truncate shortens s to at most max characters. Truncation cuts at exactly
// max-3 characters and appends "...". Characters are counted as code
// points so a multibyte annotation is never cut mid-rune.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}

// Detect compares a governance record with a live usage plan across rate
// limit, burst limit, quota limit and the stage-association set. The region
// is the deployment region used to canonicalize live stage pairs.
//
// A nil live plan yields NOT_APPLICABLE: absence is a lifecycle condition
// handled by the reconciler, not a drift.
func Detect(rec *plan.GovernanceRecord, live *gateway.UsagePlan, region string) Record {
	if live == nil {
		return Record{
			Classification: NotApplicable,
			Annotation:     Truncate(fmt.Sprintf("Usage plan %s has no live resource", rec.PlanID), MaxAnnotationLength),
		}
	}

	var mismatches []Mismatch

	if rec.RateLimit != live.Throttle.RateLimit {
		mismatches = append(mismatches, Mismatch{
			Attribute: AttrRateLimit,
			Desired:   fmt.Sprintf("%d", rec.RateLimit),
			Actual:    fmt.Sprintf("%d", live.Throttle.RateLimit),
		})
	}
	if rec.BurstLimit != live.Throttle.BurstLimit {
		mismatches = append(mismatches, Mismatch{
			Attribute: AttrBurstLimit,
			Desired:   fmt.Sprintf("%d", rec.BurstLimit),
			Actual:    fmt.Sprintf("%d", live.Throttle.BurstLimit),
		})
	}
	if rec.QuotaLimit != live.Quota.Limit {
		mismatches = append(mismatches, Mismatch{
			Attribute: AttrQuotaLimit,
			Desired:   fmt.Sprintf("%d", rec.QuotaLimit),
			Actual:    fmt.Sprintf("%d", live.Quota.Limit),
		})
	}

	missingLive, extraLive := diffStages(rec, live, region)
	if missingLive > 0 || extraLive > 0 {
		mismatches = append(mismatches, Mismatch{
			Attribute: AttrStages,
			Desired:   fmt.Sprintf("%d unmatched", missingLive),
			Actual:    fmt.Sprintf("%d unmatched", extraLive),
		})
	}

	out := Record{
		Mismatches:  mismatches,
		MissingLive: missingLive,
		ExtraLive:   extraLive,
	}
	if len(mismatches) == 0 {
		out.Classification = Compliant
		out.Annotation = "Resource complies with governance record"
		return out
	}

	out.Classification = NonCompliant
	out.Annotation = Truncate(annotate(rec.PlanID, mismatches), MaxAnnotationLength)
	return out
}

// diffStages canonicalizes the live plan's stage pairs and computes both
// set differences against the record's stage references.
func diffStages(rec *plan.GovernanceRecord, live *gateway.UsagePlan, region string) (missingLive, extraLive int) {
	liveSet := make(map[string]bool, len(live.APIStages))
	for _, s := range live.APIStages {
		ref := plan.FormatStageRef(plan.StageRef{APIID: s.APIID, StageName: s.Stage}, region)
		liveSet[ref] = true
	}

	desiredSet := rec.StageSet()
	for ref := range desiredSet {
		if !liveSet[ref] {
			missingLive++
		}
	}
	for ref := range liveSet {
		if !desiredSet[ref] {
			extraLive++
		}
	}
	return missingLive, extraLive
}

func annotate(planID string, mismatches []Mismatch) string {
	parts := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		parts = append(parts, fmt.Sprintf("%s: desired=%s actual=%s", m.Attribute, m.Desired, m.Actual))
	}
	return fmt.Sprintf("VIOLATIONS for %s: %s", planID, strings.Join(parts, "; "))
}
