package plan

import (
	"fmt"
	"time"
)

// Tier identifies the commercial tier a usage plan belongs to.
type Tier string

const (
	TierFree       Tier = "Free"
	TierBasic      Tier = "Basic"
	TierPremium    Tier = "Premium"
	TierEnterprise Tier = "Enterprise"
	TierLegacy     Tier = "Legacy"
)

// QuotaPeriod is the window over which a quota limit applies.
type QuotaPeriod string

const (
	QuotaPeriodDay   QuotaPeriod = "DAY"
	QuotaPeriodWeek  QuotaPeriod = "WEEK"
	QuotaPeriodMonth QuotaPeriod = "MONTH"
)

// Valid reports whether the period is one of the supported windows.
func (p QuotaPeriod) Valid() bool {
	switch p {
	case QuotaPeriodDay, QuotaPeriodWeek, QuotaPeriodMonth:
		return true
	}
	return false
}

// LifecycleState describes where a plan is in its lifecycle.
//
// The Active to Deprecated transition is one-way; there is no path back.
type LifecycleState string

const (
	LifecycleActive     LifecycleState = "Active"
	LifecycleDeprecated LifecycleState = "Deprecated"
)

// GovernanceRecord is the desired-state record for one usage plan.
//
// PlanID is the primary key and, for managed plans, equals the identity the
// gateway assigned when the live plan was created. A record is never
// physically removed: deletion is the soft Deleted flag plus a lineage
// pointer to the successor record, preserving audit continuity.
type GovernanceRecord struct {
	PlanID      string
	Name        string
	Tier        Tier
	Description string

	RateLimit  int
	BurstLimit int
	QuotaLimit int
	QuotaPeriod QuotaPeriod

	LifecycleState LifecycleState

	// Stages is the set of canonical stage-reference strings associated
	// with this plan. Order is not significant.
	Stages []string

	// Deleted marks the record as a historical tombstone. Deleted records
	// are never acted upon by reconciliation.
	Deleted bool

	// RecreatedFrom points back at the record this one superseded;
	// RecreatedAs points forward at the successor. Together they form the
	// lineage chain for recreate-after-deletion.
	RecreatedFrom string
	RecreatedAs   string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeprecatedAt *time.Time
	DeletedAt    *time.Time
	RecreatedAt  *time.Time
}

// Validate checks the record's structural invariants.
func (r *GovernanceRecord) Validate() error {
	if r.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.RateLimit < 0 || r.BurstLimit < 0 || r.QuotaLimit < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	if !r.QuotaPeriod.Valid() {
		return fmt.Errorf("quota_period %q is not one of DAY, WEEK, MONTH", r.QuotaPeriod)
	}
	if r.LifecycleState != LifecycleActive && r.LifecycleState != LifecycleDeprecated {
		return fmt.Errorf("lifecycle_state %q is not one of Active, Deprecated", r.LifecycleState)
	}
	if r.RecreatedFrom == r.PlanID && r.RecreatedFrom != "" {
		return fmt.Errorf("recreated_from must not point at the record itself")
	}
	for _, ref := range r.Stages {
		if _, err := ParseStageRef(ref); err != nil {
			return fmt.Errorf("invalid stage reference %q: %w", ref, err)
		}
	}
	return nil
}

// StageSet returns the record's stages as a set.
func (r *GovernanceRecord) StageSet() map[string]bool {
	set := make(map[string]bool, len(r.Stages))
	for _, s := range r.Stages {
		set[s] = true
	}
	return set
}

// Clone returns a deep copy of the record.
func (r *GovernanceRecord) Clone() *GovernanceRecord {
	out := *r
	out.Stages = append([]string(nil), r.Stages...)
	if r.DeprecatedAt != nil {
		t := *r.DeprecatedAt
		out.DeprecatedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		out.DeletedAt = &t
	}
	if r.RecreatedAt != nil {
		t := *r.RecreatedAt
		out.RecreatedAt = &t
	}
	return &out
}
