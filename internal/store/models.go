package store

import (
	"encoding/json"
	"time"

	"plangov/internal/plan"
)

// usagePlanRow is the gorm persistence shape of a GovernanceRecord.
// Stages are stored as a JSON array so the row stays a single-table record
// with plan_id as primary key.
type usagePlanRow struct {
	PlanID      string `gorm:"column:plan_id;primaryKey"`
	Name        string `gorm:"column:name;index"`
	Tier        string `gorm:"column:tier"`
	Description string `gorm:"column:description"`

	RateLimit   int    `gorm:"column:rate_limit"`
	BurstLimit  int    `gorm:"column:burst_limit"`
	QuotaLimit  int    `gorm:"column:quota_limit"`
	QuotaPeriod string `gorm:"column:quota_period"`

	LifecycleState string `gorm:"column:lifecycle_state"`
	StagesJSON     string `gorm:"column:stages"`

	Deleted       bool   `gorm:"column:deleted"`
	RecreatedFrom string `gorm:"column:recreated_from"`
	RecreatedAs   string `gorm:"column:recreated_as"`

	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
	DeprecatedAt *time.Time `gorm:"column:deprecated_at"`
	DeletedAt    *time.Time `gorm:"column:deleted_at"`
	RecreatedAt  *time.Time `gorm:"column:recreated_at"`
}

func (usagePlanRow) TableName() string { return "usage_plans" }

// versionLogRow is one immutable version log entry. The composite primary
// key (plan_id, version_timestamp) matches the append-only access pattern:
// entries are only ever inserted and listed.
type versionLogRow struct {
	PlanID           string `gorm:"column:plan_id;primaryKey"`
	VersionTimestamp string `gorm:"column:version_timestamp;primaryKey"`
	EventType        string `gorm:"column:event_type"`
	OldValues        string `gorm:"column:old_values"`
	NewValues        string `gorm:"column:new_values"`
	ChangeSummary    string `gorm:"column:change_summary"`
}

func (versionLogRow) TableName() string { return "usage_plan_versions" }

func rowFromRecord(r *plan.GovernanceRecord) (*usagePlanRow, error) {
	stages, err := json.Marshal(r.Stages)
	if err != nil {
		return nil, err
	}
	return &usagePlanRow{
		PlanID:         r.PlanID,
		Name:           r.Name,
		Tier:           string(r.Tier),
		Description:    r.Description,
		RateLimit:      r.RateLimit,
		BurstLimit:     r.BurstLimit,
		QuotaLimit:     r.QuotaLimit,
		QuotaPeriod:    string(r.QuotaPeriod),
		LifecycleState: string(r.LifecycleState),
		StagesJSON:     string(stages),
		Deleted:        r.Deleted,
		RecreatedFrom:  r.RecreatedFrom,
		RecreatedAs:    r.RecreatedAs,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DeprecatedAt:   r.DeprecatedAt,
		DeletedAt:      r.DeletedAt,
		RecreatedAt:    r.RecreatedAt,
	}, nil
}

func recordFromRow(row *usagePlanRow) (*plan.GovernanceRecord, error) {
	var stages []string
	if row.StagesJSON != "" {
		if err := json.Unmarshal([]byte(row.StagesJSON), &stages); err != nil {
			return nil, err
		}
	}
	return &plan.GovernanceRecord{
		PlanID:         row.PlanID,
		Name:           row.Name,
		Tier:           plan.Tier(row.Tier),
		Description:    row.Description,
		RateLimit:      row.RateLimit,
		BurstLimit:     row.BurstLimit,
		QuotaLimit:     row.QuotaLimit,
		QuotaPeriod:    plan.QuotaPeriod(row.QuotaPeriod),
		LifecycleState: plan.LifecycleState(row.LifecycleState),
		Stages:         stages,
		Deleted:        row.Deleted,
		RecreatedFrom:  row.RecreatedFrom,
		RecreatedAs:    row.RecreatedAs,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		DeprecatedAt:   row.DeprecatedAt,
		DeletedAt:      row.DeletedAt,
		RecreatedAt:    row.RecreatedAt,
	}, nil
}
