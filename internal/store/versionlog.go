package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"plangov/internal/plan"
)

// EventType classifies a version log entry.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventModify EventType = "MODIFY"
	EventRemove EventType = "REMOVE"
)

// VersionEntry is one immutable entry of the plan version log.
type VersionEntry struct {
	PlanID           string                 `json:"plan_id"`
	VersionTimestamp string                 `json:"version_timestamp"`
	EventType        EventType              `json:"event_type"`
	OldValues        map[string]interface{} `json:"old_values,omitempty"`
	NewValues        map[string]interface{} `json:"new_values,omitempty"`
	ChangeSummary    string                 `json:"change_summary"`
}

func newVersionRow(planID string, eventType EventType, before, after *plan.GovernanceRecord) (*versionLogRow, error) {
	row := &versionLogRow{
		PlanID:           planID,
		VersionTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType:        string(eventType),
	}

	if before != nil {
		data, err := json.Marshal(snapshot(before))
		if err != nil {
			return nil, err
		}
		row.OldValues = string(data)
	}
	if after != nil {
		data, err := json.Marshal(snapshot(after))
		if err != nil {
			return nil, err
		}
		row.NewValues = string(data)
	}

	switch eventType {
	case EventInsert:
		row.ChangeSummary = "Usage plan created"
	case EventRemove:
		if after != nil && after.RecreatedAs != "" {
			row.ChangeSummary = fmt.Sprintf("Usage plan deleted, superseded by %s", after.RecreatedAs)
		} else {
			row.ChangeSummary = "Usage plan deleted"
		}
	case EventModify:
		row.ChangeSummary = changeSummary(before, after)
	}
	return row, nil
}

// snapshot flattens a record into the loosely keyed shape stored in the
// version log, keeping entries readable without the Go type.
func snapshot(r *plan.GovernanceRecord) map[string]interface{} {
	return map[string]interface{}{
		"plan_id":         r.PlanID,
		"name":            r.Name,
		"tier":            string(r.Tier),
		"rate_limit":      r.RateLimit,
		"burst_limit":     r.BurstLimit,
		"quota_limit":     r.QuotaLimit,
		"quota_period":    string(r.QuotaPeriod),
		"lifecycle_state": string(r.LifecycleState),
		"stages":          r.Stages,
		"deleted":         r.Deleted,
		"recreated_from":  r.RecreatedFrom,
		"recreated_as":    r.RecreatedAs,
	}
}

// changeSummary produces a human-readable one-liner describing what changed
// between two record versions.
func changeSummary(before, after *plan.GovernanceRecord) string {
	if before == nil || after == nil {
		return "Usage plan updated"
	}

	var changes []string
	if before.LifecycleState != after.LifecycleState {
		changes = append(changes, fmt.Sprintf("State: %s -> %s", before.LifecycleState, after.LifecycleState))
	}
	if before.RateLimit != after.RateLimit {
		changes = append(changes, fmt.Sprintf("Rate limit: %d -> %d", before.RateLimit, after.RateLimit))
	}
	if before.BurstLimit != after.BurstLimit {
		changes = append(changes, fmt.Sprintf("Burst limit: %d -> %d", before.BurstLimit, after.BurstLimit))
	}
	if before.QuotaLimit != after.QuotaLimit {
		changes = append(changes, fmt.Sprintf("Quota: %d -> %d", before.QuotaLimit, after.QuotaLimit))
	}
	if before.Tier != after.Tier {
		changes = append(changes, fmt.Sprintf("Tier: %s -> %s", before.Tier, after.Tier))
	}
	if len(changes) == 0 {
		return "Minor updates"
	}
	return strings.Join(changes, "; ")
}

// ListVersions returns the version log for one plan, oldest first.
func (s *Store) ListVersions(ctx context.Context, planID string) ([]VersionEntry, error) {
	var rows []versionLogRow
	err := s.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("version_timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &UnavailableError{Op: "list_versions", Err: err}
	}

	out := make([]VersionEntry, 0, len(rows))
	for _, row := range rows {
		entry := VersionEntry{
			PlanID:           row.PlanID,
			VersionTimestamp: row.VersionTimestamp,
			EventType:        EventType(row.EventType),
			ChangeSummary:    row.ChangeSummary,
		}
		if row.OldValues != "" {
			if err := json.Unmarshal([]byte(row.OldValues), &entry.OldValues); err != nil {
				return nil, &UnavailableError{Op: "list_versions", Err: err}
			}
		}
		if row.NewValues != "" {
			if err := json.Unmarshal([]byte(row.NewValues), &entry.NewValues); err != nil {
				return nil, &UnavailableError{Op: "list_versions", Err: err}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
