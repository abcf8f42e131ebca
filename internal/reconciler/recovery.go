package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"plangov/internal/drift"
	"plangov/internal/events"
	"plangov/internal/gateway"
	"plangov/internal/plan"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// stageAttachAttempts is the number of tries for each stage association
// during recreation. Attempts are separated by a fixed delay.
const stageAttachAttempts = 3

// RecoveryResult describes a completed recreation.
type RecoveryResult struct {
	// NewID is the gateway-assigned identity of the successor plan.
	NewID string

	// AttachedStages is the subset of stage references that re-associated
	// successfully; it becomes the successor record's stage set.
	AttachedStages []string

	// FailedStages lists stage references that could not be re-associated
	// after all attempts.
	FailedStages []string

	// LineagePending is true when the successor exists but the old
	// record's tombstone update failed. A later evaluation of the old
	// identity repairs this.
	LineagePending bool
}

// recover runs the recreation flow for a record whose live plan is gone.
func (p *PlanReconciler) recover(ctx context.Context, rec *plan.GovernanceRecord) (Evaluation, error) {
	ev := Evaluation{Identity: rec.PlanID, Classification: drift.NotApplicable}

	p.emit(events.KindPlanDeletedPending, events.Data{Identity: rec.PlanID, Name: rec.Name},
		recordSnapshot(rec), nil)

	result, err := p.Recreate(ctx, rec)
	if err != nil {
		p.metrics.RecordRecreation(false)
		return ev, fmt.Errorf("recreating %s: %w", rec.PlanID, err)
	}

	p.metrics.RecordRecreation(true)
	p.emit(events.KindPlanDeletedRecovered, events.Data{
		Identity:    rec.PlanID,
		Name:        rec.Name,
		NewIdentity: result.NewID,
	}, recordSnapshot(rec), map[string]interface{}{
		"plan_id":     result.NewID,
		"stage_count": len(result.AttachedStages),
	})

	ev.Outcome = OutcomeRecreated
	ev.NewIdentity = result.NewID
	if len(result.FailedStages) > 0 {
		ev.Failures = append(ev.Failures, CorrectionFailure{
			Attribute: drift.AttrStages,
			Err:       fmt.Errorf("%d stage(s) not re-associated: %s", len(result.FailedStages), strings.Join(result.FailedStages, ", ")),
		})
	}
	p.metrics.RecordEvaluation(ev.Outcome)
	return ev, nil
}

// Recreate builds a successor live plan from the record's configuration and
// records the lineage in the desired state.
//
// Ordering matters: the live plan is created first, then the successor
// record is written with recreated_from, then the old record is tombstoned
// with mustExist semantics. A create failure leaves the desired state
// untouched. A tombstone failure leaves two records claiming the lineage;
// the anomaly is reported and repaired on a later pass.
func (p *PlanReconciler) Recreate(ctx context.Context, rec *plan.GovernanceRecord) (RecoveryResult, error) {
	var result RecoveryResult

	description := strings.TrimSpace(fmt.Sprintf("%s (recreated from %s)", rec.Description, rec.PlanID))
	newID, err := p.gateway.Create(ctx, gateway.CreateInput{
		Name:        rec.Name,
		Description: description,
		Throttle: gateway.Throttle{
			RateLimit:  rec.RateLimit,
			BurstLimit: rec.BurstLimit,
		},
		Quota: gateway.Quota{
			Limit:  rec.QuotaLimit,
			Period: string(rec.QuotaPeriod),
		},
	})
	if err != nil {
		return result, fmt.Errorf("creating successor plan: %w", err)
	}
	result.NewID = newID

	logging.Info("Reconciler", "Created successor plan %s for deleted %s", newID, rec.PlanID)

	for _, ref := range rec.Stages {
		if err := p.attachStage(ctx, newID, ref); err != nil {
			result.FailedStages = append(result.FailedStages, ref)
			logging.Error("Reconciler", err, "Stage %s not re-associated to %s", ref, newID)
			continue
		}
		result.AttachedStages = append(result.AttachedStages, ref)
	}

	now := time.Now().UTC()
	successor := rec.Clone()
	successor.PlanID = newID
	successor.Stages = result.AttachedStages
	successor.Deleted = false
	successor.RecreatedFrom = rec.PlanID
	successor.RecreatedAs = ""
	successor.RecreatedAt = &now
	successor.CreatedAt = now
	successor.DeletedAt = nil

	if err := p.store.Put(ctx, successor); err != nil {
		return result, fmt.Errorf("writing successor record %s: %w", newID, err)
	}

	deleted := true
	if _, err := p.store.ConditionalUpdate(ctx, rec.PlanID, store.RecordPatch{
		Deleted:     &deleted,
		RecreatedAs: &newID,
		DeletedAt:   &now,
	}); err != nil {
		// Successor exists and is governed; only the tombstone is
		// missing. Do not fail the recreation.
		result.LineagePending = true
		logging.Error("Reconciler", err, "Tombstone update failed for %s after recreation as %s", rec.PlanID, newID)
	}

	return result, nil
}

// attachStage associates one stage reference with a live plan, retrying a
// fixed number of times with a fixed delay.
func (p *PlanReconciler) attachStage(ctx context.Context, planID, ref string) error {
	parsed, err := plan.ParseStageRef(ref)
	if err != nil {
		return fmt.Errorf("malformed stage reference %q: %w", ref, err)
	}

	op := gateway.AddStageOp(parsed.APIID, parsed.StageName)

	var lastErr error
	for attempt := 1; attempt <= stageAttachAttempts; attempt++ {
		lastErr = p.gateway.Patch(ctx, planID, []gateway.PatchOp{op})
		if lastErr == nil {
			return nil
		}
		if attempt < stageAttachAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.stageRetryDelay):
			}
		}
	}
	return lastErr
}
