package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"plangov/internal/drift"
	"plangov/internal/events"
	"plangov/internal/gateway"
	"plangov/internal/plan"
	"plangov/internal/resolver"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// PlanReconciler is the level-triggered convergence engine for usage plan
// identities. Each evaluation observes desired and live state and performs
// the minimal corrective action: nothing, targeted patches, deletion of an
// unmanaged orphan (strict mode), or recreation with lineage.
type PlanReconciler struct {
	store    *store.Store
	gateway  gateway.Accessor
	resolver *resolver.Resolver
	emitter  *events.Emitter
	metrics  *Metrics

	// region canonicalizes live stage pairs into stage references.
	region string

	// strictMode deletes unmanaged live plans instead of only reporting.
	strictMode bool

	// stageRetryDelay is the fixed delay between stage association
	// attempts during recreation.
	stageRetryDelay time.Duration

	// batchParallelism bounds concurrent evaluations in EvaluateAll.
	batchParallelism int
}

// Config configures a PlanReconciler.
type Config struct {
	// Region is the deployment region for stage reference canonicalization.
	Region string

	// StrictMode enables deletion of unmanaged live plans.
	StrictMode bool

	// StageRetryDelay is the delay between stage association retries.
	// Defaults to 2 seconds.
	StageRetryDelay time.Duration

	// BatchParallelism bounds concurrent evaluations during an
	// evaluate-all pass. Defaults to 4.
	BatchParallelism int
}

// NewPlanReconciler creates the reconciler over the given store and gateway.
// The emitter and metrics may be nil.
func NewPlanReconciler(s *store.Store, g gateway.Accessor, emitter *events.Emitter, metrics *Metrics, cfg Config) *PlanReconciler {
	if cfg.StageRetryDelay == 0 {
		cfg.StageRetryDelay = 2 * time.Second
	}
	if cfg.BatchParallelism == 0 {
		cfg.BatchParallelism = 4
	}
	return &PlanReconciler{
		store:            s,
		gateway:          g,
		resolver:         resolver.New(s, g),
		emitter:          emitter,
		metrics:          metrics,
		region:           cfg.Region,
		strictMode:       cfg.StrictMode,
		stageRetryDelay:  cfg.StageRetryDelay,
		batchParallelism: cfg.BatchParallelism,
	}
}

// Evaluate reconciles one identity. Read failures abort the evaluation with
// an error; write failures are tolerated per attribute and reported in the
// returned Evaluation so the failed subset stays drifted for a later pass.
func (p *PlanReconciler) Evaluate(ctx context.Context, identity string) (Evaluation, error) {
	rec, err := p.store.Get(ctx, identity)
	if err != nil {
		if store.IsNotFound(err) {
			return p.evaluateUnrecorded(ctx, identity)
		}
		return Evaluation{Identity: identity}, fmt.Errorf("reading governance record %s: %w", identity, err)
	}

	return p.evaluateRecord(ctx, rec)
}

// evaluateRecord runs the state machine for an identity with a known record.
func (p *PlanReconciler) evaluateRecord(ctx context.Context, rec *plan.GovernanceRecord) (Evaluation, error) {
	ev := Evaluation{Identity: rec.PlanID}

	// Soft-deleted records are permanent no-ops.
	if rec.Deleted {
		ev.Classification = drift.NotApplicable
		ev.Outcome = OutcomeTombstone
		p.metrics.RecordEvaluation(ev.Outcome)
		return ev, nil
	}

	live, err := p.resolver.ResolveLive(ctx, rec)
	if err != nil {
		return ev, fmt.Errorf("resolving live plan for %s: %w", rec.PlanID, err)
	}

	if live == nil {
		return p.recover(ctx, rec)
	}

	// A resolution through name or configuration can land on a successor
	// of a recreation whose tombstone write failed. Repair the lineage
	// instead of treating the successor as this record's live state.
	if live.ID != rec.PlanID {
		if repaired, err := p.repairLineage(ctx, rec, live); err != nil {
			return ev, err
		} else if repaired {
			ev.Classification = drift.NotApplicable
			ev.Outcome = OutcomeLineageRepaired
			p.metrics.RecordEvaluation(ev.Outcome)
			return ev, nil
		}
	}

	record := drift.Detect(rec, live, p.region)
	ev.Classification = record.Classification
	ev.Annotation = record.Annotation

	if !record.Drifted() {
		ev.Outcome = OutcomeCompliant
		p.metrics.RecordEvaluation(ev.Outcome)
		return ev, nil
	}

	for _, mismatch := range record.Mismatches {
		p.metrics.RecordDrift(string(mismatch.Attribute))
	}

	return p.correct(ctx, rec, live, record, ev)
}

// evaluateUnrecorded handles an identity with no governance record under the
// direct key: either another record claims the live plan through a resolution
// tier, or the plan is unmanaged.
func (p *PlanReconciler) evaluateUnrecorded(ctx context.Context, identity string) (Evaluation, error) {
	ev := Evaluation{Identity: identity}

	live, err := p.gateway.Get(ctx, identity)
	if err != nil {
		if gateway.IsNotFound(err) {
			ev.Classification = drift.NotApplicable
			ev.Outcome = OutcomeUnknown
			p.metrics.RecordEvaluation(ev.Outcome)
			return ev, nil
		}
		return ev, fmt.Errorf("reading live plan %s: %w", identity, err)
	}

	rec, err := p.resolver.ResolveRecord(ctx, live)
	if err != nil {
		return ev, fmt.Errorf("resolving record for live plan %s: %w", identity, err)
	}
	if rec != nil {
		return p.evaluateRecord(ctx, rec)
	}

	return p.handleUnmanaged(ctx, live)
}

// handleUnmanaged reports a live plan no record claims and, in strict mode,
// deletes it.
func (p *PlanReconciler) handleUnmanaged(ctx context.Context, live *gateway.UsagePlan) (Evaluation, error) {
	ev := Evaluation{
		Identity:       live.ID,
		Classification: drift.NonCompliant,
		Annotation:     drift.Truncate(fmt.Sprintf("Usage plan %s (%s) is not governed by any record", live.ID, live.Name), drift.MaxAnnotationLength),
	}

	detail := ""
	if p.strictMode {
		if err := p.gateway.Delete(ctx, live.ID); err != nil && !gateway.IsNotFound(err) {
			return ev, fmt.Errorf("deleting unmanaged plan %s: %w", live.ID, err)
		}
		ev.Outcome = OutcomeUnmanagedDeleted
		detail = " and has been deleted"
		logging.Info("Reconciler", "Deleted unmanaged usage plan %s (%s)", live.ID, live.Name)
	} else {
		ev.Outcome = OutcomeUnmanaged
		logging.Warn("Reconciler", "Unmanaged usage plan %s (%s) detected", live.ID, live.Name)
	}

	p.emit(events.KindUnmanagedDetected, events.Data{
		Identity: live.ID,
		Name:     live.Name,
		Detail:   detail,
	}, livePlanSnapshot(live), nil)

	p.metrics.RecordEvaluation(ev.Outcome)
	return ev, nil
}

// correct applies one targeted gateway patch per drifted attribute. Patches
// are independent: a failure leaves already-applied patches in place and is
// reported, never rolled back.
func (p *PlanReconciler) correct(ctx context.Context, rec *plan.GovernanceRecord, live *gateway.UsagePlan, record drift.Record, ev Evaluation) (Evaluation, error) {
	before := livePlanSnapshot(live)

	for _, mismatch := range record.Mismatches {
		switch mismatch.Attribute {
		case drift.AttrRateLimit, drift.AttrBurstLimit, drift.AttrQuotaLimit:
			op := gateway.ReplaceOp(patchPath(mismatch.Attribute), mismatch.Desired)
			if err := p.gateway.Patch(ctx, live.ID, []gateway.PatchOp{op}); err != nil {
				ev.Failures = append(ev.Failures, CorrectionFailure{Attribute: mismatch.Attribute, Err: err})
				p.metrics.RecordCorrection(false)
				logging.Error("Reconciler", err, "Correction of %s failed for %s", mismatch.Attribute, live.ID)
				continue
			}
			ev.Corrected = append(ev.Corrected, mismatch.Attribute)
			p.metrics.RecordCorrection(true)

		case drift.AttrStages:
			corrected, failures := p.correctStages(ctx, rec, live)
			if corrected {
				ev.Corrected = append(ev.Corrected, drift.AttrStages)
			}
			ev.Failures = append(ev.Failures, failures...)
		}
	}

	data := events.Data{
		Identity: rec.PlanID,
		Name:     rec.Name,
		Detail:   correctionDetail(ev.Corrected),
	}

	if len(ev.Failures) > 0 {
		ev.Outcome = OutcomeCorrectionPartial
		data.Error = failureDetail(ev.Failures)
		p.emit(events.KindCorrectionFailed, data, before, recordSnapshot(rec))
	} else {
		ev.Outcome = OutcomeCorrected
		p.emit(events.KindDriftCorrected, data, before, recordSnapshot(rec))
		logging.Info("Reconciler", "Corrected drift on %s: %s", rec.PlanID, data.Detail)
	}

	p.metrics.RecordEvaluation(ev.Outcome)
	return ev, nil
}

// correctStages converges the live stage-association set toward the record's
// stage references: missing stages are added, extra stages removed. Each
// association is an independent patch with continue-on-error.
func (p *PlanReconciler) correctStages(ctx context.Context, rec *plan.GovernanceRecord, live *gateway.UsagePlan) (corrected bool, failures []CorrectionFailure) {
	desired := rec.StageSet()
	actual := make(map[string]gateway.APIStage, len(live.APIStages))
	for _, s := range live.APIStages {
		actual[plan.FormatStageRef(plan.StageRef{APIID: s.APIID, StageName: s.Stage}, p.region)] = s
	}

	applied := 0
	for _, ref := range rec.Stages {
		if _, ok := actual[ref]; ok {
			continue
		}
		parsed, err := plan.ParseStageRef(ref)
		if err != nil {
			logging.Warn("Reconciler", "Skipping malformed stage reference %q on %s: %v", ref, rec.PlanID, err)
			continue
		}
		op := gateway.AddStageOp(parsed.APIID, parsed.StageName)
		if err := p.gateway.Patch(ctx, live.ID, []gateway.PatchOp{op}); err != nil {
			failures = append(failures, CorrectionFailure{Attribute: drift.AttrStages, Err: fmt.Errorf("associating %s: %w", ref, err)})
			p.metrics.RecordCorrection(false)
			continue
		}
		applied++
		p.metrics.RecordCorrection(true)
	}

	for ref, stage := range actual {
		if desired[ref] {
			continue
		}
		op := gateway.RemoveStageOp(stage.APIID, stage.Stage)
		if err := p.gateway.Patch(ctx, live.ID, []gateway.PatchOp{op}); err != nil {
			failures = append(failures, CorrectionFailure{Attribute: drift.AttrStages, Err: fmt.Errorf("dissociating %s: %w", ref, err)})
			p.metrics.RecordCorrection(false)
			continue
		}
		applied++
		p.metrics.RecordCorrection(true)
	}

	return applied > 0, failures
}

// repairLineage tombstones rec when live is the successor of a recreation
// whose old-record update failed. Returns true when a repair happened.
func (p *PlanReconciler) repairLineage(ctx context.Context, rec *plan.GovernanceRecord, live *gateway.UsagePlan) (bool, error) {
	successor, err := p.store.Get(ctx, live.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading successor record %s: %w", live.ID, err)
	}
	if successor.RecreatedFrom != rec.PlanID {
		return false, nil
	}

	now := time.Now().UTC()
	deleted := true
	if _, err := p.store.ConditionalUpdate(ctx, rec.PlanID, store.RecordPatch{
		Deleted:     &deleted,
		RecreatedAs: &successor.PlanID,
		DeletedAt:   &now,
	}); err != nil {
		return false, fmt.Errorf("repairing lineage of %s: %w", rec.PlanID, err)
	}

	logging.Info("Reconciler", "Repaired lineage: %s tombstoned, successor %s", rec.PlanID, successor.PlanID)
	return true, nil
}

// Identities returns every identity worth evaluating: all record identities
// plus live plans that no record claims under any resolution tier.
func (p *PlanReconciler) Identities(ctx context.Context) ([]string, error) {
	recs, err := p.store.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning governance records: %w", err)
	}

	seen := make(map[string]bool, len(recs))
	identities := make([]string, 0, len(recs))
	for i := range recs {
		identities = append(identities, recs[i].PlanID)
		seen[recs[i].PlanID] = true
	}

	plans, err := p.gateway.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing live plans: %w", err)
	}
	for i := range plans {
		if seen[plans[i].ID] {
			continue
		}
		rec, err := p.resolver.ResolveRecord(ctx, &plans[i])
		if err != nil {
			return nil, fmt.Errorf("resolving record for live plan %s: %w", plans[i].ID, err)
		}
		if rec == nil {
			identities = append(identities, plans[i].ID)
			seen[plans[i].ID] = true
		}
	}

	return identities, nil
}

// EvaluateAll evaluates every known identity. Evaluations are independent:
// one identity's failure is collected in the result, never aborts the batch.
// Only failure to enumerate identities aborts.
func (p *PlanReconciler) EvaluateAll(ctx context.Context) (BatchResult, error) {
	identities, err := p.Identities(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Failures: make(map[string]error)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchParallelism)

	for _, identity := range identities {
		identity := identity
		g.Go(func() error {
			ev, err := p.Evaluate(gctx, identity)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[identity] = err
				return nil
			}
			result.Evaluations = append(result.Evaluations, ev)
			return nil
		})
	}

	// Workers never return errors, so this only waits.
	_ = g.Wait()

	logging.Info("Reconciler", "Evaluated %d identities (%d failures)",
		len(identities), len(result.Failures))
	return result, nil
}

// ChangeOperation is an upstream change notification kind.
type ChangeOperation string

const (
	OperationCreate ChangeOperation = "Create"
	OperationUpdate ChangeOperation = "Update"
	OperationDelete ChangeOperation = "Delete"
)

// HandleChange maps an upstream change notification onto an evaluation.
// Create and Update evaluate the identity. Delete of a governed identity
// emits a deletion event and evaluates, which triggers recreation; deletion
// of an unknown identity is logged only.
func (p *PlanReconciler) HandleChange(ctx context.Context, op ChangeOperation, identity string) (Evaluation, error) {
	switch op {
	case OperationCreate, OperationUpdate:
		return p.Evaluate(ctx, identity)

	case OperationDelete:
		rec, err := p.store.Get(ctx, identity)
		if err != nil {
			if store.IsNotFound(err) {
				logging.Info("Reconciler", "Deletion of unmanaged plan %s, nothing to do", identity)
				return Evaluation{Identity: identity, Classification: drift.NotApplicable, Outcome: OutcomeUnknown}, nil
			}
			return Evaluation{Identity: identity}, fmt.Errorf("reading governance record %s: %w", identity, err)
		}
		if !rec.Deleted {
			p.emit(events.KindManagedPlanDeleted, events.Data{Identity: rec.PlanID, Name: rec.Name},
				recordSnapshot(rec), nil)
		}
		return p.evaluateRecord(ctx, rec)

	default:
		return Evaluation{Identity: identity}, fmt.Errorf("unknown change operation %q", op)
	}
}

func (p *PlanReconciler) emit(kind events.Kind, data events.Data, before, after map[string]interface{}) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(kind, data, before, after)
}

func patchPath(attr drift.Attribute) string {
	switch attr {
	case drift.AttrRateLimit:
		return gateway.PathRateLimit
	case drift.AttrBurstLimit:
		return gateway.PathBurstLimit
	case drift.AttrQuotaLimit:
		return gateway.PathQuotaLimit
	}
	return ""
}

func correctionDetail(attrs []drift.Attribute) string {
	if len(attrs) == 0 {
		return "no attributes corrected"
	}
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = string(a)
	}
	return "corrected " + strings.Join(parts, ", ")
}

func failureDetail(failures []CorrectionFailure) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Attribute, f.Err)
	}
	return strings.Join(parts, "; ")
}

func livePlanSnapshot(live *gateway.UsagePlan) map[string]interface{} {
	return map[string]interface{}{
		"id":          live.ID,
		"name":        live.Name,
		"rate_limit":  live.Throttle.RateLimit,
		"burst_limit": live.Throttle.BurstLimit,
		"quota_limit": live.Quota.Limit,
		"stage_count": len(live.APIStages),
	}
}

func recordSnapshot(rec *plan.GovernanceRecord) map[string]interface{} {
	return map[string]interface{}{
		"plan_id":         rec.PlanID,
		"name":            rec.Name,
		"tier":            string(rec.Tier),
		"rate_limit":      rec.RateLimit,
		"burst_limit":     rec.BurstLimit,
		"quota_limit":     rec.QuotaLimit,
		"lifecycle_state": string(rec.LifecycleState),
		"stage_count":     len(rec.Stages),
	}
}
