package manager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"plangov/internal/events"
	"plangov/internal/gateway"
	"plangov/internal/plan"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// PlanManager is the administrative service for usage plans. It owns the
// create/update/deprecate flows where the governance record and the live
// plan change together; convergence after out-of-band changes is the
// reconciler's job.
type PlanManager struct {
	store   *store.Store
	gateway gateway.Accessor
	emitter *events.Emitter
	region  string
}

// New creates a PlanManager. The emitter may be nil.
func New(s *store.Store, g gateway.Accessor, emitter *events.Emitter, region string) *PlanManager {
	return &PlanManager{store: s, gateway: g, emitter: emitter, region: region}
}

// CreateInput describes a new usage plan.
type CreateInput struct {
	Name        string
	Tier        plan.Tier
	Description string
	RateLimit   int
	BurstLimit  int
	QuotaLimit  int
	QuotaPeriod plan.QuotaPeriod
	Stages      []string
}

// Create provisions a live usage plan and records it under governance. The
// gateway-assigned identity becomes the record's primary key, so direct-key
// resolution holds from the start.
func (m *PlanManager) Create(ctx context.Context, in CreateInput) (*plan.GovernanceRecord, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !in.QuotaPeriod.Valid() {
		return nil, fmt.Errorf("quota_period %q is not one of DAY, WEEK, MONTH", in.QuotaPeriod)
	}

	id, err := m.gateway.Create(ctx, gateway.CreateInput{
		Name:        in.Name,
		Description: in.Description,
		Throttle:    gateway.Throttle{RateLimit: in.RateLimit, BurstLimit: in.BurstLimit},
		Quota:       gateway.Quota{Limit: in.QuotaLimit, Period: string(in.QuotaPeriod)},
	})
	if err != nil {
		return nil, fmt.Errorf("creating live plan: %w", err)
	}

	attached := make([]string, 0, len(in.Stages))
	for _, ref := range in.Stages {
		if err := m.associateStage(ctx, id, ref); err != nil {
			logging.Error("PlanManager", err, "Stage %s not associated to new plan %s", ref, id)
			continue
		}
		attached = append(attached, ref)
	}

	rec := &plan.GovernanceRecord{
		PlanID:         id,
		Name:           in.Name,
		Tier:           in.Tier,
		Description:    in.Description,
		RateLimit:      in.RateLimit,
		BurstLimit:     in.BurstLimit,
		QuotaLimit:     in.QuotaLimit,
		QuotaPeriod:    in.QuotaPeriod,
		LifecycleState: plan.LifecycleActive,
		Stages:         attached,
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording plan %s: %w", id, err)
	}

	logging.Info("PlanManager", "Created usage plan %s (%s, tier %s)", id, in.Name, in.Tier)
	return rec, nil
}

// UpdateInput is a partial update of a governed plan. Nil fields are left
// unchanged.
type UpdateInput struct {
	Description *string
	Tier        *plan.Tier
	RateLimit   *int
	BurstLimit  *int
	QuotaLimit  *int
	Stages      *[]string
}

// Update applies a partial update to the record and mirrors the changed
// attributes onto the live plan with targeted patches. Record and live plan
// are updated independently; a live-side failure is returned after the
// record write so the reconciler converges the remainder later.
func (m *PlanManager) Update(ctx context.Context, id string, in UpdateInput) (*plan.GovernanceRecord, error) {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, fmt.Errorf("plan %s is deleted", id)
	}

	updated, err := m.store.ConditionalUpdate(ctx, id, store.RecordPatch{
		Description: in.Description,
		Tier:        in.Tier,
		RateLimit:   in.RateLimit,
		BurstLimit:  in.BurstLimit,
		QuotaLimit:  in.QuotaLimit,
		Stages:      in.Stages,
	})
	if err != nil {
		return nil, err
	}

	if err := m.patchLive(ctx, current, in); err != nil {
		return updated, fmt.Errorf("record updated, live patch incomplete: %w", err)
	}

	logging.Info("PlanManager", "Updated usage plan %s", id)
	return updated, nil
}

// patchLive issues one targeted patch per changed limit, then converges the
// stage association set.
func (m *PlanManager) patchLive(ctx context.Context, before *plan.GovernanceRecord, in UpdateInput) error {
	var ops []gateway.PatchOp
	if in.RateLimit != nil && *in.RateLimit != before.RateLimit {
		ops = append(ops, gateway.ReplaceOp(gateway.PathRateLimit, strconv.Itoa(*in.RateLimit)))
	}
	if in.BurstLimit != nil && *in.BurstLimit != before.BurstLimit {
		ops = append(ops, gateway.ReplaceOp(gateway.PathBurstLimit, strconv.Itoa(*in.BurstLimit)))
	}
	if in.QuotaLimit != nil && *in.QuotaLimit != before.QuotaLimit {
		ops = append(ops, gateway.ReplaceOp(gateway.PathQuotaLimit, strconv.Itoa(*in.QuotaLimit)))
	}

	for _, op := range ops {
		if err := m.gateway.Patch(ctx, before.PlanID, []gateway.PatchOp{op}); err != nil {
			return fmt.Errorf("patching %s: %w", op.Path, err)
		}
	}

	if in.Stages == nil {
		return nil
	}

	desired := make(map[string]bool, len(*in.Stages))
	for _, ref := range *in.Stages {
		desired[ref] = true
	}
	actual := before.StageSet()

	for ref := range desired {
		if actual[ref] {
			continue
		}
		if err := m.associateStage(ctx, before.PlanID, ref); err != nil {
			return err
		}
	}
	for ref := range actual {
		if desired[ref] {
			continue
		}
		parsed, err := plan.ParseStageRef(ref)
		if err != nil {
			continue
		}
		op := gateway.RemoveStageOp(parsed.APIID, parsed.StageName)
		if err := m.gateway.Patch(ctx, before.PlanID, []gateway.PatchOp{op}); err != nil {
			return fmt.Errorf("dissociating %s: %w", ref, err)
		}
	}
	return nil
}

func (m *PlanManager) associateStage(ctx context.Context, planID, ref string) error {
	parsed, err := plan.ParseStageRef(ref)
	if err != nil {
		return fmt.Errorf("malformed stage reference %q: %w", ref, err)
	}
	op := gateway.AddStageOp(parsed.APIID, parsed.StageName)
	if err := m.gateway.Patch(ctx, planID, []gateway.PatchOp{op}); err != nil {
		return fmt.Errorf("associating %s: %w", ref, err)
	}
	return nil
}

// Get returns one governance record by identity.
func (m *PlanManager) Get(ctx context.Context, id string) (*plan.GovernanceRecord, error) {
	return m.store.Get(ctx, id)
}

// List returns all governance records, tombstones included.
func (m *PlanManager) List(ctx context.Context) ([]plan.GovernanceRecord, error) {
	return m.store.ScanAll(ctx)
}

// Versions returns the audit trail of one plan, oldest first.
func (m *PlanManager) Versions(ctx context.Context, id string) ([]store.VersionEntry, error) {
	return m.store.ListVersions(ctx, id)
}

// Deprecate transitions a plan from Active to Deprecated. The transition is
// one-way and idempotent: deprecating a deprecated plan changes nothing.
func (m *PlanManager) Deprecate(ctx context.Context, id string) (*plan.GovernanceRecord, error) {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		return nil, fmt.Errorf("plan %s is deleted", id)
	}
	if current.LifecycleState == plan.LifecycleDeprecated {
		return current, nil
	}

	now := time.Now().UTC()
	state := plan.LifecycleDeprecated
	updated, err := m.store.ConditionalUpdate(ctx, id, store.RecordPatch{
		LifecycleState: &state,
		DeprecatedAt:   &now,
	})
	if err != nil {
		return nil, err
	}

	if m.emitter != nil {
		m.emitter.Emit(events.KindPlanDeprecated, events.Data{Identity: id, Name: updated.Name},
			map[string]interface{}{"lifecycle_state": string(plan.LifecycleActive)},
			map[string]interface{}{"lifecycle_state": string(plan.LifecycleDeprecated)})
	}

	logging.Info("PlanManager", "Deprecated usage plan %s", id)
	return updated, nil
}

// Lifecycle is the lifecycle view of one plan.
type Lifecycle struct {
	PlanID       string              `json:"plan_id"`
	State        plan.LifecycleState `json:"lifecycle_state"`
	Deleted      bool                `json:"deleted"`
	DeprecatedAt *time.Time          `json:"deprecated_at,omitempty"`
	DeletedAt    *time.Time          `json:"deleted_at,omitempty"`
	RecreatedAs  string              `json:"recreated_as,omitempty"`
}

// LifecycleState returns the lifecycle view for one plan.
func (m *PlanManager) LifecycleState(ctx context.Context, id string) (*Lifecycle, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Lifecycle{
		PlanID:       rec.PlanID,
		State:        rec.LifecycleState,
		Deleted:      rec.Deleted,
		DeprecatedAt: rec.DeprecatedAt,
		DeletedAt:    rec.DeletedAt,
		RecreatedAs:  rec.RecreatedAs,
	}, nil
}
