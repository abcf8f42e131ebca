package bootstrap

import (
	"context"
	"fmt"

	"plangov/internal/gateway"
	"plangov/internal/manager"
	"plangov/internal/plan"
	"plangov/internal/resolver"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// sampleTier is one of the built-in demonstration tiers.
type sampleTier struct {
	Name        string
	Tier        plan.Tier
	Description string
	RateLimit   int
	BurstLimit  int
	QuotaLimit  int
	Deprecated  bool
}

// sampleTiers mirrors the canonical tier ladder: free through enterprise,
// plus a deprecated legacy tier.
var sampleTiers = []sampleTier{
	{
		Name:        "Free Tier",
		Tier:        "Free",
		Description: "Free tier with basic limits",
		RateLimit:   10,
		BurstLimit:  20,
		QuotaLimit:  1000,
	},
	{
		Name:        "Basic Tier",
		Tier:        "Basic",
		Description: "Basic tier for small businesses",
		RateLimit:   50,
		BurstLimit:  100,
		QuotaLimit:  10000,
	},
	{
		Name:        "Premium Tier",
		Tier:        "Premium",
		Description: "Premium tier with enhanced limits",
		RateLimit:   200,
		BurstLimit:  400,
		QuotaLimit:  100000,
	},
	{
		Name:        "Enterprise Tier",
		Tier:        "Enterprise",
		Description: "Enterprise tier with maximum limits",
		RateLimit:   1000,
		BurstLimit:  2000,
		QuotaLimit:  1000000,
	},
	{
		Name:        "Legacy Tier",
		Tier:        "Legacy",
		Description: "Legacy tier - deprecated",
		RateLimit:   25,
		BurstLimit:  50,
		QuotaLimit:  5000,
		Deprecated:  true,
	},
}

// Seed provisions the sample tiers through the regular management flow:
// live plans are created first and the gateway-assigned identities become
// the record keys. Tiers whose name already has a record are skipped, so
// seeding is idempotent.
func Seed(ctx context.Context, mgr *manager.PlanManager, s *store.Store) (int, error) {
	created := 0
	for _, tier := range sampleTiers {
		if _, err := s.GetByName(ctx, tier.Name); err == nil {
			logging.Debug("Bootstrap", "Tier %s already seeded, skipping", tier.Name)
			continue
		} else if !store.IsNotFound(err) {
			return created, fmt.Errorf("checking tier %s: %w", tier.Name, err)
		}

		rec, err := mgr.Create(ctx, manager.CreateInput{
			Name:        tier.Name,
			Tier:        tier.Tier,
			Description: tier.Description,
			RateLimit:   tier.RateLimit,
			BurstLimit:  tier.BurstLimit,
			QuotaLimit:  tier.QuotaLimit,
			QuotaPeriod: plan.QuotaPeriodMonth,
		})
		if err != nil {
			return created, fmt.Errorf("seeding tier %s: %w", tier.Name, err)
		}

		if tier.Deprecated {
			if _, err := mgr.Deprecate(ctx, rec.PlanID); err != nil {
				return created, fmt.Errorf("deprecating tier %s: %w", tier.Name, err)
			}
		}

		created++
		logging.Info("Bootstrap", "Seeded tier %s as %s", tier.Name, rec.PlanID)
	}
	return created, nil
}

// Import adopts live usage plans that no governance record claims under any
// resolution tier, recording them with their current configuration. It
// returns the identities of the adopted plans.
func Import(ctx context.Context, s *store.Store, g gateway.Accessor, region string) ([]string, error) {
	res := resolver.New(s, g)

	plans, err := g.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing live plans: %w", err)
	}

	var adopted []string
	for i := range plans {
		live := &plans[i]

		rec, err := res.ResolveRecord(ctx, live)
		if err != nil {
			return adopted, fmt.Errorf("resolving record for %s: %w", live.ID, err)
		}
		if rec != nil {
			continue
		}

		stages := make([]string, 0, len(live.APIStages))
		for _, st := range live.APIStages {
			stages = append(stages, plan.FormatStageRef(plan.StageRef{APIID: st.APIID, StageName: st.Stage}, region))
		}

		period := plan.QuotaPeriod(live.Quota.Period)
		if !period.Valid() {
			period = plan.QuotaPeriodMonth
		}

		name := live.Name
		if name == "" {
			name = live.ID
		}

		record := &plan.GovernanceRecord{
			PlanID:         live.ID,
			Name:           name,
			Tier:           "Imported",
			Description:    live.Description,
			RateLimit:      live.Throttle.RateLimit,
			BurstLimit:     live.Throttle.BurstLimit,
			QuotaLimit:     live.Quota.Limit,
			QuotaPeriod:    period,
			LifecycleState: plan.LifecycleActive,
			Stages:         stages,
		}
		if err := s.Put(ctx, record); err != nil {
			return adopted, fmt.Errorf("recording imported plan %s: %w", live.ID, err)
		}

		adopted = append(adopted, live.ID)
		logging.Info("Bootstrap", "Imported live plan %s (%s)", live.ID, live.Name)
	}

	return adopted, nil
}
