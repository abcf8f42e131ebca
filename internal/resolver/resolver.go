package resolver

import (
	"context"

	"plangov/internal/gateway"
	"plangov/internal/plan"
	"plangov/internal/store"
	"plangov/pkg/logging"
)

// Resolver matches desired-state records to live usage plans when the two
// sides may disagree on identity. Resolution is a three-tier waterfall,
// applied in order with first success winning:
//
//  1. direct key match: record primary key equals the live identity
//  2. name match: live plan name equals the record key (plan ids are
//     commonly chosen to equal the gateway name)
//  3. configuration similarity: first plan whose (rate, burst, quota)
//     triple equals the target's
//
// Tier 3 is a heuristic fallback. It is intentionally order-dependent:
// when two plans share identical settings the first hit in stable scan
// order wins rather than failing the resolution.
type Resolver struct {
	store   *store.Store
	gateway gateway.Accessor
}

// New creates a Resolver over the given desired-state store and gateway.
func New(s *store.Store, g gateway.Accessor) *Resolver {
	return &Resolver{store: s, gateway: g}
}

// ResolveLive finds the live counterpart of a governance record. It returns
// (nil, nil) when all three tiers fail. Only an infrastructure failure of
// the direct lookup or of the live scan itself aborts resolution;
// per-candidate anomalies during the scan are treated as "not this one".
func (r *Resolver) ResolveLive(ctx context.Context, rec *plan.GovernanceRecord) (*gateway.UsagePlan, error) {
	// Tier 1: direct key match.
	live, err := r.gateway.Get(ctx, rec.PlanID)
	if err == nil {
		return live, nil
	}
	if !gateway.IsNotFound(err) {
		return nil, err
	}

	plans, err := r.gateway.List(ctx)
	if err != nil {
		return nil, err
	}

	// Tier 2: name match against the record key.
	for i := range plans {
		if plans[i].Name == rec.PlanID {
			logging.Debug("Resolver", "Matched plan %s to live %s by name", rec.PlanID, plans[i].ID)
			return &plans[i], nil
		}
	}

	// Tier 3: configuration similarity, first hit wins.
	for i := range plans {
		if configMatches(rec, &plans[i]) {
			logging.Debug("Resolver", "Matched plan %s to live %s by configuration", rec.PlanID, plans[i].ID)
			return &plans[i], nil
		}
	}

	return nil, nil
}

// ResolveRecord finds the governance record counterpart of a live plan,
// for unmanaged detection. Deleted tombstones never claim a counterpart.
// Returns (nil, nil) when no record matches by any tier.
func (r *Resolver) ResolveRecord(ctx context.Context, live *gateway.UsagePlan) (*plan.GovernanceRecord, error) {
	// Tier 1: live identity as record key.
	rec, err := r.store.Get(ctx, live.ID)
	if err == nil {
		if !rec.Deleted {
			return rec, nil
		}
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	// Tier 2: live name as record key.
	rec, err = r.store.Get(ctx, live.Name)
	if err == nil {
		if !rec.Deleted {
			return rec, nil
		}
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	// Tier 3: configuration similarity over the record scan.
	records, err := r.store.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Deleted {
			continue
		}
		if configMatches(&records[i], live) {
			logging.Debug("Resolver", "Matched live %s to record %s by configuration", live.ID, records[i].PlanID)
			return &records[i], nil
		}
	}

	return nil, nil
}

// configMatches compares the (rate, burst, quota) triple of a record and a
// live plan.
func configMatches(rec *plan.GovernanceRecord, live *gateway.UsagePlan) bool {
	return rec.RateLimit == live.Throttle.RateLimit &&
		rec.BurstLimit == live.Throttle.BurstLimit &&
		rec.QuotaLimit == live.Quota.Limit
}
