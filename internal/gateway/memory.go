package gateway

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"plangov/pkg/logging"
)

// MemoryGateway is an in-process Accessor implementation. It backs the
// memory deployment mode for local development and seeding, and doubles as
// the gateway fake in tests.
type MemoryGateway struct {
	mu    sync.Mutex
	plans map[string]*UsagePlan

	// failOps maps operation names ("get", "patch", "create", "delete",
	// "list") to an error injected on the next call. Test hook.
	failOps map[string]error
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		plans:   make(map[string]*UsagePlan),
		failOps: make(map[string]error),
	}
}

// FailNext injects an error returned by the next call of the named
// operation. Passing nil clears the injection.
func (g *MemoryGateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failOps, op)
		return
	}
	g.failOps[op] = err
}

// takeFailure consumes a pending injection. It mutates failOps, so every
// caller must hold the write lock, read paths included.
func (g *MemoryGateway) takeFailure(op string) error {
	if err, ok := g.failOps[op]; ok {
		delete(g.failOps, op)
		return &UnavailableError{Op: op, Err: err}
	}
	return nil
}

// Get returns the live plan for an identity, or ErrNotFound.
func (g *MemoryGateway) Get(ctx context.Context, id string) (*UsagePlan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("get"); err != nil {
		return nil, err
	}

	p, ok := g.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := clonePlan(p)
	return &cp, nil
}

// List returns all plans ordered by identity for deterministic iteration.
// The configuration-similarity resolver tier depends on this stability.
func (g *MemoryGateway) List(ctx context.Context) ([]UsagePlan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("list"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(g.plans))
	for id := range g.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]UsagePlan, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePlan(g.plans[id]))
	}
	return out, nil
}

// Create provisions a new plan with a generated identity.
func (g *MemoryGateway) Create(ctx context.Context, in CreateInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("create"); err != nil {
		return "", err
	}

	id := uuid.NewString()[:8]
	g.plans[id] = &UsagePlan{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Throttle:    in.Throttle,
		Quota:       in.Quota,
	}
	logging.Debug("MemoryGateway", "Created usage plan %s (%s)", id, in.Name)
	return id, nil
}

// Patch applies targeted mutations to an existing plan.
func (g *MemoryGateway) Patch(ctx context.Context, id string, ops []PatchOp) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("patch"); err != nil {
		return err
	}

	p, ok := g.plans[id]
	if !ok {
		return ErrNotFound
	}

	for _, op := range ops {
		if err := applyOp(p, op); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a plan.
func (g *MemoryGateway) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("delete"); err != nil {
		return err
	}

	if _, ok := g.plans[id]; !ok {
		return ErrNotFound
	}
	delete(g.plans, id)
	logging.Debug("MemoryGateway", "Deleted usage plan %s", id)
	return nil
}

// Put installs a plan directly, bypassing Create. Test and seed helper.
func (g *MemoryGateway) Put(p UsagePlan) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := clonePlan(&p)
	g.plans[p.ID] = &cp
}

func applyOp(p *UsagePlan, op PatchOp) error {
	switch op.Path {
	case PathRateLimit, PathBurstLimit, PathQuotaLimit:
		n, err := strconv.Atoi(op.Value)
		if err != nil {
			return &UnavailableError{Op: "patch", Err: err}
		}
		switch op.Path {
		case PathRateLimit:
			p.Throttle.RateLimit = n
		case PathBurstLimit:
			p.Throttle.BurstLimit = n
		case PathQuotaLimit:
			p.Quota.Limit = n
		}
	case PathAPIStages:
		apiID, stage, ok := strings.Cut(op.Value, ":")
		if !ok {
			return &UnavailableError{Op: "patch", Err: strconv.ErrSyntax}
		}
		switch op.Op {
		case "add":
			for _, s := range p.APIStages {
				if s.APIID == apiID && s.Stage == stage {
					return nil // already associated
				}
			}
			p.APIStages = append(p.APIStages, APIStage{APIID: apiID, Stage: stage})
		case "remove":
			kept := p.APIStages[:0]
			for _, s := range p.APIStages {
				if !(s.APIID == apiID && s.Stage == stage) {
					kept = append(kept, s)
				}
			}
			p.APIStages = kept
		}
	}
	return nil
}

func clonePlan(p *UsagePlan) UsagePlan {
	cp := *p
	cp.APIStages = append([]APIStage(nil), p.APIStages...)
	return cp
}
