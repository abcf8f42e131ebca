package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Throttle holds the request-rate settings of a live usage plan.
type Throttle struct {
	RateLimit  int `json:"rateLimit"`
	BurstLimit int `json:"burstLimit"`
}

// Quota holds the request-quota settings of a live usage plan.
type Quota struct {
	Limit  int    `json:"limit"`
	Period string `json:"period"`
}

// APIStage is one API+stage association on a live usage plan.
type APIStage struct {
	APIID string `json:"apiId"`
	Stage string `json:"stage"`
}

// UsagePlan is the live resource as the gateway reports it. Its lifecycle is
// owned entirely by the gateway; this system only observes and requests
// mutations.
type UsagePlan struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Throttle    Throttle   `json:"throttle"`
	Quota       Quota      `json:"quota"`
	APIStages   []APIStage `json:"apiStages"`
}

// CreateInput is the configuration for creating a live usage plan.
type CreateInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Throttle    Throttle `json:"throttle"`
	Quota       Quota    `json:"quota"`
}

// PatchOp is a single targeted mutation of a live usage plan attribute,
// mirroring the gateway's patch wire shape.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Patch paths understood by the gateway.
const (
	PathRateLimit  = "/throttle/rateLimit"
	PathBurstLimit = "/throttle/burstLimit"
	PathQuotaLimit = "/quota/limit"
	PathAPIStages  = "/apiStages"
)

// ReplaceOp builds a replace patch operation.
func ReplaceOp(path, value string) PatchOp {
	return PatchOp{Op: "replace", Path: path, Value: value}
}

// AddStageOp builds the patch operation that associates an API stage,
// encoded as "apiId:stageName" per the gateway wire format.
func AddStageOp(apiID, stage string) PatchOp {
	return PatchOp{Op: "add", Path: PathAPIStages, Value: fmt.Sprintf("%s:%s", apiID, stage)}
}

// RemoveStageOp builds the patch operation that dissociates an API stage.
func RemoveStageOp(apiID, stage string) PatchOp {
	return PatchOp{Op: "remove", Path: PathAPIStages, Value: fmt.Sprintf("%s:%s", apiID, stage)}
}

// ErrNotFound reports that the requested usage plan does not exist in the
// gateway. Callers rely on distinguishing this from infrastructure failures:
// NotFound drives the live-deleted reconciliation transition, anything else
// aborts the evaluation.
var ErrNotFound = errors.New("usage plan not found")

// UnavailableError wraps an infrastructure-level gateway failure.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the plan does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Accessor is the read/write facade over the managed gateway's usage plan
// API. All calls may fail with an *UnavailableError; Get and Patch return
// ErrNotFound when the identity does not exist.
type Accessor interface {
	// Get returns the live plan for an identity, or ErrNotFound.
	Get(ctx context.Context, id string) (*UsagePlan, error)

	// List returns all live usage plans in stable order.
	List(ctx context.Context) ([]UsagePlan, error)

	// Create provisions a new usage plan and returns its gateway-assigned
	// identity.
	Create(ctx context.Context, in CreateInput) (string, error)

	// Patch applies targeted mutations to an existing plan.
	Patch(ctx context.Context, id string, ops []PatchOp) error

	// Delete removes a plan. Deleting a missing plan returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
