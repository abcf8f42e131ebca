package reconciler

import (
	"context"
	"time"

	"plangov/internal/drift"
)

// Outcome summarizes what a single evaluation did to converge an identity.
type Outcome string

const (
	// OutcomeCompliant means desired and live state already matched.
	OutcomeCompliant Outcome = "compliant"

	// OutcomeCorrected means drift was found and every corrective patch
	// succeeded.
	OutcomeCorrected Outcome = "corrected"

	// OutcomeCorrectionPartial means drift was found and at least one
	// corrective patch failed. Applied patches stay applied.
	OutcomeCorrectionPartial Outcome = "correction_partial"

	// OutcomeRecreated means the live plan was gone and has been recreated
	// under a new identity with lineage recorded.
	OutcomeRecreated Outcome = "recreated"

	// OutcomeUnmanaged means a live plan exists with no governance record
	// under any resolution tier and was left in place.
	OutcomeUnmanaged Outcome = "unmanaged"

	// OutcomeUnmanagedDeleted means an unmanaged live plan was deleted
	// because strict mode is enabled.
	OutcomeUnmanagedDeleted Outcome = "unmanaged_deleted"

	// OutcomeTombstone means the record is soft-deleted; evaluation is a
	// permanent no-op for this identity.
	OutcomeTombstone Outcome = "tombstone"

	// OutcomeLineageRepaired means a stale record was tombstoned to point
	// at its already-existing successor.
	OutcomeLineageRepaired Outcome = "lineage_repaired"

	// OutcomeUnknown means the identity exists neither as a record nor as
	// a live plan.
	OutcomeUnknown Outcome = "unknown"
)

// CorrectionFailure records one corrective write that did not land.
type CorrectionFailure struct {
	Attribute drift.Attribute
	Err       error
}

// Evaluation is the result of reconciling one identity.
type Evaluation struct {
	// Identity is the plan identity that was evaluated.
	Identity string

	// Classification is the drift verdict for the identity.
	Classification drift.Classification

	// Outcome is the action the evaluation took.
	Outcome Outcome

	// Corrected lists attributes whose corrective patch succeeded.
	Corrected []drift.Attribute

	// Failures lists corrective writes that failed. Applied patches are
	// not rolled back; the failed attributes stay drifted for retry.
	Failures []CorrectionFailure

	// NewIdentity is set when recreation produced a successor plan.
	NewIdentity string

	// Annotation is the human-readable drift summary, if any.
	Annotation string
}

// BatchResult aggregates an evaluate-all pass. A per-identity failure never
// aborts the batch; it is collected here instead.
type BatchResult struct {
	Evaluations []Evaluation
	Failures    map[string]error
}

// Evaluator reconciles plan identities. Implementations must be idempotent:
// evaluating a converged identity is a no-op.
type Evaluator interface {
	// Evaluate reconciles a single identity.
	Evaluate(ctx context.Context, identity string) (Evaluation, error)

	// Identities returns every identity currently worth evaluating: all
	// governed record identities plus live plans no record claims.
	Identities(ctx context.Context) ([]string, error)
}

// ReconcileRequest is a queued request to evaluate one identity.
type ReconcileRequest struct {
	// Identity is the plan identity to evaluate.
	Identity string

	// Attempt is the current retry attempt number (starts at 1).
	Attempt int

	// LastError is the error from the previous attempt, if any.
	LastError error
}

// ReconcileState represents the state of an identity's reconciliation.
type ReconcileState string

const (
	// StatePending means the identity is awaiting evaluation.
	StatePending ReconcileState = "Pending"

	// StateReconciling means evaluation is in progress.
	StateReconciling ReconcileState = "Reconciling"

	// StateSynced means the identity evaluated successfully.
	StateSynced ReconcileState = "Synced"

	// StateError means evaluation failed and will be retried.
	StateError ReconcileState = "Error"

	// StateFailed means evaluation failed permanently (max retries exceeded).
	StateFailed ReconcileState = "Failed"
)

// ReconcileStatus tracks the most recent reconciliation of one identity.
type ReconcileStatus struct {
	Identity          string
	State             ReconcileState
	Outcome           Outcome
	LastReconcileTime *time.Time
	LastError         string
	RetryCount        int
}

// ManagerConfig holds configuration for the reconcile Manager.
type ManagerConfig struct {
	// WorkerCount is the number of concurrent evaluation workers.
	// Defaults to 2 if not specified.
	WorkerCount int

	// MaxRetries is the maximum number of attempts for failed evaluations.
	// Defaults to 5 if not specified.
	MaxRetries int

	// InitialBackoff is the initial backoff duration for retries.
	// Defaults to 1 second if not specified.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for retries.
	// Defaults to 5 minutes if not specified.
	MaxBackoff time.Duration

	// EvaluateTimeout bounds a single evaluation so a hung gateway call
	// cannot block a worker indefinitely. Defaults to 30 seconds.
	EvaluateTimeout time.Duration
}
