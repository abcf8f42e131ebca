package events

import (
	"time"
)

// Kind classifies an emitted governance event.
type Kind string

const (
	// KindDriftCorrected indicates configuration drift was detected and
	// corrected in place.
	KindDriftCorrected Kind = "drift_corrected"

	// KindCorrectionFailed indicates at least one corrective patch failed
	// and manual attention may be required.
	KindCorrectionFailed Kind = "correction_failed"

	// KindUnmanagedDetected indicates a live plan with no governance
	// record under any identity-resolution tier.
	KindUnmanagedDetected Kind = "unmanaged_detected"

	// KindManagedPlanDeleted indicates a plan under governance was deleted
	// from the gateway.
	KindManagedPlanDeleted Kind = "managed_plan_deleted"

	// KindPlanDeprecated indicates a lifecycle transition to Deprecated.
	KindPlanDeprecated Kind = "plan_deprecated"

	// KindPlanDeletedPending indicates a deleted plan is about to be
	// recreated.
	KindPlanDeletedPending Kind = "usage_plan_deleted_pending"

	// KindPlanDeletedRecovered indicates a deleted plan was recreated
	// under a new identity.
	KindPlanDeletedRecovered Kind = "usage_plan_deleted_recovered"
)

// Event is the structured payload handed to notification sinks.
type Event struct {
	Kind           Kind                   `json:"event_kind"`
	Identity       string                 `json:"identity"`
	Before         map[string]interface{} `json:"before,omitempty"`
	After          map[string]interface{} `json:"after,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	ActionRequired bool                   `json:"action_required"`
	Message        string                 `json:"message"`
}

// Data carries the variables available to message templates.
type Data struct {
	Identity    string
	Name        string
	NewIdentity string
	Error       string
	Detail      string
}

// Sink consumes emitted events. Delivery is best effort: a sink failure is
// logged, never propagated into reconciliation.
type Sink interface {
	Deliver(event Event) error
}
