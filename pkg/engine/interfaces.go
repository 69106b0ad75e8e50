package engine

import (
	"context"
	"time"
)

// Driver performs provider API calls for resource units.
type Driver interface {
	// Create creates the resource described by spec.
	Create(ctx context.Context, spec *ResourceSpec) (*ProviderResult, error)

	// Update converges an existing resource to spec.
	Update(ctx context.Context, spec *ResourceSpec, prior *ResourceState) (*ProviderResult, error)

	// Delete removes the resource recorded in prior.
	Delete(ctx context.Context, prior *ResourceState) error
}

// Reader is implemented by drivers that can read live resource state.
// Read returns (nil, nil) when the resource no longer exists.
type Reader interface {
	Read(ctx context.Context, prior *ResourceState) (*ResourceState, error)
}

// Version is an opaque state version token used for compare-and-swap writes.
// The empty Version means "no state stored yet".
type Version string

// LockInfo describes the holder of a state lock.
type LockInfo struct {
	// ID is the lock identifier.
	ID string `json:"id"`

	// RunID is the run holding the lock.
	RunID string `json:"runId"`

	// Holder is a human-readable description of who holds the lock (user@host).
	Holder string `json:"holder"`

	// Operation is the command that took the lock.
	Operation string `json:"operation"`

	// CreatedAt is when the lock was taken.
	CreatedAt time.Time `json:"createdAt"`
}

// StateLock is a held state lock.
type StateLock interface {
	// Info returns the lock metadata.
	Info() LockInfo

	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// StateBackend persists state snapshots with conditional writes.
type StateBackend interface {
	// Lock acquires the environment lock, failing with StateConflict when held.
	Lock(ctx context.Context, env string, info LockInfo) (StateLock, error)

	// Load returns the snapshot and its version. A missing snapshot yields an
	// empty one and the empty Version.
	Load(ctx context.Context, env string) (*StateSnapshot, Version, error)

	// Save writes snap if the stored version still equals expected, and returns
	// the new version. A mismatch fails with StateConflict.
	Save(ctx context.Context, env string, snap *StateSnapshot, expected Version) (Version, error)
}

// RunRecorder is implemented by backends that keep run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *Run) error
}

// Approver decides whether a computed plan may be applied.
type Approver interface {
	Approve(ctx context.Context, plan *Plan) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, plan *Plan) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, plan *Plan) (bool, error) {
	return f(ctx, plan)
}

// AutoApprove approves every plan.
var AutoApprove Approver = ApproverFunc(func(context.Context, *Plan) (bool, error) { return true, nil })

// PlanChecker evaluates guardrails against a plan before approval.
type PlanChecker interface {
	CheckPlan(ctx context.Context, plan *Plan) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the plan may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// ResourceID is the resource that violated the policy, if applicable.
	ResourceID string `json:"resourceId,omitempty"`
}

// EventPublisher publishes run events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Instrumentation receives metrics and tracing callbacks from the engine.
type Instrumentation interface {
	// StartSpan starts a span and returns a function that ends it.
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(err error))

	// ObserveUnit records a finished unit.
	ObserveUnit(kind ResourceKind, op OperationType, status NodeStatus, d time.Duration)

	// ObserveRetry records one retry of a unit.
	ObserveRetry(kind ResourceKind)

	// ObserveStateWrite records a state save attempt.
	ObserveStateWrite(err error)

	// ObserveRun records a finished run.
	ObserveRun(mode PlanMode, status RunStatus, d time.Duration)
}

type noopInstrumentation struct{}

func (noopInstrumentation) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (noopInstrumentation) ObserveUnit(ResourceKind, OperationType, NodeStatus, time.Duration) {}
func (noopInstrumentation) ObserveRetry(ResourceKind)                                          {}
func (noopInstrumentation) ObserveStateWrite(error)                                            {}
func (noopInstrumentation) ObserveRun(PlanMode, RunStatus, time.Duration)                      {}
