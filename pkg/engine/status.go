package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the position of a run in the run state machine.
type RunStatus string

const (
	// RunStatusLoading indicates the state snapshot is being read.
	RunStatusLoading RunStatus = "loading"

	// RunStatusPlanning indicates diffs are being computed.
	RunStatusPlanning RunStatus = "planning"

	// RunStatusPlanned indicates a plan-only run finished planning.
	RunStatusPlanned RunStatus = "planned"

	// RunStatusAwaitingConfirmation indicates the plan waits for approval.
	RunStatusAwaitingConfirmation RunStatus = "awaiting_confirmation"

	// RunStatusApplying indicates units are being applied.
	RunStatusApplying RunStatus = "applying"

	// RunStatusComplete indicates every unit was applied.
	RunStatusComplete RunStatus = "complete"

	// RunStatusPartiallyFailed indicates at least one unit failed and one succeeded.
	RunStatusPartiallyFailed RunStatus = "partially_failed"

	// RunStatusFailed indicates the run failed without applying anything.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was stopped before finishing.
	RunStatusCancelled RunStatus = "cancelled"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusLoading:              {RunStatusPlanning, RunStatusFailed, RunStatusCancelled},
	RunStatusPlanning:             {RunStatusPlanned, RunStatusAwaitingConfirmation, RunStatusFailed, RunStatusCancelled},
	RunStatusAwaitingConfirmation: {RunStatusApplying, RunStatusFailed, RunStatusCancelled},
	RunStatusApplying:             {RunStatusComplete, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCancelled},
}

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPlanned, RunStatusComplete, RunStatusPartiallyFailed,
		RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsActive returns true if the run is still progressing.
func (s RunStatus) IsActive() bool {
	return !s.IsTerminal()
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusLoading, RunStatusPlanning, RunStatusPlanned, RunStatusAwaitingConfirmation,
		RunStatusApplying, RunStatusComplete, RunStatusPartiallyFailed,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OperationType represents the type of operation to perform on a resource.
type OperationType string

const (
	// OperationNoop indicates the resource is already in the desired state.
	OperationNoop OperationType = "noop"

	// OperationCreate indicates a new resource should be created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource should be updated in place.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource should be deleted.
	OperationDelete OperationType = "delete"

	// OperationReplace indicates a delete followed by a create.
	OperationReplace OperationType = "replace"
)

// IsDestructive returns true if the operation removes a resource.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete || o == OperationReplace
}

// IsMutating returns true if the operation changes infrastructure.
func (o OperationType) IsMutating() bool {
	return o != OperationNoop
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationNoop, OperationCreate, OperationUpdate, OperationDelete, OperationReplace:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// NodeStatus is the position of a unit in the node state machine.
type NodeStatus string

const (
	// NodeStatusPlanned indicates the spec exists but has not been diffed.
	NodeStatusPlanned NodeStatus = "planned"

	// NodeStatusDiffed indicates the operation is known.
	NodeStatusDiffed NodeStatus = "diffed"

	// NodeStatusApplying indicates a driver call is in flight.
	NodeStatusApplying NodeStatus = "applying"

	// NodeStatusApplied indicates the unit converged.
	NodeStatusApplied NodeStatus = "applied"

	// NodeStatusFailed indicates the unit's apply failed.
	NodeStatusFailed NodeStatus = "failed"

	// NodeStatusBlocked indicates a dependency failed so the unit never ran.
	NodeStatusBlocked NodeStatus = "blocked"

	// NodeStatusCancelled indicates the run stopped before the unit started.
	NodeStatusCancelled NodeStatus = "cancelled"
)

var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusPlanned:  {NodeStatusDiffed},
	NodeStatusDiffed:   {NodeStatusApplying, NodeStatusApplied, NodeStatusBlocked, NodeStatusCancelled},
	// A replacement can stop between deleting the prior resource and creating its successor.
	NodeStatusApplying: {NodeStatusApplied, NodeStatusFailed, NodeStatusBlocked, NodeStatusCancelled},
}

// IsTerminal returns true if the node will not change status again.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusApplied, NodeStatusFailed, NodeStatusBlocked, NodeStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the node status is valid.
func (s NodeStatus) Validate() error {
	switch s {
	case NodeStatusPlanned, NodeStatusDiffed, NodeStatusApplying, NodeStatusApplied,
		NodeStatusFailed, NodeStatusBlocked, NodeStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid node status: %s", s)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunStatusChanged indicates the run moved to a new status.
	EventTypeRunStatusChanged EventType = "run_status_changed"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run ended without completing.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeUnitStarted indicates a unit has started applying.
	EventTypeUnitStarted EventType = "unit_started"

	// EventTypeUnitRetrying indicates a unit hit a retryable error.
	EventTypeUnitRetrying EventType = "unit_retrying"

	// EventTypeUnitCompleted indicates a unit was applied.
	EventTypeUnitCompleted EventType = "unit_completed"

	// EventTypeUnitFailed indicates a unit failed.
	EventTypeUnitFailed EventType = "unit_failed"

	// EventTypeUnitBlocked indicates a unit was skipped because a dependency failed.
	EventTypeUnitBlocked EventType = "unit_blocked"

	// EventTypeStateWritten indicates the snapshot was persisted.
	EventTypeStateWritten EventType = "state_written"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeUnitFailed:
		return "error"
	case EventTypeWarning, EventTypeUnitRetrying, EventTypeUnitBlocked:
		return "warn"
	default:
		return "info"
	}
}
