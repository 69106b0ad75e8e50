package engine

import (
	"encoding/json"
	"testing"
)

func TestRunStatus_Transitions(t *testing.T) {
	tests := []struct {
		from RunStatus
		to   RunStatus
		want bool
	}{
		{RunStatusLoading, RunStatusPlanning, true},
		{RunStatusLoading, RunStatusFailed, true},
		{RunStatusPlanning, RunStatusAwaitingConfirmation, true},
		{RunStatusAwaitingConfirmation, RunStatusApplying, true},
		{RunStatusAwaitingConfirmation, RunStatusCancelled, true},
		{RunStatusApplying, RunStatusPartiallyFailed, true},
		{RunStatusLoading, RunStatusApplying, false},
		{RunStatusComplete, RunStatusApplying, false},
		{RunStatusApplying, RunStatusPlanning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRunStatus_IsTerminal(t *testing.T) {
	for _, s := range []RunStatus{RunStatusComplete, RunStatusPartiallyFailed, RunStatusFailed, RunStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunStatusLoading, RunStatusPlanning, RunStatusAwaitingConfirmation, RunStatusApplying} {
		if !s.IsActive() {
			t.Errorf("Expected %s to be active", s)
		}
	}
}

func TestRunStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var s RunStatus
	if err := json.Unmarshal([]byte(`"applying"`), &s); err != nil || s != RunStatusApplying {
		t.Errorf("Expected applying, got %s (%v)", s, err)
	}
	if err := json.Unmarshal([]byte(`"exploded"`), &s); err == nil {
		t.Errorf("Expected error for unknown status")
	}
}

func TestNodeStatus_Transitions(t *testing.T) {
	if !NodeStatusDiffed.CanTransitionTo(NodeStatusApplying) {
		t.Errorf("Expected diffed -> applying")
	}
	if !NodeStatusApplying.CanTransitionTo(NodeStatusFailed) {
		t.Errorf("Expected applying -> failed")
	}
	if NodeStatusBlocked.CanTransitionTo(NodeStatusApplying) {
		t.Errorf("Expected blocked to be terminal")
	}
	if NodeStatusApplied.CanTransitionTo(NodeStatusFailed) {
		t.Errorf("Expected applied to be terminal")
	}
}

func TestOperationType(t *testing.T) {
	if !OperationReplace.IsDestructive() || !OperationDelete.IsDestructive() {
		t.Errorf("Expected replace and delete to be destructive")
	}
	if OperationUpdate.IsDestructive() {
		t.Errorf("Expected update not to be destructive")
	}
	if OperationNoop.IsMutating() {
		t.Errorf("Expected noop not to mutate")
	}
	if err := OperationType("upsert").Validate(); err == nil {
		t.Errorf("Expected invalid operation error")
	}
}

func TestEventType_Severity(t *testing.T) {
	if EventTypeUnitFailed.Severity() != "error" {
		t.Errorf("Expected error severity for unit_failed")
	}
	if EventTypeUnitRetrying.Severity() != "warn" {
		t.Errorf("Expected warn severity for unit_retrying")
	}
	if EventTypeRunStarted.Severity() != "info" {
		t.Errorf("Expected info severity for run_started")
	}
}
