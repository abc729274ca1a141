package models

import "testing"

func TestDeriveStatusAllCompleted(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskStatusCompleted},
		{ID: "b", Status: TaskStatusCompleted},
	}
	if got := DeriveStatus(tasks, false); got != BatchStatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
}

func TestDeriveStatusPendingWhileNonTerminal(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskStatusCompleted},
		{ID: "b", Status: TaskStatusRunning},
	}
	if got := DeriveStatus(tasks, false); got != BatchStatusPending {
		t.Errorf("expected pending, got %s", got)
	}
}

func TestDeriveStatusFailFast(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskStatusFailed},
		{ID: "b", Status: TaskStatusCancelled},
		{ID: "c", Status: TaskStatusCompleted},
	}
	if got := DeriveStatus(tasks, true); got != BatchStatusFailed {
		t.Errorf("expected failed under fail-fast, got %s", got)
	}
}

func TestDeriveStatusPartiallyFailed(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskStatusFailed},
		{ID: "b", Status: TaskStatusCancelled},
		{ID: "c", Status: TaskStatusCompleted},
	}
	if got := DeriveStatus(tasks, false); got != BatchStatusPartiallyFailed {
		t.Errorf("expected partially_failed, got %s", got)
	}
}

func TestDeriveStatusEveryBranchFailed(t *testing.T) {
	tasks := []*Task{
		{ID: "a", Status: TaskStatusFailed},
		{ID: "b", Status: TaskStatusCancelled},
	}
	if got := DeriveStatus(tasks, false); got != BatchStatusFailed {
		t.Errorf("expected failed when nothing completed, got %s", got)
	}
}

func TestFailurePolicyValid(t *testing.T) {
	if !FailFast.Valid() || !BestEffort.Valid() {
		t.Error("expected built-in policies to be valid")
	}
	if FailurePolicy("halt").Valid() {
		t.Error("expected unknown policy to be invalid")
	}
}

func TestResultEnvelopeTaskStatus(t *testing.T) {
	tests := []struct {
		outcome Outcome
		status  TaskStatus
	}{
		{OutcomeCompleted, TaskStatusCompleted},
		{OutcomeBusinessFailure, TaskStatusFailed},
		{OutcomeTimeout, TaskStatusFailed},
		{OutcomeConnectorError, TaskStatusFailed},
		{OutcomeCancelled, TaskStatusCancelled},
	}
	for _, tt := range tests {
		r := &ResultEnvelope{Outcome: tt.outcome}
		if got := r.TaskStatus(); got != tt.status {
			t.Errorf("%s -> %s, want %s", tt.outcome, got, tt.status)
		}
	}
}

func TestBatchDefinitionValidate(t *testing.T) {
	def := &BatchDefinition{
		Tasks: []TaskDefinition{
			{ID: "a", Payload: "echo hi", Capability: "shell"},
			{ID: "b", Payload: "echo bye", Capability: "shell", DependsOn: []string{"a"}},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}

	dup := &BatchDefinition{
		Tasks: []TaskDefinition{
			{ID: "a", Payload: "x", Capability: "shell"},
			{ID: "a", Payload: "y", Capability: "shell"},
		},
	}
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate id to fail validation")
	}

	empty := &BatchDefinition{}
	if err := empty.Validate(); err == nil {
		t.Error("expected empty batch to fail validation")
	}

	badPolicy := &BatchDefinition{
		Tasks:         []TaskDefinition{{ID: "a", Payload: "x", Capability: "shell"}},
		FailurePolicy: "halt",
	}
	if err := badPolicy.Validate(); err == nil {
		t.Error("expected unknown policy to fail validation")
	}
}
