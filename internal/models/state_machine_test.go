package models

import (
	"testing"
)

func TestStateMachine_BasicTransitions(t *testing.T) {
	sm := NewStateMachine()

	if sm.GetCurrentState() != StateOpen {
		t.Errorf("Initial state should be StateOpen, got %s", sm.GetCurrentState())
	}

	if err := sm.Transition(StateExitPending, ConditionExitTriggered); err != nil {
		t.Fatalf("Valid transition failed: %v", err)
	}
	if sm.GetCurrentState() != StateExitPending {
		t.Errorf("State should be StateExitPending, got %s", sm.GetCurrentState())
	}
	if sm.GetPreviousState() != StateOpen {
		t.Errorf("Previous state should be StateOpen, got %s", sm.GetPreviousState())
	}

	if err := sm.Transition(StateClosed, ConditionExitFilled); err != nil {
		t.Fatalf("Valid transition failed: %v", err)
	}
	if !sm.IsTerminal() {
		t.Error("Closed state should be terminal")
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      PositionState
		to        PositionState
		condition string
	}{
		{"open straight to closed", StateOpen, StateClosed, ConditionExitFilled},
		{"closed reopens", StateClosed, StateOpen, ConditionManualIntervention},
		{"wrong condition", StateExitPending, StateClosed, ConditionExitFailed},
		{"open to error", StateOpen, StateError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachineFromState(tt.from)
			if err := sm.Transition(tt.to, tt.condition); err == nil {
				t.Fatalf("expected transition %s -> %s to fail", tt.from, tt.to)
			}
			if sm.GetCurrentState() != tt.from {
				t.Errorf("State should remain %s after failed transition, got %s", tt.from, sm.GetCurrentState())
			}
		})
	}
}

func TestStateMachine_FailedAttemptReturnsToOpen(t *testing.T) {
	sm := NewStateMachine()

	for i := 0; i < 3; i++ {
		if err := sm.Transition(StateExitPending, ConditionExitTriggered); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := sm.Transition(StateOpen, ConditionExitFailed); err != nil {
			t.Fatalf("attempt %d rollback: %v", i+1, err)
		}
	}

	if sm.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", sm.Attempts())
	}
	if !sm.CanAttemptExit() {
		t.Error("should still be able to attempt an exit")
	}
}

func TestStateMachine_AttemptLimit(t *testing.T) {
	sm := NewStateMachine()
	sm.SetMaxAttempts(2)

	for i := 0; i < 2; i++ {
		if err := sm.Transition(StateExitPending, ConditionExitTriggered); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if err := sm.Transition(StateOpen, ConditionExitFailed); err != nil {
			t.Fatalf("rollback %d: %v", i+1, err)
		}
	}

	if sm.CanAttemptExit() {
		t.Error("CanAttemptExit should be false once the limit is reached")
	}
	if err := sm.Transition(StateExitPending, ConditionExitTriggered); err == nil {
		t.Error("third attempt should be rejected")
	}
}

func TestStateMachine_ErrorRecovery(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.Transition(StateExitPending, ConditionExitTriggered)
	if err := sm.Transition(StateError, ConditionRetriesExhausted); err != nil {
		t.Fatalf("exhaust: %v", err)
	}
	if sm.CanAttemptExit() {
		t.Error("no exits from error state")
	}

	recovered := sm.Copy()
	if err := recovered.Transition(StateOpen, ConditionManualIntervention); err != nil {
		t.Fatalf("manual intervention: %v", err)
	}
	if err := sm.Transition(StateClosed, ConditionForceClose); err != nil {
		t.Fatalf("force close: %v", err)
	}

	if recovered.GetCurrentState() != StateOpen {
		t.Errorf("copy state = %s, want open", recovered.GetCurrentState())
	}
	if sm.GetCurrentState() != StateClosed {
		t.Errorf("original state = %s, want closed", sm.GetCurrentState())
	}
}

func TestStateMachine_EmptyConditionMatches(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateExitPending, ""); err != nil {
		t.Fatalf("empty condition should match: %v", err)
	}
}

func TestStateMachine_Copy(t *testing.T) {
	var nilSM *StateMachine
	if nilSM.Copy() != nil {
		t.Error("Copy of nil should be nil")
	}

	sm := NewStateMachine()
	_ = sm.Transition(StateExitPending, ConditionExitTriggered)
	cp := sm.Copy()
	_ = sm.Transition(StateOpen, ConditionExitFailed)

	if cp.GetCurrentState() != StateExitPending {
		t.Errorf("copy should be independent, got %s", cp.GetCurrentState())
	}
	if cp.GetTransitionCount(StateExitPending) != 1 {
		t.Errorf("copy transition count = %d, want 1", cp.GetTransitionCount(StateExitPending))
	}
	if cp.GetStateDescription() == "Unknown state" {
		t.Error("description missing for exit_pending")
	}
}
