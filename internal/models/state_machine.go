package models

import (
	"fmt"
	"time"
)

// PositionState represents where a fly sits in its exit lifecycle
type PositionState string

const (
	StateOpen        PositionState = "open"         // Held, evaluated every cycle
	StateExitPending PositionState = "exit_pending" // Exit attempt in flight
	StateClosed      PositionState = "closed"       // Both verticals filled
	StateError       PositionState = "error"        // Retries exhausted, needs intervention
)

// Transition conditions
const (
	ConditionExitTriggered      = "exit_triggered"
	ConditionExitFilled         = "exit_filled"
	ConditionExitFailed         = "exit_failed"
	ConditionRetriesExhausted   = "retries_exhausted"
	ConditionManualIntervention = "manual_intervention"
	ConditionForceClose         = "force_close"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions is the lifecycle table for a ledger fly.
var ValidTransitions = []StateTransition{
	{StateOpen, StateExitPending, ConditionExitTriggered, "Decision engine requested an exit"},
	{StateExitPending, StateClosed, ConditionExitFilled, "Both verticals filled"},
	{StateExitPending, StateOpen, ConditionExitFailed, "Attempt failed, position still held"},
	{StateExitPending, StateError, ConditionRetriesExhausted, "Retries exhausted"},

	// Error recovery
	{StateError, StateOpen, ConditionManualIntervention, "Manual intervention completed"},
	{StateError, StateClosed, ConditionForceClose, "Force close position"},
}

// StateMachine manages position state transitions
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[PositionState]int
	currentState    PositionState
	previousState   PositionState
	maxAttempts     int
}

// DefaultMaxExitAttempts bounds how often a fly may enter exit_pending.
const DefaultMaxExitAttempts = 10

// NewStateMachine creates a state machine for a freshly booked fly.
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StateOpen)
}

// NewStateMachineFromState restores a machine from a persisted state.
func NewStateMachineFromState(state PositionState) *StateMachine {
	return &StateMachine{
		currentState:    state,
		previousState:   state,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[PositionState]int),
		maxAttempts:     DefaultMaxExitAttempts,
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// GetTransitionTime returns when the last transition happened
func (sm *StateMachine) GetTransitionTime() time.Time {
	return sm.transitionTime
}

// SetMaxAttempts overrides the exit attempt limit. Values <= 0 are ignored.
func (sm *StateMachine) SetMaxAttempts(n int) {
	if n > 0 {
		sm.maxAttempts = n
	}
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	if !sm.isTransitionDefined(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
			sm.currentState, to, condition)
	}
	if to == StateExitPending && sm.transitionCount[StateExitPending] >= sm.maxAttempts {
		return fmt.Errorf("maximum exit attempts (%d) exceeded", sm.maxAttempts)
	}
	return nil
}

func (sm *StateMachine) isTransitionDefined(to PositionState, condition string) bool {
	for _, tr := range ValidTransitions {
		if tr.From != sm.currentState || tr.To != to {
			continue
		}
		// an empty condition matches any transition between the two states
		if condition == "" || condition == tr.Condition {
			return true
		}
	}
	return false
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've been in a state
func (sm *StateMachine) GetTransitionCount(state PositionState) int {
	return sm.transitionCount[state]
}

// Attempts returns how many exit attempts have been started.
func (sm *StateMachine) Attempts() int {
	return sm.transitionCount[StateExitPending]
}

// CanAttemptExit reports whether another exit attempt may start from the current state.
func (sm *StateMachine) CanAttemptExit() bool {
	return sm.currentState == StateOpen && sm.transitionCount[StateExitPending] < sm.maxAttempts
}

// IsTerminal returns true once the fly is closed.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateClosed
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateOpen:
		return "Position held, evaluated for exit each cycle"
	case StateExitPending:
		return "Exit attempt in progress"
	case StateClosed:
		return "Position closed"
	case StateError:
		return "Error state - manual intervention required"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}
	cp := &StateMachine{
		currentState:    sm.currentState,
		previousState:   sm.previousState,
		transitionTime:  sm.transitionTime,
		maxAttempts:     sm.maxAttempts,
		transitionCount: make(map[PositionState]int, len(sm.transitionCount)),
	}
	for k, v := range sm.transitionCount {
		cp.transitionCount[k] = v
	}
	return cp
}
