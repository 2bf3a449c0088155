package models

import (
	"fmt"
	"time"
)

// TrackedPosition is a fly as the ledger holds it: the immutable position plus its lifecycle.
type TrackedPosition struct {
	ClosedAt     time.Time          `json:"closed_at,omitempty"`
	Position     *ButterflyPosition `json:"position"`
	StateMachine *StateMachine      `json:"-"`
	LastResult   *ExitResult        `json:"last_result,omitempty"`
	State        PositionState      `json:"state"`
	ExitReason   string             `json:"exit_reason,omitempty"`
	ExitAttempts int                `json:"exit_attempts"`
	RealizedPnL  float64            `json:"realized_pnl"`
}

// NewTrackedPosition books a fly into the open state.
func NewTrackedPosition(pos *ButterflyPosition) *TrackedPosition {
	return &TrackedPosition{
		Position:     pos,
		State:        StateOpen,
		StateMachine: NewStateMachine(),
	}
}

// ID returns the underlying position ID.
func (t *TrackedPosition) ID() string {
	if t.Position == nil {
		return ""
	}
	return t.Position.ID()
}

// TransitionState moves the position to a new state
func (t *TrackedPosition) TransitionState(to PositionState, condition string) error {
	if err := t.ensureMachine().Transition(to, condition); err != nil {
		return fmt.Errorf("position %s state transition failed: %w", t.ID(), err)
	}
	t.State = to

	if to == StateExitPending {
		t.ExitAttempts++
	}
	if to == StateClosed && t.ClosedAt.IsZero() {
		t.ClosedAt = time.Now().UTC()
	}
	return nil
}

// ApplyResult records the outcome of an exit attempt on the ledger entry.
func (t *TrackedPosition) ApplyResult(result *ExitResult, reason string) {
	t.LastResult = result
	if result != nil && result.Success {
		t.RealizedPnL = result.RealizedPnL
		t.ExitReason = reason
	}
}

// GetCurrentState returns the canonical persisted state
func (t *TrackedPosition) GetCurrentState() PositionState {
	return t.State
}

// ensureMachine rebuilds the StateMachine from persisted state after a load.
func (t *TrackedPosition) ensureMachine() *StateMachine {
	if t.StateMachine == nil {
		t.StateMachine = NewStateMachineFromState(t.State)
	}
	return t.StateMachine
}

// Copy returns a deep copy safe to hand out from storage.
func (t *TrackedPosition) Copy() *TrackedPosition {
	if t == nil {
		return nil
	}
	cp := *t
	cp.StateMachine = t.StateMachine.Copy()
	if t.LastResult != nil {
		r := *t.LastResult
		r.Warnings = append([]string(nil), t.LastResult.Warnings...)
		cp.LastResult = &r
	}
	return &cp
}
