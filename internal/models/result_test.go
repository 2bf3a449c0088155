package models

import "testing"

func TestExitResult_Summary(t *testing.T) {
	r := &ExitResult{
		AttemptID:    "a-1",
		PositionID:   "fly-1",
		ExitMethod:   ExitMethodSplitVerticals,
		EntryCost:    150,
		ExitProceeds: 600,
		RealizedPnL:  450,
		Success:      true,
		Warnings:     []string{"uneven wings"},
	}

	s := r.Summary()
	want := map[string]interface{}{
		"attempt_id":   "a-1",
		"position_id":  "fly-1",
		"exit_method":  ExitMethodSplitVerticals,
		"entry_cost":   150.0,
		"realized_pnl": 450.0,
		"success":      true,
		"num_warnings": 1,
	}
	for k, v := range want {
		if s[k] != v {
			t.Errorf("Summary()[%q] = %v, want %v", k, s[k], v)
		}
	}
}
