package models

import (
	"time"
)

// Exit methods recorded on results.
const (
	ExitMethodSplitVerticals = "split_verticals"
	ExitMethodWholeFly       = "whole_fly"
)

// OrderFill is what an execution backend reports for one spread order.
type OrderFill struct {
	FillTime  time.Time `json:"fill_time"` // includes latency, not submission time
	FillPrice float64   `json:"fill_price"`
	LatencyMs float64   `json:"latency_ms"`
	Slippage  float64   `json:"slippage"`
}

// SpreadFill is a fill that passed the router's slippage checks.
type SpreadFill struct {
	FillTime    time.Time      `json:"fill_time"`
	Spread      VerticalSpread `json:"spread"`
	FillPrice   float64        `json:"fill_price"`
	Slippage    float64        `json:"slippage"`     // |theo mid - fill|
	SlippagePct float64        `json:"slippage_pct"` // fraction of theo mid
	LatencyMs   float64        `json:"latency_ms"`
}

// ExitResult is the terminal record of one exit attempt.
type ExitResult struct {
	Err                  error       `json:"-"`
	SpreadAFill          *SpreadFill `json:"spread_a_fill,omitempty"`
	SpreadBFill          *SpreadFill `json:"spread_b_fill,omitempty"`
	AttemptID            string      `json:"attempt_id"`
	PositionID           string      `json:"position_id"`
	ExitMethod           string      `json:"exit_method"`
	ErrorMessage         string      `json:"error_message,omitempty"`
	Warnings             []string    `json:"warnings,omitempty"`
	EntryCost            float64     `json:"entry_cost"`
	ExitProceeds         float64     `json:"exit_proceeds"`
	RealizedPnL          float64     `json:"realized_pnl"`
	TotalSlippage        float64     `json:"total_slippage"`
	SlippageVsMid        float64     `json:"slippage_vs_mid"` // percent of proceeds
	TotalLatencyMs       float64     `json:"total_latency_ms"`
	TimeBetweenSpreadsMs float64     `json:"time_between_spreads_ms"`
	Success              bool        `json:"success"`
}

// Summary flattens the result for logging and reports.
func (r *ExitResult) Summary() map[string]interface{} {
	return map[string]interface{}{
		"attempt_id":              r.AttemptID,
		"position_id":             r.PositionID,
		"exit_method":             r.ExitMethod,
		"entry_cost":              r.EntryCost,
		"exit_proceeds":           r.ExitProceeds,
		"realized_pnl":            r.RealizedPnL,
		"total_slippage":          r.TotalSlippage,
		"slippage_vs_mid":         r.SlippageVsMid,
		"total_latency_ms":        r.TotalLatencyMs,
		"time_between_spreads_ms": r.TimeBetweenSpreadsMs,
		"success":                 r.Success,
		"num_warnings":            len(r.Warnings),
	}
}
