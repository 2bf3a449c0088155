package storage

import (
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/flyexit/internal/models"
)

// Statistics summarizes recorded exit attempts.
type Statistics struct {
	TotalExits      int     `json:"total_exits"`
	SuccessfulExits int     `json:"successful_exits"`
	FailedExits     int     `json:"failed_exits"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	SuccessRate     float64 `json:"success_rate"`
	TotalPnL        float64 `json:"total_pnl"`
	AveragePnL      float64 `json:"average_pnl"`
	AverageWin      float64 `json:"average_win"`
	AverageLoss     float64 `json:"average_loss"`
	MaxWin          float64 `json:"max_win"`
	MaxLoss         float64 `json:"max_loss"`
	TotalSlippage   float64 `json:"total_slippage"`
	AverageSlippage float64 `json:"average_slippage"`
}

// SummarizeResults computes statistics over results that were never written to a ledger,
// such as a simulation run.
func SummarizeResults(results []*models.ExitResult) *Statistics {
	exits := make([]ExitRecord, 0, len(results))
	for _, r := range results {
		if r != nil {
			exits = append(exits, ExitRecord{Result: *r})
		}
	}
	return computeStatistics(exits)
}

// computeStatistics folds the exit history. Only successful exits carry P&L; failed
// attempts count toward the failure rate.
func computeStatistics(exits []ExitRecord) *Statistics {
	stats := &Statistics{TotalExits: len(exits)}

	var (
		pnl, wins, losses, slip decimal.Decimal
		maxWin, maxLoss         decimal.Decimal
	)
	for _, rec := range exits {
		r := rec.Result
		if !r.Success {
			stats.FailedExits++
			continue
		}
		stats.SuccessfulExits++

		p := decimal.NewFromFloat(r.RealizedPnL)
		pnl = pnl.Add(p)
		slip = slip.Add(decimal.NewFromFloat(r.TotalSlippage))

		switch {
		case p.IsPositive():
			stats.Wins++
			wins = wins.Add(p)
			if p.GreaterThan(maxWin) {
				maxWin = p
			}
		case p.IsNegative():
			stats.Losses++
			losses = losses.Add(p)
			if p.LessThan(maxLoss) {
				maxLoss = p
			}
		}
	}

	stats.TotalPnL = pnl.InexactFloat64()
	stats.TotalSlippage = slip.InexactFloat64()
	stats.MaxWin = maxWin.InexactFloat64()
	stats.MaxLoss = maxLoss.InexactFloat64()

	if stats.TotalExits > 0 {
		stats.SuccessRate = ratio(stats.SuccessfulExits, stats.TotalExits)
	}
	if n := stats.SuccessfulExits; n > 0 {
		stats.AveragePnL = pnl.Div(decimal.NewFromInt(int64(n))).Round(2).InexactFloat64()
		stats.AverageSlippage = slip.Div(decimal.NewFromInt(int64(n))).Round(2).InexactFloat64()
		stats.WinRate = ratio(stats.Wins, n)
	}
	if stats.Wins > 0 {
		stats.AverageWin = wins.Div(decimal.NewFromInt(int64(stats.Wins))).Round(2).InexactFloat64()
	}
	if stats.Losses > 0 {
		stats.AverageLoss = losses.Div(decimal.NewFromInt(int64(stats.Losses))).Round(2).InexactFloat64()
	}
	return stats
}

func ratio(n, d int) float64 {
	return decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(d))).Round(4).InexactFloat64()
}
