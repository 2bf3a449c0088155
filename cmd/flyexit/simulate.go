package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/mock"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/router"
	"github.com/eddiefleurent/flyexit/internal/storage"
)

func newSimulateCmd(a *app) *cobra.Command {
	var (
		n    int
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare split-vertical exits with whole-fly exits on synthetic flies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n <= 0 {
				return fmt.Errorf("--n must be positive, got %d", n)
			}
			sim, err := runSimulation(commandContext(cmd), a.cfg, n, seed, time.Now(), a.logger)
			if err != nil {
				return err
			}
			sim.log(a.logger)
			sim.render(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "number of synthetic flies")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	return cmd
}

type simulation struct {
	split []*models.ExitResult
	whole []*models.ExitResult
}

// steppingExecutor moves the simulation clock to each fill time, so the router sees the
// second spread fill after the first.
type steppingExecutor struct {
	inner broker.SpreadExecutor
	clock *clock.Fake
}

func (s steppingExecutor) ExecuteSpreadExit(ctx context.Context, spread models.VerticalSpread,
	limitPrice, maxSlippage float64) (*models.OrderFill, error) {
	fill, err := s.inner.ExecuteSpreadExit(ctx, spread, limitPrice, maxSlippage)
	if fill != nil {
		s.clock.Set(fill.FillTime)
	}
	return fill, err
}

// runSimulation exits n synthetic flies both ways. The split side goes through the router
// and the backtest executor without the breaker, so one bad streak cannot skew the sample.
func runSimulation(ctx context.Context, cfg *config.Config, n int, seed int64, now time.Time,
	logger logrus.FieldLogger) (*simulation, error) {
	samples, err := mock.NewGenerator(seed, now).Samples(n)
	if err != nil {
		return nil, err
	}

	clk := clock.NewFake(now)
	r, err := router.NewRouter(cfg.Risk, clk, logger)
	if err != nil {
		return nil, err
	}
	bt, err := broker.NewBacktestExecutor(cfg.Executor, rand.New(rand.NewSource(seed)), clk, logger) // #nosec G404 -- simulation
	if err != nil {
		return nil, err
	}
	exec := steppingExecutor{inner: bt, clock: clk}
	wholeRng := rand.New(rand.NewSource(seed + 1)) // #nosec G404 -- simulation

	sim := &simulation{
		split: make([]*models.ExitResult, 0, n),
		whole: make([]*models.ExitResult, 0, n),
	}
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim.split = append(sim.split, r.ExitButterfly(ctx, s.Position, s.Snapshot, exec))
		sim.whole = append(sim.whole, router.SimulateWholeFly(s.Position, s.Snapshot, wholeRng))
		clk.Advance(time.Second)
	}
	return sim, nil
}

type simulationRow struct {
	method string
	stats  *storage.Statistics
	avgLat float64
}

func (s *simulation) rows() []simulationRow {
	return []simulationRow{
		{method: models.ExitMethodSplitVerticals, stats: storage.SummarizeResults(s.split), avgLat: avgLatency(s.split)},
		{method: models.ExitMethodWholeFly, stats: storage.SummarizeResults(s.whole), avgLat: avgLatency(s.whole)},
	}
}

func avgLatency(results []*models.ExitResult) float64 {
	var sum float64
	n := 0
	for _, r := range results {
		if r.Success {
			sum += r.TotalLatencyMs
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (s *simulation) log(logger logrus.FieldLogger) {
	for _, row := range s.rows() {
		logger.WithFields(logrus.Fields{
			"method":           row.method,
			"count":            row.stats.TotalExits,
			"success_rate":     row.stats.SuccessRate,
			"avg_pnl":          row.stats.AveragePnL,
			"avg_slippage":     row.stats.AverageSlippage,
			"avg_latency_ms":   row.avgLat,
			"successful_exits": row.stats.SuccessfulExits,
		}).Info("Simulation summary")
	}
}

func (s *simulation) render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Method", "Count", "Success", "Avg P&L", "Avg Slippage", "Avg Latency (ms)"})
	for _, row := range s.rows() {
		table.Append([]string{
			row.method,
			fmt.Sprintf("%d", row.stats.TotalExits),
			fmt.Sprintf("%.1f%%", row.stats.SuccessRate*100),
			fmt.Sprintf("$%.2f", row.stats.AveragePnL),
			fmt.Sprintf("$%.2f", row.stats.AverageSlippage),
			fmt.Sprintf("%.0f", row.avgLat),
		})
	}
	table.Render()
}
