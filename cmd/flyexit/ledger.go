package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/flyexit/internal/api"
	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/orders"
)

func newAddCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a butterfly position to the ledger from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file) // #nosec G304 -- user-supplied position file
			if err != nil {
				return fmt.Errorf("reading position: %w", err)
			}
			var pos models.ButterflyPosition
			if err := json.Unmarshal(data, &pos); err != nil {
				return fmt.Errorf("parsing position %s: %w", file, err)
			}

			store, closeLedger, err := a.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			tp, err := store.AddPosition(&pos)
			if err != nil {
				return err
			}
			a.logger.WithFields(logrus.Fields{"position_id": tp.ID(), "symbol": pos.Symbol()}).Info("Position added")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "position JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		positionID   string
		price        float64
		nowFlag      string
		snapshotPath string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the exit rules against a ledger position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if nowFlag != "" {
				t, err := time.Parse(time.RFC3339, nowFlag)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = t
			}

			var snap models.MarketSnapshot
			if snapshotPath != "" {
				s, err := readSnapshot(snapshotPath)
				if err != nil {
					return err
				}
				snap = s
			}

			store, closeLedger, err := a.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			manager, err := a.newManager(store, clock.NewFake(now))
			if err != nil {
				return err
			}
			d, err := manager.Evaluate(positionID, now, orders.MarketData{Snapshot: snap, Underlying: price})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), api.NewDecisionView(d))
		},
	}
	cmd.Flags().StringVar(&positionID, "position", "", "position ID")
	cmd.Flags().Float64Var(&price, "price", 0, "underlying price (falls back to the stored price)")
	cmd.Flags().StringVar(&nowFlag, "now", "", "evaluation time, RFC3339 (defaults to now)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "quotes JSON; legs without quotes are marked at entry premium")
	_ = cmd.MarkFlagRequired("position")
	return cmd
}

func newExitCmd(a *app) *cobra.Command {
	var (
		positionID   string
		snapshotPath string
		reason       string
	)
	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Exit a ledger position as two vertical spreads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := readSnapshot(snapshotPath)
			if err != nil {
				return err
			}

			store, closeLedger, err := a.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			manager, err := a.newManager(store, clock.Real{})
			if err != nil {
				return err
			}

			res, exitErr := manager.ExitPosition(commandContext(cmd), positionID, snap, reason)
			if res != nil {
				if err := writeJSON(cmd.OutOrStdout(), res.Summary()); err != nil {
					return errors.Join(exitErr, err)
				}
			}
			return exitErr
		},
	}
	cmd.Flags().StringVar(&positionID, "position", "", "position ID")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "quotes JSON keyed by leg, e.g. C_445")
	cmd.Flags().StringVar(&reason, "reason", "MANUAL", "exit reason recorded in the ledger")
	_ = cmd.MarkFlagRequired("position")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}
