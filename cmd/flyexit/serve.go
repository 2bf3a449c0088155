package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/flyexit/internal/api"
	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the ledger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeLedger, err := a.openLedger()
			if err != nil {
				return err
			}
			defer closeLedger()

			manager, err := a.newManager(store, clock.Real{})
			if err != nil {
				return err
			}
			metrics.OpenPositions.Set(float64(len(store.GetOpenPositions())))

			srv := api.NewServer(api.Config{
				Addr:      a.cfg.Metrics.Addr,
				AuthToken: a.cfg.Metrics.AuthToken,
			}, store, manager, clock.Real{}, a.logger)
			if a.cfg.Metrics.AuthToken == "" {
				a.logger.Warn("metrics.auth_token is empty, /api is unauthenticated")
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			ctx := commandContext(cmd)
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("Shutdown signal received, stopping server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				a.logger.WithError(err).Error("Failed to save ledger on shutdown")
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}
}
