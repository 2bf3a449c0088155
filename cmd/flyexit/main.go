package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/flyexit/internal/broker"
	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/config"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/orders"
	"github.com/eddiefleurent/flyexit/internal/retry"
	"github.com/eddiefleurent/flyexit/internal/router"
	"github.com/eddiefleurent/flyexit/internal/storage"
	"github.com/eddiefleurent/flyexit/internal/strategy"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "flyexit",
		Short:         "Butterfly exit decisions and split-vertical execution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config YAML (built-in defaults when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override environment.log_level")

	root.AddCommand(
		newSimulateCmd(a),
		newAddCmd(a),
		newEvaluateCmd(a),
		newExitCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	level := cfg.Environment.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(level, cfg.Logging)
	return nil
}

// openLedger opens the JSON ledger and, when configured, attaches the sqlite journal. The
// returned func closes the journal.
func (a *app) openLedger() (*storage.JSONStorage, func(), error) {
	store, err := storage.NewJSONStorage(a.cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	closeFn := func() {}
	if path := a.cfg.Storage.JournalPath; path != "" {
		journal, err := storage.NewSQLiteJournal(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open journal: %w", err)
		}
		store.SetJournal(journal)
		closeFn = func() {
			if err := journal.Close(); err != nil {
				a.logger.WithError(err).Warn("Failed to close journal")
			}
		}
	}
	return store, closeFn, nil
}

// newManager wires the engine, router, retry client and configured executor around store.
func (a *app) newManager(store storage.Interface, clk clock.Clock) (*orders.Manager, error) {
	engine, err := strategy.NewEngine(a.cfg.Exit, a.logger)
	if err != nil {
		return nil, err
	}
	r, err := router.NewRouter(a.cfg.Risk, clk, a.logger)
	if err != nil {
		return nil, err
	}
	exec, err := broker.NewExecutor(a.cfg, rand.New(rand.NewSource(clk.Now().UnixNano())), clk, a.logger) // #nosec G404 -- simulated fills only
	if err != nil {
		return nil, err
	}

	retrier := retry.NewClient(r, a.logger, retry.ConfigFrom(a.cfg))
	return orders.NewManager(engine, retrier, store, exec, a.logger, orders.ConfigFrom(a.cfg)), nil
}

// readSnapshot loads a MarketSnapshot from a JSON object keyed by leg key, e.g.
// {"C_445": {"bid": 6.9, "ask": 7.1, "mid": 7.0}}.
func readSnapshot(path string) (models.MarketSnapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-supplied quotes file
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap models.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return snap, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
