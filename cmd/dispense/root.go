package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dispensecore/internal/archive"
	"dispensecore/internal/config"
	"dispensecore/internal/core"
	"dispensecore/internal/logging"
	"dispensecore/internal/observability"
	"dispensecore/internal/persistence"
	"dispensecore/internal/report"
)

// flagBindings maps command-line flags onto config keys. A flag only
// overrides the config file and environment when it is set.
var flagBindings = map[string]string{
	"log-level": "logging.level",
	"log-json":  "logging.json",
	"trace":     "logging.trace",
	"deck":      "deck.path",
	"pipette":   "pipette.model",
	"disposal":  "distribute.disposal_volume",
	"policy":    "distribute.policy",
	"blow-out":  "distribute.blow_out",
	"storage":   "storage.driver",
	"dsn":       "storage.dsn",
	"archive":   "archive.driver",
}

type app struct {
	cfgFile string
	noColor bool

	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.PrometheusRecorder
	expvar  *observability.ExpvarRecorder
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "dispense",
		Short: "Consolidate and run cherry-pick transfer lists",
		Long: `dispense groups a CSV transfer list by source well so each source is
aspirated once and distributed to all of its destinations in order.

The CSV header must contain the columns:
  Source Plate, Source Well, Destination Plate, Destination Well, Volume`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./dispensecore.yaml or $XDG_CONFIG_HOME/dispensecore/dispensecore.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error, dpanic, panic or fatal")
	flags.Bool("log-json", false, "log JSON lines instead of console text")
	flags.Bool("trace", false, "write operation spans as JSON lines to stderr")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colors and borders")

	root.AddCommand(
		a.consolidateCmd(),
		a.planCmd(),
		a.runCmd(),
		a.historyCmd(),
		a.showCmd(),
		a.deleteCmd(),
		wellsCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	for name, key := range flagBindings {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.v, a.cfg, a.logger = v, cfg, logger
	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config", zap.String("path", used))
	}
	return nil
}

func (a *app) renderer() *report.Renderer {
	return report.New(a.noColor)
}

// planningService returns a service for commands that only parse and plan.
// It never touches the configured ledger or archive.
func (a *app) planningService() (*core.Service, error) {
	opts, err := a.cfg.PlannerOptions()
	if err != nil {
		return nil, err
	}
	deck, err := a.cfg.LoadDeck()
	if err != nil {
		return nil, err
	}
	return core.NewService(nil,
		core.WithLogger(a.logger),
		core.WithDeck(deck),
		core.WithPlannerOptions(opts),
	), nil
}

// service assembles the run service from the loaded config. The returned
// close function releases the run ledger.
func (a *app) service(ctx context.Context) (*core.Service, func(), error) {
	opts, err := a.cfg.PlannerOptions()
	if err != nil {
		return nil, nil, err
	}
	deck, err := a.cfg.LoadDeck()
	if err != nil {
		return nil, nil, err
	}
	store, err := persistence.Open(ctx, a.cfg.Storage.Driver, a.cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open run ledger: %w", err)
	}
	arc, err := archive.Open(ctx, a.cfg.ArchiveOptions())
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}

	svcOpts := []core.Option{
		core.WithLogger(a.logger),
		core.WithArchive(arc),
		core.WithDeck(deck),
		core.WithPlannerOptions(opts),
	}
	if a.cfg.Metrics.Enabled {
		rec, err := observability.NewPrometheusRecorder(a.cfg.Metrics.Namespace)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		a.metrics = rec
		a.expvar = observability.NewExpvarRecorder("")
		svcOpts = append(svcOpts, core.WithMetrics(observability.Multi(rec, a.expvar)))
	}
	if a.cfg.Logging.Trace {
		svcOpts = append(svcOpts, core.WithTracer(observability.NewJSONTracer(os.Stderr)))
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close run ledger", zap.Error(err))
		}
	}
	return core.NewService(store, svcOpts...), closeFn, nil
}
