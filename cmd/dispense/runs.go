package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dispensecore/internal/core"
)

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage", "", "run ledger driver: memory, sqlite or postgres")
	cmd.Flags().String("dsn", "", "sqlite path or postgres connection string")
	cmd.Flags().String("archive", "", "artifact archive driver: fs, memory or s3")
}

func (a *app) runCmd() *cobra.Command {
	var (
		name       string
		metricsOut string
	)
	cmd := &cobra.Command{
		Use:   "run <transfers.csv|->",
		Short: "Execute a transfer list on the simulated liquid handler and record the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			if name == "" && args[0] != "-" {
				name = filepath.Base(args[0])
			}
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			run, runErr := svc.Execute(cmd.Context(), name, in)
			if metricsOut != "" && a.metrics != nil {
				if err := a.metrics.WriteTextfile(metricsOut); err != nil {
					a.logger.Warn("write metrics textfile", zap.String("path", metricsOut), zap.Error(err))
				}
			}
			if a.expvar != nil {
				a.logger.Debug("run metrics", zap.String("expvar", a.expvar.Name()), zap.Any("snapshot", a.expvar.Snapshot()))
			}
			if run.ID != "" {
				if err := a.renderer().Run(cmd.OutOrStdout(), run); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "run name (default: input file name)")
	cmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write prometheus metrics in textfile format to this path")
	addPlanFlags(cmd)
	addStorageFlags(cmd)
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"runs"},
		Short:   "List recorded runs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			runs, err := svc.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			return a.renderer().Runs(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "show at most this many runs")
	addStorageFlags(cmd)
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	var artifact string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run or one of its archived artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if artifact != "" {
				data, err := svc.Artifact(cmd.Context(), args[0], artifact)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			run, err := svc.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.renderer().Run(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "", fmt.Sprintf("print an artifact: %s, %s or %s", core.ArtifactTransfers, core.ArtifactWorklist, core.ArtifactCommands))
	addStorageFlags(cmd)
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			deleted, err := svc.DeleteRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("run %s not found", args[0])
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", args[0])
			return err
		},
	}
	addStorageFlags(cmd)
	return cmd
}
