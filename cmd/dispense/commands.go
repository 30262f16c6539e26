package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dispensecore/internal/labware"
	"dispensecore/internal/transferlist"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
)

// openInput returns the named file, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied transfer list
	if err != nil {
		return nil, fmt.Errorf("open transfer list: %w", err)
	}
	return f, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().String("deck", "", "YAML deck layout (default: built-in cherry-pick deck)")
	cmd.Flags().String("pipette", "", "pipette model, e.g. p300_single_gen2")
	cmd.Flags().Float64("disposal", 0, "disposal volume in µL drawn with every aspirate")
	cmd.Flags().String("policy", "", "capacity policy: split or strict")
	cmd.Flags().String("blow-out", "", "blow-out location: source, destination or trash")
}

func (a *app) consolidateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "consolidate <transfers.csv|->",
		Short: "Group a transfer list into per-source dispense batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			svc, err := a.planningService()
			if err != nil {
				return err
			}
			batches, err := svc.Consolidate(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case formatTable:
				return a.renderer().Batches(out, batches)
			case formatCSV:
				return transferlist.WriteBatches(out, batches)
			case formatJSON:
				return writeJSON(out, batches)
			default:
				return fmt.Errorf("unknown format %q (want table, csv or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, csv or json")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan <transfers.csv|->",
		Short: "Plan aspirate and dispense cycles for a transfer list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			svc, err := a.planningService()
			if err != nil {
				return err
			}
			p, err := svc.Prepare(cmd.Context(), in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case formatTable:
				return a.renderer().Plan(out, p.Plan)
			case formatJSON:
				return writeJSON(out, p.Plan)
			default:
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table or json")
	addPlanFlags(cmd)
	return cmd
}

func wellsCmd() *cobra.Command {
	var (
		size     int
		quadrant int
	)
	cmd := &cobra.Command{
		Use:   "wells",
		Short: "Print plate wells in column-major order or a 96 to 384 quadrant map",
		Example: `  dispense wells --format 96
  dispense wells --format 384 --quadrant 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if quadrant != 0 {
				if size != labware.Format384.Size() {
					return fmt.Errorf("quadrant mapping needs --format 384, got %d", size)
				}
				for _, src := range labware.Format96.Wells() {
					dst, err := labware.Quadrant(quadrant, src)
					if err != nil {
						return err
					}
					idx, err := labware.Format384.Index(dst)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(out, "%s\t%s\t%d\n", src, dst, idx); err != nil {
						return err
					}
				}
				return nil
			}
			f, ok := labware.FormatForWells(size)
			if !ok {
				return fmt.Errorf("no plate format with %d wells", size)
			}
			for i, w := range f.Wells() {
				if _, err := fmt.Fprintf(out, "%d\t%s\n", i, w); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "format", labware.Format96.Size(), "plate format by well count: 6, 24, 96, 384 or 1536")
	cmd.Flags().IntVarP(&quadrant, "quadrant", "q", 0, "map a 96-well layout into quadrant 1-4 of a 384-well plate")
	return cmd
}
