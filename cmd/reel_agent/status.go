package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/reel-forge/internal/checkpoint"
	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/observability"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var (
		runID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoints of a run, or recent runs with the postgres backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID != "" {
				if err := checkpoint.ValidateKey(runID); err != nil {
					return fault.Validation(err)
				}
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if runID == "" {
				if a.db == nil {
					return &exitError{code: exitValidation, err: errors.New("--run is required unless the postgres backend is used")}
				}
				return printRecentRuns(cmd, a, limit)
			}

			entries, err := checkpoint.List(cmd.Context(), a.store, runID)
			if err != nil {
				return err
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintCheckpoints(runID, entries)
			if a.db == nil {
				return nil
			}
			return printRunRecord(cmd, a, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent runs to list")
	return cmd
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printRecentRuns(cmd *cobra.Command, a *app, limit int) error {
	runs, err := a.db.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range runs {
		line := fmt.Sprintf("%-36s %-8s %-9s %s", r.ID, r.Pipeline, r.Status, r.CreatedAt.Format(time.RFC3339))
		if r.StageID != nil && r.ErrorKind != nil {
			line += fmt.Sprintf(" %s [%s]", *r.StageID, *r.ErrorKind)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printRunRecord(cmd *cobra.Command, a *app, runID string) error {
	run, err := a.db.GetRun(cmd.Context(), runID)
	if err != nil || run == nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recorded: %s %s, started %s\n", run.Pipeline, run.Status, run.CreatedAt.Format(time.RFC3339))

	stepsLog, err := a.db.ListRunSteps(cmd.Context(), runID, nil)
	if err != nil {
		return err
	}
	for _, st := range stepsLog {
		line := fmt.Sprintf("  %s %-10s %-9s attempt %d, %dms", st.CreatedAt.Format(time.TimeOnly), st.StageID, st.Status, st.Attempt, st.DurationMs)
		if st.ErrorKind != nil {
			line += fmt.Sprintf(" [%s]", *st.ErrorKind)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func newCleanCmd(g *globalOptions) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete the checkpoints of a run so it recomputes from scratch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if runID == "" {
				return &exitError{code: exitValidation, err: errors.New("--run is required")}
			}
			if err := checkpoint.ValidateKey(runID); err != nil {
				return fault.Validation(err)
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Delete(cmd.Context(), runID); err != nil {
				return err
			}
			if a.db != nil {
				if err := a.db.DeleteRun(cmd.Context(), runID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted checkpoints of run %s\n", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	return cmd
}
