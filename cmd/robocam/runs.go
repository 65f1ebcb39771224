package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewRunsCommand() *cobra.Command {
	limit := 20
	asJSON := false

	cmd := &cobra.Command{
		Use:     "runs [run-id]",
		Short:   "Show experiment run history",
		GroupID: gExperiment,
		Long: `List recent experiment runs, or show the wells visited by one run.
Runs interrupted by a daemon restart are recorded as errors.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				detail, err := apiClient.GetRun(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, detail)
				}
				r := detail.Run
				cmd.Printf("Run %s (%s)\n", bold("%s", r.ID), r.Experiment)
				cmd.Printf("  Phase: %s\n", bold("%s", r.Phase))
				cmd.Printf("  Calibration: %s, %s pattern, %s mode\n", r.Calibration, r.Pattern, r.Mode)
				cmd.Printf("  Started: %s\n", r.StartedAt.Local().Format(time.DateTime))
				if r.FinishedAt != nil {
					cmd.Printf("  Finished: %s\n", r.FinishedAt.Local().Format(time.DateTime))
				}
				if r.Message != "" {
					cmd.Printf("  Message: %s\n", r.Message)
				}
				cmd.Printf("  Output: %s\n", r.OutputFolder)
				cmd.Printf("  Wells visited: %d/%d\n", len(detail.Visits), r.WellsTotal)

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tWELL\tX\tY\tZ\tAT")
				for _, v := range detail.Visits {
					fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%.3f\t%s\n", v.Seq, v.Label, v.X, v.Y, v.Z, v.VisitedAt.Local().Format(time.TimeOnly))
				}
				return tw.Flush()
			}

			runs, err := apiClient.ListRuns(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, runs)
			}
			if len(runs) == 0 {
				cmd.Println("No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEXPERIMENT\tSTARTED\tPHASE\tWELLS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n", r.ID, r.Experiment,
					r.StartedAt.Local().Format(time.DateTime), r.Phase, r.WellsVisited, r.WellsTotal)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", limit, "number of runs to list, 0 for all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
