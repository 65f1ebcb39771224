package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/experiment"
)

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of robocam",
		Long:    `Get the stage position, laser state, calibration, experiment progress and schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, st)
			}

			cmd.Println(bold("Devices:"))
			cmd.Printf("  Position: %s\n", bold("%s", st.Position))
			cmd.Printf("  Laser on: %s\n", bool2Text(st.Laser))
			cmd.Printf("  Camera: %s\n", bold("%s", st.Camera))
			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  Phase: %s\n", calibrationPhaseText(st.Calibration))
			cmd.Println()

			cmd.Println(bold("Experiment:"))
			printExperimentStatus(cmd, &st.Experiment)
			cmd.Println()

			cmd.Println(bold("Schedule:"))
			if !st.Schedule.Enabled {
				cmd.Println("  Not scheduled.")
			} else {
				cmd.Printf("  Cron: %s\n", bold("%s", st.Schedule.Cron))
				cmd.Printf("  Settings: %s\n", st.Schedule.Settings)
				cmd.Printf("  Next run: %s\n", bold("%s", st.Schedule.NextRuns[0].Local().Format(time.DateTime)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func calibrationPhaseText(p calibration.Phase) string {
	switch p {
	case calibration.PhaseReady:
		return color.New(color.Bold, color.FgYellow).Sprint(p)
	case calibration.PhaseSaved:
		return color.New(color.Bold, color.FgGreen).Sprint(p)
	default:
		return bold("%s", p)
	}
}

func experimentPhaseText(p experiment.Phase) string {
	switch p {
	case experiment.PhaseRunning, experiment.PhaseHoming:
		return color.New(color.Bold, color.FgGreen).Sprint(p)
	case experiment.PhasePaused:
		return color.New(color.Bold, color.FgYellow).Sprint(p)
	case experiment.PhaseError:
		return color.New(color.Bold, color.FgRed).Sprint(p)
	default:
		return bold("%s", p)
	}
}

func printExperimentStatus(cmd *cobra.Command, st *experiment.Status) {
	cmd.Printf("  Phase: %s\n", experimentPhaseText(st.Phase))
	if st.RunID == "" {
		return
	}
	cmd.Printf("  Run: %s (%s)\n", st.RunID, st.Experiment)
	cmd.Printf("  Calibration: %s\n", st.Calibration)
	if st.Phase.Active() {
		well := st.CurrentWell
		if well == "" {
			well = "-"
		}
		cmd.Printf("  Well: %s (%d/%d)\n", bold("%s", well), st.Index, st.Total)
		cmd.Printf("  Elapsed: %s  Remaining: %s\n", st.Elapsed, bold("%s", st.Remaining))
	}
	if st.OutputFolder != "" {
		cmd.Printf("  Output: %s\n", st.OutputFolder)
	}
	if st.Message != "" {
		cmd.Printf("  Message: %s\n", st.Message)
	}
}
