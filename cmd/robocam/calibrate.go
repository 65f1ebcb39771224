package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/calibration"
	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

func NewCalibrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"calibration", "cal"},
		Short:   "Calibrate a plate",
		GroupID: gCalibration,
		Long: `Calibrate a plate by setting its size and the positions of its four corner
wells. Move the stage over each corner well and record it, or pass the
position directly. Once every input is set the well positions are
interpolated and can be saved under a name for experiments.`,
		Example: `  robocam calibrate grid 12 8
  robocam move 10,140,120 && robocam calibrate corner upper_left
  robocam calibrate corner lower-left 10,77,120
  robocam calibrate save plate96`,
	}

	gridCmd := &cobra.Command{
		Use:   "grid <columns> <rows>",
		Short: "Set the plate size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			columns, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid columns: %v", err)
			}
			rows, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rows: %v", err)
			}
			st, err := apiClient.SetCalibrationGrid(columns, rows)
			if err != nil {
				return err
			}
			printCalibrationStatus(cmd, st)
			return nil
		},
	}

	cornerCmd := &cobra.Command{
		Use:   "corner <name> [x,y,z]",
		Short: "Record a corner well, at the current stage position by default",
		Long: `Record a corner well. Corner names are upper_left (A1), lower_left,
upper_right and lower_right; dashes work too. Without a position the current
stage position is recorded.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *wellgrid.Point
			if len(args) == 2 {
				pt, err := parsePoint(args[1])
				if err != nil {
					return err
				}
				p = &pt
			}
			st, err := apiClient.SetCorner(calibration.Corner(args[0]), p)
			if err != nil {
				return err
			}
			printCalibrationStatus(cmd, st)
			return nil
		},
	}

	showWells := false
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the calibration in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibration()
			if err != nil {
				return err
			}
			printCalibrationStatus(cmd, st)
			if !showWells {
				return nil
			}
			wells, err := apiClient.GetCalibrationGrid()
			if err != nil {
				return err
			}
			cmd.Println()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WELL\tX\tY\tZ")
			for _, w := range wells {
				fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\n", w.Label, w.Position.X, w.Position.Y, w.Position.Z)
			}
			return tw.Flush()
		},
	}
	statusCmd.Flags().BoolVar(&showWells, "wells", false, "also print interpolated well positions")

	saveCmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the calibration under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := apiClient.SaveCalibration(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Calibration saved as %s (%d wells).\n", bold("%s", resp.File), resp.Wells)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the calibration in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.ResetCalibration(); err != nil {
				return err
			}
			cmd.Println("Calibration reset.")
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved calibrations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := apiClient.ListCalibrations()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				cmd.Println("No saved calibrations.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tNAME\tGRID\tSAVED")
			for _, fi := range infos {
				saved := "-"
				if !fi.SavedAt.IsZero() {
					saved = fi.SavedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%s\n", fi.File, fi.Name, fi.Columns, fi.Rows, saved)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(gridCmd, cornerCmd, statusCmd, saveCmd, resetCmd, listCmd)
	return cmd
}

func printCalibrationStatus(cmd *cobra.Command, st *calibration.Status) {
	cmd.Printf("Phase: %s\n", calibrationPhaseText(st.Phase))
	if st.Columns > 0 {
		cmd.Printf("Grid: %s\n", bold("%d columns x %d rows", st.Columns, st.Rows))
	} else {
		cmd.Println("Grid: not set")
	}
	for _, c := range calibration.Corners {
		if p, ok := st.Corners[c]; ok {
			cmd.Printf("  %-12s %s %s\n", c, bool2Text(true), p)
		} else {
			cmd.Printf("  %-12s %s\n", c, bool2Text(false))
		}
	}
	if st.SavedFile != "" {
		cmd.Printf("Saved as: %s\n", st.SavedFile)
	}
	if st.Message != "" {
		cmd.Printf("Message: %s\n", st.Message)
	}
}
