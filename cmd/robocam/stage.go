package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/types"
)

func NewHomeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "home",
		Short:   "Home the stage",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			pos, err := apiClient.Home()
			if err != nil {
				return fmt.Errorf("failed to home stage: %w", err)
			}
			logrus.Infof("stage homed at %s", pos)
			return nil
		},
	}
}

func NewMoveCommand() *cobra.Command {
	var (
		relative bool
		feedrate float64
	)

	cmd := &cobra.Command{
		Use:     "move x,y,z",
		Short:   "Move the stage",
		GroupID: gBasic,
		Long: `Move the stage to an absolute position, or by an offset with --relative.

The target must be inside the stage limits from the daemon config. Moves are
rejected while an experiment is running.`,
		Example: `  robocam move 100,110,120
  robocam move --relative 0,0,-0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := parsePoint(args[0])
			if err != nil {
				return err
			}
			target, err := apiClient.Move(types.MoveRequest{
				Point:    p,
				Feedrate: feedrate,
				Relative: relative,
			})
			if err != nil {
				return fmt.Errorf("failed to move stage: %w", err)
			}
			logrus.Infof("stage moved to %s", target)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&relative, "relative", "r", false, "move by an offset from the current position")
	cmd.Flags().Float64Var(&feedrate, "feedrate", 0, "feedrate in mm/min, defaults to the default motion profile")

	return cmd
}

func NewLaserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "laser",
		Short:   "Switch the laser",
		GroupID: gBasic,
		RunE: func(cmd *cobra.Command, _ []string) error {
			on, err := apiClient.GetLaser()
			if err != nil {
				return err
			}
			cmd.Printf("Laser on: %s\n", bool2Text(on))
			return nil
		},
	}

	set := func(on bool) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.SetLaser(on); err != nil {
				return fmt.Errorf("failed to switch laser: %w", err)
			}
			logrus.Infof("laser switched %s", map[bool]string{true: "on", false: "off"}[on])
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Switch the laser on",
			Args:  cobra.NoArgs,
			RunE:  set(true),
		},
		&cobra.Command{
			Use:   "off",
			Short: "Switch the laser off",
			Args:  cobra.NoArgs,
			RunE:  set(false),
		},
	)

	return cmd
}
