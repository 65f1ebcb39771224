package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/events"
	"github.com/robocam-suite/robocam/pkg/experiment"
)

var errWatchDone = errors.New("experiment finished")

func NewExperimentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Run experiments over calibrated plates",
		GroupID: gExperiment,
		Long: `Run an experiment: the stage homes, then visits the selected wells of a
saved calibration and runs the action phases at each of them.

In video mode the phases switch the laser for the given number of seconds
while the camera records one video per well. In image mode the phases can
also wait (DELAY) and take pictures (CAPTURE IMAGE).`,
	}

	cmd.AddCommand(
		newExperimentStartCommand(),
		newExperimentExportCommand(),
		newExperimentConvertCommand(),
		newExperimentControlCommand("pause", "Pause the experiment at the next step", func() (*experiment.Status, error) {
			return apiClient.PauseExperiment()
		}),
		newExperimentControlCommand("resume", "Resume a paused experiment", func() (*experiment.Status, error) {
			return apiClient.ResumeExperiment()
		}),
		newExperimentControlCommand("stop", "Stop the experiment and switch the laser off", func() (*experiment.Status, error) {
			return apiClient.StopExperiment()
		}),
		newExperimentStatusCommand(),
		newExperimentWatchCommand(),
	)
	return cmd
}

func newExperimentStartCommand() *cobra.Command {
	var f settingsFlags
	watch := false

	cmd := &cobra.Command{
		Use:   "start [settings.json]",
		Short: "Start an experiment from a settings file or flags",
		Example: `  robocam experiment start 20250314_100000_exp_profile.json
  robocam experiment start --calibration 20250314_092653_plate96.json -w A1,A2,B1 \
      -p "GPIO OFF:5" -p "GPIO ON:30" -p "GPIO OFF:5" --name stim`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s experiment.Settings
			var err error
			if len(args) == 1 {
				s, err = experiment.LoadSettings(args[0])
			} else {
				s, err = f.settings()
			}
			if err != nil {
				return err
			}

			resp, err := apiClient.StartExperiment(s)
			if err != nil {
				return err
			}
			cmd.Printf("Experiment started: run %s\n", bold("%s", resp.RunID))
			cmd.Printf("  Wells (%d): %s\n", len(resp.Wells), strings.Join(resp.Wells, " "))
			cmd.Printf("  Estimated duration: %s\n", bold("%s", resp.Estimate))
			cmd.Printf("  Output: %s\n", resp.OutputFolder)

			if watch {
				return watchExperiment(cmd)
			}
			return nil
		},
	}

	f.bind(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "follow progress until the experiment finishes")
	return cmd
}

func newExperimentExportCommand() *cobra.Command {
	var f settingsFlags

	cmd := &cobra.Command{
		Use:         "export-settings <path>",
		Short:       "Write experiment settings to a file for later or scheduled runs",
		Annotations: offlineAnnotation,
		Long: `Write experiment settings to a file. When path is a directory the file is
named after the experiment and the current time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := f.settings()
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}

			path := args[0]
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				path = filepath.Join(path, experiment.SettingsFileName(s.ExperimentName, time.Now()))
			}
			if err := experiment.SaveSettings(path, s); err != nil {
				return err
			}
			logrus.Infof("settings written to %s", path)
			return nil
		},
	}

	f.bind(cmd)
	return cmd
}

func newExperimentConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "convert <folder>",
		Short:       "Convert the H264 recordings in an output folder to MP4",
		Annotations: offlineAnnotation,
		Long: `Remux every .h264 recording in folder into an .mp4 file next to it with
ffmpeg. The raw recordings are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			converted, total, err := experiment.ConvertFolder(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%d of %d recordings converted\n", converted, total)
			if converted < total {
				return fmt.Errorf("%d recordings failed to convert", total-converted)
			}
			return nil
		},
	}
}

func newExperimentControlCommand(use, short string, fn func() (*experiment.Status, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := fn()
			if err != nil {
				return fmt.Errorf("failed to %s experiment: %w", use, err)
			}
			printExperimentStatus(cmd, st)
			return nil
		},
	}
}

func newExperimentStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show experiment progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetExperiment()
			if err != nil {
				return err
			}
			printExperimentStatus(cmd, st)
			return nil
		},
	}
}

func newExperimentWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow experiment progress until it finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watchExperiment(cmd)
		},
	}
}

// watchExperiment prints experiment events until the run leaves the active
// phases or the user interrupts.
func watchExperiment(cmd *cobra.Command) error {
	st, err := apiClient.GetExperiment()
	if err != nil {
		return err
	}
	if !st.Phase.Active() {
		printExperimentStatus(cmd, st)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = apiClient.Events(ctx, func(ev events.Event) error {
		return printEvent(cmd, ev)
	})
	if errors.Is(err, errWatchDone) {
		return nil
	}
	return err
}

func printEvent(cmd *cobra.Command, ev events.Event) error {
	ts := time.Now().Format(time.TimeOnly)

	switch ev.Name {
	case events.ExperimentPhase:
		p, err := events.DecodeAs[events.ExperimentPhaseEvent](ev)
		if err != nil {
			return err
		}
		cmd.Printf("%s  %s -> %s", ts, p.From, experimentPhaseText(experiment.Phase(p.To)))
		if p.Message != "" {
			cmd.Printf(": %s", p.Message)
		}
		cmd.Println()
		if !experiment.Phase(p.To).Active() {
			return errWatchDone
		}
	case events.ExperimentWell:
		w, err := events.DecodeAs[events.ExperimentWellEvent](ev)
		if err != nil {
			return err
		}
		cmd.Printf("%s  well %s (%d/%d) at (%.3f, %.3f, %.3f)\n", ts, bold("%s", w.Label), w.Index, w.Total, w.X, w.Y, w.Z)
	case events.ExperimentAction, events.ScheduleAction:
		a, err := events.DecodeAs[events.ActionEvent](ev)
		if err != nil {
			return err
		}
		cmd.Printf("%s  %s: %s\n", ts, a.Action, a.Message)
	default:
		logrus.Debugf("ignoring event %s", ev.Name)
	}
	return nil
}
