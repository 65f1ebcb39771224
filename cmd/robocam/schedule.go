package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sche", "sched"},
		Short:   "Manage the automatic experiment schedule",
		Long: `Manage the automatic experiment schedule.

Scheduled runs start the experiment described by a settings file, as written
by 'robocam experiment export-settings'. A scheduled run waits while another
experiment is in progress and is given up if it does not finish in time.

The schedule command can be used in multiple ways:
  robocam schedule 'minute hour day month weekday' --settings f  Set schedule with cron expression
  robocam schedule disable                                      Disable the schedule
  robocam schedule postpone [duration]                          Postpone next run
  robocam schedule skip                                         Skip next run
  robocam schedule show                                         Show current schedule`,
		Example: `  robocam schedule '0 10 * * 0' --settings exp.json (At 10:00 on Sunday)
  robocam schedule '0 */6 * * *' (Every 6 hours, keeping the current settings file)
  robocam schedule '@daily' --settings exp.json (At midnight every day)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// If no arguments, show the current schedule
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			// Otherwise, treat as a cron expression to set
			return runScheduleSet(cmd, args[0], settingsPath)
		},
	}

	cmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "experiment settings file to run, as seen by the daemon")

	// Add subcommands
	cmd.AddCommand(
		newScheduleDisableCommand(),
		newSchedulePostponeCommand(),
		newScheduleSkipCommand(),
		newScheduleShowCommand(),
	)

	return cmd
}

func newScheduleDisableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the experiment schedule",
		Long:  "Disable the automatic experiment schedule.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleDisable(cmd)
		},
	}
	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled experiment",
		Example: `  robocam schedule postpone      (Postpone by 1 hour)
  robocam schedule postpone 90m  (Postpone by 90 minutes)
  robocam schedule postpone 2h   (Postpone by 2 hours)`,
		Long: `Postpone the next scheduled experiment by a specified duration.
If no duration is provided, defaults to 1 hour. The postponed run must still
come before the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour // default
			if duration != 0 {
				d = duration
			}
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "Duration to postpone (e.g., 1h, 90m)")
	return cmd
}

func newScheduleSkipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the next scheduled experiment",
		Long:  "Skip the next scheduled experiment.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSkip(cmd)
		},
	}
	return cmd
}

func newScheduleShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current experiment schedule",
		Long:  "Show the current experiment schedule and next run times.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleShow(cmd)
		},
	}
	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr, settingsPath string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if settingsPath != "" {
		abs, err := filepath.Abs(settingsPath)
		if err != nil {
			return err
		}
		settingsPath = abs
	}
	st, err := apiClient.SetSchedule(types.ScheduleRequest{Cron: cronExpr, Settings: settingsPath})
	if err != nil {
		return err
	}
	if len(st.NextRuns) == 0 {
		cmd.Println("Experiment schedule disabled.")
		return nil
	}
	cmd.Printf("Experiment %s scheduled. Next %d run(s):\n", st.Settings, len(st.NextRuns))
	printNextRuns(cmd, st)
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.SetSchedule(types.ScheduleRequest{}); err != nil {
		return err
	}
	cmd.Println("Experiment schedule disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, duration time.Duration) error {
	st, err := apiClient.PostponeSchedule(duration)
	if err != nil {
		return err
	}
	cmd.Printf("Next run postponed by %s.\n", duration)
	printNextRuns(cmd, st)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	st, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Println("Next scheduled run skipped.")
	printNextRuns(cmd, st)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	if !st.Enabled {
		cmd.Println("Experiment schedule is not set.")
		return nil
	}
	cmd.Printf("Schedule: %s\n", bold("%s", st.Cron))
	cmd.Printf("Settings: %s\n", st.Settings)
	cmd.Printf("Next %d run(s):\n", len(st.NextRuns))
	printNextRuns(cmd, st)
	return nil
}

func printNextRuns(cmd *cobra.Command, st *types.ScheduleStatus) {
	for _, run := range st.NextRuns {
		cmd.Printf("  - %s\n", run.Local().Format(time.DateTime))
	}
}
