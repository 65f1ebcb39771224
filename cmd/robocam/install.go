package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robocam-suite/robocam/pkg/client"
	"github.com/robocam-suite/robocam/pkg/config"
	daemonutils "github.com/robocam-suite/robocam/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install robocam (system-wide)",
		GroupID:     gInstallation,
		Annotations: offlineAnnotation,
		Long: `Install robocam daemon as a systemd service (system-wide).

This makes robocam run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the robocam daemon for security reasons. If you want to allow non-root users, i.e., you, to access the daemon, you can use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the robocam daemon.")
			} else {
				logrus.Info("only root user is allowed to access the robocam daemon.")
			}

			// Save first so the service starts with it.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("`systemd' will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``robocam install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access robocam daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	keepLaser := false

	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall robocam (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall robocam daemon from systemd (system-wide).

This stops any running experiment, switches the laser off, stops robocam and removes the systemd unit.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !keepLaser {
				if st, err := apiClient.GetExperiment(); err == nil && st.Phase.Active() {
					if _, err := apiClient.StopExperiment(); err != nil {
						logrus.Warnf("failed to stop experiment: %v", err)
					}
				}
				if _, err := apiClient.SetLaser(false); err != nil && !isDaemonDown(err) {
					logrus.Warnf("failed to switch laser off: %v", err)
				}
			}

			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, and calibrations, outputs and run history are kept where it points, in case you want to use `robocam' again.\n", configPath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&keepLaser, "no-reset", false, "Do not stop experiments or switch the laser off before uninstalling.")

	return cmd
}

func isDaemonDown(err error) bool {
	return pkgerrors.Is(err, client.ErrDaemonNotRunning)
}
