package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robocam-suite/robocam/pkg/hardware"
)

type Config interface {
	CalibrationDir() string
	OutputDir() string
	ExperimentDir() string
	HistoryDB() string
	StageLimits() hardware.Limits
	LaserDefaultOn() bool
	CameraKind() hardware.CameraKind
	PreRecordingDelay() time.Duration
	AllowNonRootAccess() bool
	// MotionProfile returns the named motion profile. An empty name selects
	// the default profile.
	MotionProfile(name string) (MotionProfile, bool)
	MotionProfileNames() []string
	Cron() string
	ScheduledSettings() string

	SetCalibrationDir(string)
	SetOutputDir(string)
	SetLaserDefaultOn(bool)
	SetAllowNonRootAccess(bool)
	SetMotionProfile(name string, p MotionProfile)
	SetCron(string)
	SetScheduledSettings(string)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}

// Motion holds the feedrate (mm/min) and acceleration (mm/s²) for one kind
// of move.
type Motion struct {
	Feedrate     float64 `json:"feedrate"`
	Acceleration float64 `json:"acceleration"`
}

// MotionProfile is applied during an experiment: Preliminary while homing and
// moving to the first well, BetweenWells for every following move.
type MotionProfile struct {
	Preliminary  Motion `json:"preliminary"`
	BetweenWells Motion `json:"between_wells"`
}
